package archive

import (
	"fmt"
	"path"
	"strings"

	"recordhistory/internal/history"
)

// Layout names the keys a run reads and writes. The zero value uses the
// default prefixes.
type Layout struct {
	HistoryPrefix   string
	RedirectsPrefix string
	SnapshotPrefix  string
	MovesPrefix     string
	// SnapshotName prefixes monthly snapshot file names, which end in
	// YYYYMM01.txt.gz.
	SnapshotName string
}

// DefaultLayout is the key layout used when none is configured.
var DefaultLayout = Layout{
	HistoryPrefix:   "history/",
	RedirectsPrefix: "redirects/",
	SnapshotPrefix:  "snapshots/",
	MovesPrefix:     "moves/",
	SnapshotName:    "hathi_full_",
}

func (l Layout) withDefaults() Layout {
	if l.HistoryPrefix == "" {
		l.HistoryPrefix = DefaultLayout.HistoryPrefix
	}
	if l.RedirectsPrefix == "" {
		l.RedirectsPrefix = DefaultLayout.RedirectsPrefix
	}
	if l.SnapshotPrefix == "" {
		l.SnapshotPrefix = DefaultLayout.SnapshotPrefix
	}
	if l.MovesPrefix == "" {
		l.MovesPrefix = DefaultLayout.MovesPrefix
	}
	if l.SnapshotName == "" {
		l.SnapshotName = DefaultLayout.SnapshotName
	}
	return l
}

// HistoryDir is the prefix every history dump key starts with.
func (l Layout) HistoryDir() string { return l.withDefaults().HistoryPrefix }

// History is the key of the gzip NDJSON state dump for period.
func (l Layout) History(p history.Period) string {
	return fmt.Sprintf("%s%s.ndj.gz", l.withDefaults().HistoryPrefix, p)
}

// Redirects is the key of the redirect file derived as of period.
func (l Layout) Redirects(p history.Period) string {
	return fmt.Sprintf("%sredirects_%s.txt", l.withDefaults().RedirectsPrefix, p)
}

// Moves is the key of the moved-item report for period.
func (l Layout) Moves(p history.Period) string {
	return fmt.Sprintf("%smoves_%s.txt", l.withDefaults().MovesPrefix, p)
}

// Missing is the key of the report of items absent from the newest load of
// period. It shares the moves prefix.
func (l Layout) Missing(p history.Period) string {
	return fmt.Sprintf("%smissing_%s.txt", l.withDefaults().MovesPrefix, p)
}

// Snapshot resolves a snapshot name to its key. Names that already carry the
// snapshot prefix are returned unchanged.
func (l Layout) Snapshot(name string) string {
	prefix := l.withDefaults().SnapshotPrefix
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + path.Base(name)
}

// MonthlySnapshot is the key of the full snapshot published for period.
func (l Layout) MonthlySnapshot(p history.Period) string {
	l = l.withDefaults()
	return fmt.Sprintf("%s%s%s01.txt.gz", l.SnapshotPrefix, l.SnapshotName, p)
}

// HistoryPeriod parses the period out of a history key, reporting false for
// keys that are not history dumps.
func (l Layout) HistoryPeriod(key string) (history.Period, bool) {
	prefix := l.withDefaults().HistoryPrefix
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".ndj.gz") {
		return 0, false
	}
	p, err := history.ParsePeriod(strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".ndj.gz"))
	if err != nil {
		return 0, false
	}
	return p, true
}
