package history

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// row renders a snapshot line in the full-file layout.
func row(item string, record string) string {
	return fmt.Sprintf("%s\tallow\tpd\t%s\textra\n", item, record)
}

func snapshot(rows ...string) *strings.Reader {
	return strings.NewReader(strings.Join(rows, ""))
}

func ingest(t *testing.T, s *Store, period Period, rows ...string) IngestStats {
	t.Helper()
	stats, err := s.Ingest(context.Background(), snapshot(rows...), period, nil)
	if err != nil {
		t.Fatalf("ingest %s: %v", period, err)
	}
	return stats
}

func derive(t *testing.T, s *Store) []Redirect {
	t.Helper()
	if _, err := s.ComputeCurrent(context.Background(), s.NewestLoad()); err != nil {
		t.Fatalf("compute current: %v", err)
	}
	if _, err := s.PruneDead(PruneOptions{}); err != nil {
		t.Fatalf("prune: %v", err)
	}
	redirects, err := s.Redirects()
	if err != nil {
		t.Fatalf("redirects: %v", err)
	}
	return redirects
}
