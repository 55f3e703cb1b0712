// Package ndjson keeps saved state as gzip compressed NDJSON dumps in the
// archive, one object per period.
package ndjson

import (
	"context"
	"errors"
	"fmt"
	"io"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
	"recordhistory/internal/persistence/core"
)

// Repository implements core.Repository on an archive store.
type Repository struct {
	store  archive.Store
	layout archive.Layout
	opts   history.Options
}

var _ core.Repository = (*Repository)(nil)

// New returns a repository writing dumps into store under layout.
func New(store archive.Store, layout archive.Layout, opts history.Options) *Repository {
	return &Repository{store: store, layout: layout, opts: opts}
}

func (r *Repository) Driver() core.Driver { return core.DriverArchive }

// Load reads the dump for period.
func (r *Repository) Load(ctx context.Context, period history.Period) (*history.Store, error) {
	key := r.layout.History(period)
	rc, err := archive.OpenReader(ctx, r.store, key)
	if errors.Is(err, archive.ErrNotFound) {
		return nil, fmt.Errorf("load %s: %w", period, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", period, err)
	}
	defer func() { _ = rc.Close() }()
	s, err := history.Load(ctx, rc, r.opts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return s, nil
}

// Save dumps s for period. The dump is only published once fully written.
func (r *Repository) Save(ctx context.Context, period history.Period, s *history.Store) error {
	key := r.layout.History(period)
	md := map[string]string{"period": period.String(), "records": fmt.Sprint(s.Len())}
	_, err := archive.PutStream(ctx, r.store, key, archive.PutOptions{Metadata: md}, func(w io.Writer) error {
		return history.Dump(ctx, w, s)
	})
	if errors.Is(err, archive.ErrExists) {
		return fmt.Errorf("save %s: %w", period, core.ErrExists)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a dump for period is present.
func (r *Repository) Exists(ctx context.Context, period history.Period) (bool, error) {
	_, err := r.store.Head(ctx, r.layout.History(period))
	if errors.Is(err, archive.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Periods lists the periods with a dump. Unrelated keys under the history
// prefix are ignored.
func (r *Repository) Periods(ctx context.Context) ([]history.Period, error) {
	infos, err := r.store.List(ctx, r.layout.HistoryDir())
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	var out []history.Period
	for _, info := range infos {
		if p, ok := r.layout.HistoryPeriod(info.Key); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Close is a no-op; the archive store outlives the repository.
func (r *Repository) Close() error { return nil }
