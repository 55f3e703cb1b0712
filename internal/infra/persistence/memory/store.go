// Package memory provides an in-memory repository used for tests and dry
// runs. Saved state is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"recordhistory/internal/history"
	"recordhistory/internal/persistence/core"
)

// Compile-time contract assertion.
var _ core.Repository = (*Repository)(nil)

// Snapshot is the saved state of one period.
type Snapshot struct {
	Period  history.Period
	Records []history.PersistedRecord
}

// Repository keeps one snapshot per period behind a mutex. Snapshots are
// cloned on the way in and out so callers never share state with it.
type Repository struct {
	mu     sync.RWMutex
	saved  map[history.Period][]history.PersistedRecord
	opts   history.Options
	closed bool
}

// New returns an empty repository. opts configures the stores handed out by
// Load.
func New(opts history.Options) *Repository {
	return &Repository{saved: make(map[history.Period][]history.PersistedRecord), opts: opts}
}

func (r *Repository) Driver() core.Driver { return core.DriverMemory }

// Load rebuilds the store saved for period.
func (r *Repository) Load(ctx context.Context, period history.Period) (*history.Store, error) {
	r.mu.RLock()
	records, ok := r.saved[period]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", period, core.ErrNotFound)
	}
	s := history.NewStore(r.opts)
	for _, p := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := p.Record()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", period, err)
		}
		s.AddRecord(rec)
	}
	return s, nil
}

// Save stores a copy of s for period.
func (r *Repository) Save(ctx context.Context, period history.Period, s *history.Store) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := s.Persisted()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("save %s: repository closed", period)
	}
	if _, ok := r.saved[period]; ok {
		return fmt.Errorf("save %s: %w", period, core.ErrExists)
	}
	r.saved[period] = records
	return nil
}

func (r *Repository) Exists(_ context.Context, period history.Period) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.saved[period]
	return ok, nil
}

func (r *Repository) Periods(context.Context) ([]history.Period, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.saved)), nil
}

// ExportState clones every saved snapshot in period order.
func (r *Repository) ExportState() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.saved))
	for _, p := range slices.Sorted(maps.Keys(r.saved)) {
		out = append(out, Snapshot{Period: p, Records: cloneRecords(r.saved[p])})
	}
	return out
}

// ImportState replaces the saved state with the provided snapshots.
func (r *Repository) ImportState(snapshots []Snapshot) {
	saved := make(map[history.Period][]history.PersistedRecord, len(snapshots))
	for _, s := range snapshots {
		saved[s.Period] = cloneRecords(s.Records)
	}
	r.mu.Lock()
	r.saved = saved
	r.mu.Unlock()
}

// Close rejects later saves. Saved state stays readable.
func (r *Repository) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func cloneRecords(in []history.PersistedRecord) []history.PersistedRecord {
	out := make([]history.PersistedRecord, len(in))
	for i, p := range in {
		out[i] = history.PersistedRecord{
			RecordID:         p.RecordID,
			MostRecentlySeen: p.MostRecentlySeen,
			Entries:          maps.Clone(p.Entries),
		}
	}
	return out
}
