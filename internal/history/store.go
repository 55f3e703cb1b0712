package history

import (
	"log/slog"
	"runtime"
	"slices"
)

const defaultProgressEvery = 2_000_000

// Options configures a Store.
type Options struct {
	// Logger receives malformed-row warnings, ownership conflicts and
	// progress lines. Nil discards.
	Logger *slog.Logger
	// Workers is the number of shards used by ComputeCurrent. Zero means
	// GOMAXPROCS.
	Workers int
	// ProgressEvery logs a progress line after this many snapshot rows.
	// Zero means every two million rows; negative disables progress lines.
	ProgressEvery int
}

// Store maps record ids to their histories and tracks the newest period
// ingested. It is not safe for concurrent mutation.
type Store struct {
	records    map[RecordID]*RecordHistory
	newestLoad Period

	logger        *slog.Logger
	workers       int
	progressEvery int
	maxLine       int

	// derived by ComputeCurrent; reset on every mutation
	currentOwner map[ItemID]RecordID
	asOf         Period
	computed     bool
}

// NewStore returns an empty store.
func NewStore(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	every := opts.ProgressEvery
	if every == 0 {
		every = defaultProgressEvery
	}
	return &Store{
		records:       make(map[RecordID]*RecordHistory),
		logger:        logger,
		workers:       workers,
		progressEvery: every,
		maxLine:       maxLineBytes,
	}
}

// NewestLoad returns the newest period seen across all records.
func (s *Store) NewestLoad() Period { return s.newestLoad }

// Len returns the number of record histories.
func (s *Store) Len() int { return len(s.records) }

// Record returns the history for id.
func (s *Store) Record(id RecordID) (*RecordHistory, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// RecordIDs returns every record id in ascending order.
func (s *Store) RecordIDs() []RecordID {
	ids := make([]RecordID, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ForEach calls fn for every record in ascending id order, stopping at the
// first error.
func (s *Store) ForEach(fn func(*RecordHistory) error) error {
	for _, id := range s.RecordIDs() {
		if err := fn(s.records[id]); err != nil {
			return err
		}
	}
	return nil
}

// See records a single sighting of item under record in period.
func (s *Store) See(item ItemID, record RecordID, period Period) {
	s.see(item, record, period)
	s.invalidate()
}

// AddRecord installs a fully built history, replacing any existing history
// with the same id. Used when hydrating from persisted state.
func (s *Store) AddRecord(rec *RecordHistory) {
	rec.clearCurrent()
	s.records[rec.ID] = rec
	if rec.MostRecentlySeen > s.newestLoad {
		s.newestLoad = rec.MostRecentlySeen
	}
	s.invalidate()
}

func (s *Store) see(item ItemID, record RecordID, period Period) {
	rec, ok := s.records[record]
	if !ok {
		rec = NewRecordHistory(record)
		s.records[record] = rec
	}
	rec.See(item, period)
	if period > s.newestLoad {
		s.newestLoad = period
	}
}

func (s *Store) invalidate() {
	s.currentOwner = nil
	s.asOf = 0
	s.computed = false
}
