package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"recordhistory/internal/history"
	"recordhistory/internal/persistence/core"
)

var _ core.Repository = (*Store)(nil)

const (
	recordPrefix = "hist/"
	periodPrefix = "period/"
)

// periodMarker is stored under period/<period> after a complete save.
type periodMarker struct {
	Records int       `msgpack:"records"`
	SavedAt time.Time `msgpack:"saved_at"`
}

// Store implements core.Repository on BadgerDB.
type Store struct {
	db   *badger.DB
	opts history.Options
}

// Open opens the database described by cfg.
func Open(cfg Config, opts history.Options) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, opts: opts}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverBadger }

func (s *Store) Close() error { return s.db.Close() }

func periodKey(p history.Period) []byte { return []byte(periodPrefix + p.String()) }

func recordsPrefix(p history.Period) []byte { return []byte(recordPrefix + p.String() + "/") }

func recordKey(p history.Period, id history.RecordID) []byte {
	return []byte(recordPrefix + p.String() + "/" + id.String())
}

// Save writes every record through one WriteBatch, then the period marker.
// A save interrupted before the marker leaves the period absent; its stray
// records are cleared by the next save of that period.
func (s *Store) Save(ctx context.Context, period history.Period, hs *history.Store) error {
	exists, err := s.Exists(ctx, period)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("save %s: %w", period, core.ErrExists)
	}
	if err := s.db.DropPrefix(recordsPrefix(period)); err != nil {
		return fmt.Errorf("clear partial %s: %w", period, err)
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	n := 0
	err = hs.ForEach(func(rec *history.RecordHistory) error {
		n++
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		val, err := msgpack.Marshal(history.ToPersisted(rec))
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		return wb.Set(recordKey(period, rec.ID), val)
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", period, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", period, err)
	}
	marker, err := msgpack.Marshal(periodMarker{Records: hs.Len(), SavedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(periodKey(period), marker)
	})
}

// Load hydrates the store saved for period.
func (s *Store) Load(ctx context.Context, period history.Period) (*history.Store, error) {
	exists, err := s.Exists(ctx, period)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("load %s: %w", period, core.ErrNotFound)
	}
	hs := history.NewStore(s.opts)
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := recordsPrefix(period)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()
		n := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			var p history.PersistedRecord
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &p)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			rec, err := p.Record()
			if err != nil {
				return err
			}
			hs.AddRecord(rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", period, err)
	}
	return hs, nil
}

// Exists reports whether the period marker is present.
func (s *Store) Exists(ctx context.Context, period history.Period) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(periodKey(period))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", period, err)
	}
	return true, nil
}

// Periods lists the periods with a marker in ascending order.
func (s *Store) Periods(ctx context.Context) ([]history.Period, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []history.Period
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(periodPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			p, err := history.ParsePeriod(string(bytes.TrimPrefix(it.Item().Key(), prefix)))
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return out, nil
}
