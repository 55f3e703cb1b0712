// Package sqlite keeps saved history state in a local SQLite database, one
// row per record per period.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"recordhistory/internal/history"
	"recordhistory/internal/persistence/core"
)

const defaultPath = "recordhistory.db"

var _ core.Repository = (*Store)(nil)

// Store implements core.Repository on SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	opts history.Options
}

// New opens (creating if needed) the database at path and ensures the schema.
func New(ctx context.Context, path string, opts history.Options) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, opts: opts}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history_period (
			period INTEGER PRIMARY KEY,
			records INTEGER NOT NULL,
			saved_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS record_history (
			period INTEGER NOT NULL,
			record_id INTEGER NOT NULL,
			most_recently_seen INTEGER NOT NULL,
			entries BLOB NOT NULL,
			PRIMARY KEY (period, record_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Driver() core.Driver { return core.DriverSQLite }

// Save writes every record of hs for period in a single transaction.
func (s *Store) Save(ctx context.Context, period history.Period, hs *history.Store) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	exists, err := periodExists(ctx, tx, period)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("save %s: %w", period, core.ErrExists)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO history_period(period,records,saved_at) VALUES(?,?,?)`,
		int64(period), hs.Len(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert period %s: %w", period, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO record_history(period,record_id,most_recently_seen,entries) VALUES(?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	err = hs.ForEach(func(rec *history.RecordHistory) error {
		p := history.ToPersisted(rec)
		data, err := p.MarshalEntries()
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, int64(period), int64(p.RecordID), int64(p.MostRecentlySeen), data); err != nil {
			return fmt.Errorf("insert record %s: %w", p.RecordID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", period, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load hydrates the store saved for period.
func (s *Store) Load(ctx context.Context, period history.Period) (*history.Store, error) {
	exists, err := periodExists(ctx, s.db, period)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("load %s: %w", period, core.ErrNotFound)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT record_id, most_recently_seen, entries FROM record_history WHERE period = ? ORDER BY record_id`, int64(period))
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	hs := history.NewStore(s.opts)
	for rows.Next() {
		var (
			id, mrs int64
			payload []byte
		)
		if err := rows.Scan(&id, &mrs, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		rec, err := decodeRecord(id, mrs, payload)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", period, err)
		}
		hs.AddRecord(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return hs, nil
}

// Exists reports whether period was saved.
func (s *Store) Exists(ctx context.Context, period history.Period) (bool, error) {
	return periodExists(ctx, s.db, period)
}

// Periods lists saved periods in ascending order.
func (s *Store) Periods(ctx context.Context) ([]history.Period, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT period FROM history_period ORDER BY period`)
	if err != nil {
		return nil, fmt.Errorf("select periods: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []history.Period
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, history.Period(p))
	}
	return out, rows.Err()
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func periodExists(ctx context.Context, q queryer, period history.Period) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT period FROM history_period WHERE period = ?`, int64(period))
	if err != nil {
		return false, fmt.Errorf("select period: %w", err)
	}
	defer func() { _ = rows.Close() }()
	found := rows.Next()
	return found, rows.Err()
}

func decodeRecord(id, mrs int64, payload []byte) (*history.RecordHistory, error) {
	p := history.PersistedRecord{RecordID: history.RecordID(id), MostRecentlySeen: history.Period(mrs)}
	if err := json.Unmarshal(payload, &p.Entries); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", p.RecordID, err)
	}
	return p.Record()
}
