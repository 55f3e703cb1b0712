// Package postgres keeps saved history state in Postgres, one row per record
// per period with the item entries as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"recordhistory/internal/history"
	"recordhistory/internal/persistence/core"
)

var _ core.Repository = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/recordhistory?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS history_period (
		period INTEGER PRIMARY KEY,
		records BIGINT NOT NULL,
		saved_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS record_history (
		period INTEGER NOT NULL REFERENCES history_period(period),
		record_id BIGINT NOT NULL,
		most_recently_seen INTEGER NOT NULL,
		entries JSONB NOT NULL,
		PRIMARY KEY (period, record_id)
	)`,
}

// Store implements core.Repository on Postgres.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	opts history.Options
}

// New opens a Postgres-backed repository using dsn (falls back to defaultDSN)
// and ensures the schema exists.
func New(ctx context.Context, dsn string, opts history.Options) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return &Store{db: db, opts: opts}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverPostgres }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Save writes the period marker and every record of hs in one transaction.
func (s *Store) Save(ctx context.Context, period history.Period, hs *history.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
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
	if _, err := tx.ExecContext(ctx, `INSERT INTO history_period(period,records,saved_at) VALUES($1,$2,$3)`,
		int64(period), int64(hs.Len()), time.Now().UTC()); err != nil {
		return fmt.Errorf("insert period %s: %w", period, err)
	}
	err = hs.ForEach(func(rec *history.RecordHistory) error {
		p := history.ToPersisted(rec)
		data, err := p.MarshalEntries()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO record_history(period,record_id,most_recently_seen,entries) VALUES($1,$2,$3,$4)`,
			int64(period), int64(p.RecordID), int64(p.MostRecentlySeen), string(data)); err != nil {
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
	committed = true
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
	rows, err := s.db.QueryContext(ctx, `SELECT record_id, most_recently_seen, entries FROM record_history WHERE period = $1 ORDER BY record_id`, int64(period))
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
			return nil, fmt.Errorf("scan record: %w", err)
		}
		p := history.PersistedRecord{RecordID: history.RecordID(id), MostRecentlySeen: history.Period(mrs)}
		if err := json.Unmarshal(payload, &p.Entries); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", p.RecordID, err)
		}
		rec, err := p.Record()
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
			return nil, fmt.Errorf("scan period: %w", err)
		}
		out = append(out, history.Period(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate periods: %w", err)
	}
	return out, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func periodExists(ctx context.Context, q queryer, period history.Period) (bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT period FROM history_period WHERE period = $1`, int64(period))
	if err != nil {
		return false, fmt.Errorf("select period: %w", err)
	}
	defer func() { _ = rows.Close() }()
	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate period: %w", err)
	}
	return found, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
