// Package core defines the repository contract for saved history state. A
// repository holds one complete store per period, written once.
package core

import (
	"context"
	"errors"

	"recordhistory/internal/history"
)

// Driver identifies a repository backend.
type Driver string

const (
	// DriverArchive writes gzip NDJSON dumps into the archive store.
	DriverArchive Driver = "archive"
	// DriverSQLite keeps state in a local SQLite database.
	DriverSQLite Driver = "sqlite"
	// DriverPostgres keeps state in Postgres.
	DriverPostgres Driver = "postgres"
	// DriverBadger keeps state in an embedded BadgerDB.
	DriverBadger Driver = "badger"
	// DriverMemory keeps state in process memory. Not accepted by the CLI config.
	DriverMemory Driver = "memory"
)

// Repository loads and saves the history store for a period.
type Repository interface {
	// Load hydrates the store saved for period.
	Load(ctx context.Context, period history.Period) (*history.Store, error)
	// Save writes s as the state for period. Saved periods are never replaced.
	Save(ctx context.Context, period history.Period, s *history.Store) error
	// Exists reports whether state was saved for period.
	Exists(ctx context.Context, period history.Period) (bool, error)
	// Periods lists the saved periods in ascending order.
	Periods(ctx context.Context) ([]history.Period, error)
	Driver() Driver
	Close() error
}

var (
	// ErrExists is returned by Save when the period is already saved.
	ErrExists = errors.New("persistence: period already saved")
	// ErrNotFound is returned by Load when nothing was saved for the period.
	ErrNotFound = errors.New("persistence: period not found")
)
