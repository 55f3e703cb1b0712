// Package persistence selects the repository that holds saved history state.
// Callers depend on the Repository interface here, never on a backend.
package persistence

import (
	"context"
	"fmt"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
	badgerrepo "recordhistory/internal/infra/persistence/badger"
	"recordhistory/internal/infra/persistence/memory"
	"recordhistory/internal/infra/persistence/ndjson"
	"recordhistory/internal/infra/persistence/postgres"
	"recordhistory/internal/infra/persistence/sqlite"
	"recordhistory/internal/persistence/core"
)

type (
	// Driver identifies a repository backend.
	Driver = core.Driver
	// Repository is the state repository contract.
	Repository = core.Repository
)

const (
	DriverArchive  = core.DriverArchive
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
	DriverBadger   = core.DriverBadger
	DriverMemory   = core.DriverMemory
)

var (
	// ErrExists is returned when saving a period twice.
	ErrExists = core.ErrExists
	// ErrNotFound is returned when loading a period that was never saved.
	ErrNotFound = core.ErrNotFound
)

// Config selects and configures a backend.
type Config struct {
	Driver         Driver
	SQLitePath     string
	PostgresDSN    string
	BadgerPath     string
	BadgerInMemory bool
	// Store configures the history stores handed out by Load.
	Store history.Options
}

// Open constructs the configured repository. The archive driver, which keeps
// state as dumps next to the snapshots, is the default and needs store.
func Open(ctx context.Context, cfg Config, store archive.Store, layout archive.Layout) (Repository, error) {
	switch cfg.Driver {
	case "", DriverArchive:
		if store == nil {
			return nil, fmt.Errorf("archive repository requires an archive store")
		}
		return ndjson.New(store, layout, cfg.Store), nil
	case DriverSQLite:
		return sqlite.New(ctx, cfg.SQLitePath, cfg.Store)
	case DriverPostgres:
		return postgres.New(ctx, cfg.PostgresDSN, cfg.Store)
	case DriverBadger:
		bc := badgerrepo.DefaultConfig()
		bc.Path = cfg.BadgerPath
		bc.InMemory = cfg.BadgerInMemory
		bc.Logger = cfg.Store.Logger
		return badgerrepo.Open(bc, cfg.Store)
	case DriverMemory:
		return memory.New(cfg.Store), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
