// Package archive is the entry point to the object stores holding monthly
// snapshots, history dumps and redirect files. Other packages depend on the
// Store interface here and never import the infra backends directly.
package archive

import (
	"context"
	"fmt"

	"recordhistory/internal/archive/core"
	fsstore "recordhistory/internal/infra/archive/fs"
	memorystore "recordhistory/internal/infra/archive/memory"
	s3store "recordhistory/internal/infra/archive/s3"
)

type (
	// Driver identifies an archive backend.
	Driver = core.Driver
	// PutOptions configures a write.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is the archive contract.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrExists is returned when writing to a key that is taken.
	ErrExists = core.ErrExists
	// ErrNotFound is returned when reading a missing key.
	ErrNotFound = core.ErrNotFound
)

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the configured backend. The filesystem driver is the
// default.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory store for tests.
func NewMemory() Store { return memorystore.New() }
