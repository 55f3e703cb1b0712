// Package config loads run configuration from an optional YAML file overlaid
// by RECORDHISTORY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
	"recordhistory/internal/persistence"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RECORDHISTORY_"

// Config is the full run configuration.
type Config struct {
	Archive ArchiveConfig `yaml:"archive"`
	Storage StorageConfig `yaml:"storage"`
	Input   InputConfig   `yaml:"input"`
	Compute ComputeConfig `yaml:"compute"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ArchiveConfig selects where snapshots and outputs live.
type ArchiveConfig struct {
	Driver string       `yaml:"driver"`
	FSRoot string       `yaml:"fs_root"`
	S3     S3Config     `yaml:"s3"`
	Layout LayoutConfig `yaml:"layout"`
}

// S3Config configures the S3 archive driver. Credentials come from the
// default AWS chain.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// LayoutConfig overrides archive key prefixes.
type LayoutConfig struct {
	History      string `yaml:"history"`
	Redirects    string `yaml:"redirects"`
	Snapshots    string `yaml:"snapshots"`
	Moves        string `yaml:"moves"`
	SnapshotName string `yaml:"snapshot_name"`
}

// StorageConfig selects the repository for saved state.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	BadgerPath  string `yaml:"badger_path"`
}

// InputConfig describes the monthly snapshot files.
type InputConfig struct {
	ItemColumn   int   `yaml:"item_column"`
	RecordColumn int   `yaml:"record_column"`
	SkipPeriods  []int `yaml:"skip_periods"`
	FirstPeriod  int   `yaml:"first_period"`
}

// ComputeConfig tunes the in-memory passes.
type ComputeConfig struct {
	Workers       int  `yaml:"workers"`
	ProgressEvery int  `yaml:"progress_every"`
	DropEmpty     bool `yaml:"drop_empty"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the metrics textfile written after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Archive: ArchiveConfig{Driver: string(archive.DriverFilesystem), FSRoot: "./archive"},
		Storage: StorageConfig{Driver: string(persistence.DriverArchive)},
		Input: InputConfig{
			ItemColumn:   history.DefaultLineDecoder.ItemColumn,
			RecordColumn: history.DefaultLineDecoder.RecordColumn,
			SkipPeriods:  []int{200812},
			FirstPeriod:  200801,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load returns Default overlaid by the YAML file at path (if non-empty) and
// then by the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays RECORDHISTORY_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	str("ARCHIVE_DRIVER", &c.Archive.Driver)
	str("ARCHIVE_FS_ROOT", &c.Archive.FSRoot)
	str("ARCHIVE_S3_BUCKET", &c.Archive.S3.Bucket)
	str("ARCHIVE_S3_REGION", &c.Archive.S3.Region)
	str("ARCHIVE_S3_PREFIX", &c.Archive.S3.Prefix)
	str("ARCHIVE_S3_ENDPOINT", &c.Archive.S3.Endpoint)
	flag("ARCHIVE_S3_PATH_STYLE", &c.Archive.S3.PathStyle)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("SQLITE_PATH", &c.Storage.SQLitePath)
	str("POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("BADGER_PATH", &c.Storage.BadgerPath)
	num("WORKERS", &c.Compute.Workers)
	flag("DROP_EMPTY", &c.Compute.DropEmpty)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("METRICS_TEXTFILE", &c.Metrics.Textfile)
	return errors.Join(errs...)
}

// Validate reports every invalid setting. The memory drivers are rejected:
// a configured run saves state for the next run, which starts empty with
// them.
func (c Config) Validate() error {
	var errs []error
	switch archive.Driver(c.Archive.Driver) {
	case archive.DriverFilesystem:
	case archive.DriverMemory:
		errs = append(errs, errors.New("archive driver memory keeps nothing between runs; use fs or s3"))
	case archive.DriverS3:
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, errors.New("archive.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown archive driver %q", c.Archive.Driver))
	}
	switch persistence.Driver(c.Storage.Driver) {
	case persistence.DriverArchive, persistence.DriverSQLite, persistence.DriverPostgres:
	case persistence.DriverMemory:
		errs = append(errs, errors.New("storage driver memory keeps nothing between runs"))
	case persistence.DriverBadger:
		if c.Storage.BadgerPath == "" {
			errs = append(errs, errors.New("storage.badger_path is required for the badger driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Input.ItemColumn < 0 || c.Input.RecordColumn < 0 {
		errs = append(errs, errors.New("input columns must be non-negative"))
	}
	if c.Input.ItemColumn == c.Input.RecordColumn {
		errs = append(errs, errors.New("input.item_column and input.record_column must differ"))
	}
	for _, p := range c.Input.SkipPeriods {
		if !history.Period(p).Valid() {
			errs = append(errs, fmt.Errorf("input.skip_periods: invalid period %d", p))
		}
	}
	if c.Input.FirstPeriod != 0 && !history.Period(c.Input.FirstPeriod).Valid() {
		errs = append(errs, fmt.Errorf("input.first_period: invalid period %d", c.Input.FirstPeriod))
	}
	if c.Compute.Workers < 0 {
		errs = append(errs, errors.New("compute.workers must be non-negative"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// ArchiveStore converts to the archive package configuration.
func (c Config) ArchiveStore() archive.Config {
	return archive.Config{
		Driver: archive.Driver(c.Archive.Driver),
		FSRoot: c.Archive.FSRoot,
		S3: archive.S3Config{
			Bucket:    c.Archive.S3.Bucket,
			Region:    c.Archive.S3.Region,
			Prefix:    c.Archive.S3.Prefix,
			Endpoint:  c.Archive.S3.Endpoint,
			PathStyle: c.Archive.S3.PathStyle,
		},
	}
}

// Layout returns the archive key layout.
func (c Config) Layout() archive.Layout {
	l := c.Archive.Layout
	return archive.Layout{
		HistoryPrefix:   l.History,
		RedirectsPrefix: l.Redirects,
		SnapshotPrefix:  l.Snapshots,
		MovesPrefix:     l.Moves,
		SnapshotName:    l.SnapshotName,
	}
}

// Repository converts to the persistence package configuration.
func (c Config) Repository(opts history.Options) persistence.Config {
	return persistence.Config{
		Driver:      persistence.Driver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		BadgerPath:  c.Storage.BadgerPath,
		Store:       opts,
	}
}

// LineDecoder returns the snapshot row decoder.
func (c Config) LineDecoder() history.TabDecoder {
	return history.TabDecoder{ItemColumn: c.Input.ItemColumn, RecordColumn: c.Input.RecordColumn}
}

// SkipPeriods returns the configured skip list as periods.
func (c Config) SkipPeriods() []history.Period {
	out := make([]history.Period, 0, len(c.Input.SkipPeriods))
	for _, p := range c.Input.SkipPeriods {
		out = append(out, history.Period(p))
	}
	return out
}
