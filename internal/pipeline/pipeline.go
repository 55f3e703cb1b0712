// Package pipeline runs the batch operations that keep record history
// current: the monthly update, the initial multi-month load, redirect
// derivation from saved state, pruning, and the moved and missing item
// reports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
	"recordhistory/internal/persistence"
)

// Stage names reported to Metrics.Observe.
const (
	StageLoad      = "load"
	StageIngest    = "ingest"
	StageSave      = "save"
	StageCurrent   = "current"
	StagePrune     = "prune"
	StageRedirects = "redirects"
	StageMoves     = "moves"
	StageMissing   = "missing"
)

var (
	// ErrMissingPrevious is returned when the state an operation builds on
	// was never saved.
	ErrMissingPrevious = errors.New("pipeline: previous state not found")
	// ErrOutputExists is returned when an output of the run is already
	// present. Outputs are never replaced.
	ErrOutputExists = errors.New("pipeline: output already exists")
	// ErrNoSnapshots is returned by InitialLoad when no snapshot in range
	// could be found.
	ErrNoSnapshots = errors.New("pipeline: no snapshots found")
)

// Metrics receives stage timings and per-pass counters.
type Metrics interface {
	Observe(ctx context.Context, stage string, success bool, duration time.Duration)
	RecordIngest(history.IngestStats)
	RecordCurrent(history.CurrentStats)
	RecordPrune(history.PruneStats)
	RecordRedirects(n int)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) RecordIngest(history.IngestStats) {}
func (noopMetrics) RecordCurrent(history.CurrentStats) {}
func (noopMetrics) RecordPrune(history.PruneStats) {}
func (noopMetrics) RecordRedirects(int) {}

// Config wires a Runner.
type Config struct {
	Archive    archive.Store
	Layout     archive.Layout
	Repository persistence.Repository
	// Decoder parses snapshot rows. Nil means history.DefaultLineDecoder.
	Decoder history.LineDecoder
	// Store configures every store the runner creates or loads.
	Store history.Options
	// SkipPeriods lists months whose snapshots are never ingested.
	SkipPeriods []history.Period
	// DropEmpty removes records left without entries when pruning.
	DropEmpty bool
	Metrics   Metrics
	Logger    *slog.Logger
	// Now is used to find the last month of an initial load. Nil means
	// time.Now.
	Now func() time.Time
}

// Runner executes pipeline operations against one archive and repository.
type Runner struct {
	archive   archive.Store
	layout    archive.Layout
	repo      persistence.Repository
	decoder   history.LineDecoder
	storeOpts history.Options
	skip      map[history.Period]struct{}
	dropEmpty bool
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// New validates cfg and returns a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Archive == nil {
		return nil, errors.New("pipeline: archive store is required")
	}
	if cfg.Repository == nil {
		return nil, errors.New("pipeline: repository is required")
	}
	r := &Runner{
		archive:   cfg.Archive,
		layout:    cfg.Layout,
		repo:      cfg.Repository,
		decoder:   cfg.Decoder,
		storeOpts: cfg.Store,
		skip:      make(map[history.Period]struct{}, len(cfg.SkipPeriods)),
		dropEmpty: cfg.DropEmpty,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if r.decoder == nil {
		r.decoder = history.DefaultLineDecoder
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.storeOpts.Logger == nil {
		r.storeOpts.Logger = r.logger
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, p := range cfg.SkipPeriods {
		r.skip[p] = struct{}{}
	}
	return r, nil
}

// Report summarizes one operation.
type Report struct {
	Period       history.Period
	Previous     history.Period
	Ingested     []history.IngestStats
	Skipped      []history.Period
	Missing      []history.Period
	Saved        []history.Period
	Current      history.CurrentStats
	Pruned       history.PruneStats
	Redirects    int
	Moved        int
	MissingItems int
	Records      int
	OutputKeys   []string
}

// stage runs fn and reports its duration and outcome.
func (r *Runner) stage(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	r.metrics.Observe(ctx, name, err == nil, time.Since(start))
	return err
}

func (r *Runner) load(ctx context.Context, period history.Period) (*history.Store, error) {
	var st *history.Store
	err := r.stage(ctx, StageLoad, func() error {
		var err error
		st, err = r.repo.Load(ctx, period)
		return err
	})
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissingPrevious, period)
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", period, err)
	}
	r.logger.Info("loaded state", "period", period, "records", st.Len(), "newest_load", st.NewestLoad())
	return st, nil
}

func (r *Runner) save(ctx context.Context, period history.Period, st *history.Store, rep *Report) error {
	err := r.stage(ctx, StageSave, func() error {
		return r.repo.Save(ctx, period, st)
	})
	if errors.Is(err, persistence.ErrExists) {
		return fmt.Errorf("%w: state %s", ErrOutputExists, period)
	}
	if err != nil {
		return fmt.Errorf("save state %s: %w", period, err)
	}
	rep.Saved = append(rep.Saved, period)
	r.logger.Info("saved state", "period", period, "records", st.Len(), "driver", r.repo.Driver())
	return nil
}

func (r *Runner) ingest(ctx context.Context, st *history.Store, key string, period history.Period, rep *Report) error {
	return r.stage(ctx, StageIngest, func() error {
		rc, err := archive.OpenReader(ctx, r.archive, key)
		if err != nil {
			return fmt.Errorf("open snapshot %s: %w", key, err)
		}
		defer func() { _ = rc.Close() }()
		stats, err := st.Ingest(ctx, rc, period, r.decoder)
		if err != nil {
			return err
		}
		r.metrics.RecordIngest(stats)
		rep.Ingested = append(rep.Ingested, stats)
		r.logger.Info("ingested snapshot", "period", period, "key", key, "lines", stats.Lines, "malformed", stats.Malformed)
		return nil
	})
}

// computeCurrent marks liveness as of asOf, or as of the newest load when
// asOf is zero.
func (r *Runner) computeCurrent(ctx context.Context, st *history.Store, asOf history.Period, rep *Report) error {
	if asOf == 0 {
		asOf = st.NewestLoad()
	}
	return r.stage(ctx, StageCurrent, func() error {
		stats, err := st.ComputeCurrent(ctx, asOf)
		if err != nil {
			return fmt.Errorf("compute current %s: %w", asOf, err)
		}
		r.metrics.RecordCurrent(stats)
		rep.Current = stats
		r.logger.Info("computed current ownership", "as_of", asOf, "live", stats.Live, "dead", stats.Dead, "conflicts", stats.Conflicts)
		return nil
	})
}

func (r *Runner) prune(ctx context.Context, st *history.Store, dropEmpty bool, rep *Report) error {
	return r.stage(ctx, StagePrune, func() error {
		stats, err := st.PruneDead(history.PruneOptions{DropEmpty: dropEmpty})
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		r.metrics.RecordPrune(stats)
		rep.Pruned = stats
		r.logger.Info("removed dead items", "entries", stats.EntriesRemoved, "records_dropped", stats.RecordsDropped)
		return nil
	})
}

// writeRedirects derives redirects from a computed store and writes them
// under key.
func (r *Runner) writeRedirects(ctx context.Context, st *history.Store, key string, rep *Report) error {
	return r.stage(ctx, StageRedirects, func() error {
		redirects, err := st.Redirects()
		if err != nil {
			return fmt.Errorf("derive redirects: %w", err)
		}
		_, err = archive.PutStream(ctx, r.archive, key, archive.PutOptions{}, func(w io.Writer) error {
			return history.WriteRedirects(w, redirects)
		})
		if errors.Is(err, archive.ErrExists) {
			return fmt.Errorf("%w: %s", ErrOutputExists, key)
		}
		if err != nil {
			return fmt.Errorf("write redirects %s: %w", key, err)
		}
		r.metrics.RecordRedirects(len(redirects))
		rep.Redirects = len(redirects)
		rep.OutputKeys = append(rep.OutputKeys, key)
		r.logger.Info("wrote redirects", "key", key, "redirects", len(redirects))
		return nil
	})
}

// requireAbsent fails with ErrOutputExists when key is already present.
func (r *Runner) requireAbsent(ctx context.Context, key string) error {
	_, err := r.archive.Head(ctx, key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", ErrOutputExists, key)
	case errors.Is(err, archive.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check %s: %w", key, err)
	}
}

// requireState fails with ErrMissingPrevious unless state for period was
// saved.
func (r *Runner) requireState(ctx context.Context, period history.Period) error {
	ok, err := r.repo.Exists(ctx, period)
	if err != nil {
		return fmt.Errorf("check state %s: %w", period, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingPrevious, period)
	}
	return nil
}

// requireNoState fails with ErrOutputExists when state for period was
// already saved.
func (r *Runner) requireNoState(ctx context.Context, period history.Period) error {
	ok, err := r.repo.Exists(ctx, period)
	if err != nil {
		return fmt.Errorf("check state %s: %w", period, err)
	}
	if ok {
		return fmt.Errorf("%w: state %s", ErrOutputExists, period)
	}
	return nil
}

// latest returns the newest saved period.
func (r *Runner) latest(ctx context.Context) (history.Period, error) {
	periods, err := r.repo.Periods(ctx)
	if err != nil {
		return 0, fmt.Errorf("list saved periods: %w", err)
	}
	if len(periods) == 0 {
		return 0, fmt.Errorf("%w: nothing saved", ErrMissingPrevious)
	}
	return periods[len(periods)-1], nil
}
