// Command record-redirects maintains the monthly record history and derives
// the record redirects from it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"recordhistory/internal/archive"
	"recordhistory/internal/config"
	"recordhistory/internal/history"
	"recordhistory/internal/observability"
	"recordhistory/internal/persistence"
	"recordhistory/internal/pipeline"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	return exitSuccess
}

// app carries flag values and the resources opened for one command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath      string
	logLevel        string
	logFormat       string
	metricsTextfile string

	cfg      config.Config
	logger   *slog.Logger
	recorder *observability.Recorder
	repo     persistence.Repository
	runner   *pipeline.Runner
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "record-redirects",
		Short:         "Track record history across monthly snapshots and derive record redirects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format (text, json)")
	pf.StringVar(&a.metricsTextfile, "metrics-textfile", "", "write metrics to this file after the run")

	root.AddCommand(
		a.monthlyCommand(),
		a.initialLoadCommand(),
		a.redirectsCommand(),
		a.pruneCommand(),
		a.movesCommand(),
		a.missingCommand(),
	)
	return root
}

func (a *app) monthlyCommand() *cobra.Command {
	var period, previous periodFlag
	cmd := &cobra.Command{
		Use:   "monthly <snapshot-key>",
		Short: "Add a monthly snapshot to the previous month's state and write its redirects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withRunner(cmd.Context(), func(ctx context.Context) error {
				rep, err := a.runner.Monthly(ctx, pipeline.MonthlyRequest{
					Snapshot: args[0],
					Period:   period.Period,
					Previous: previous.Period,
				})
				if err != nil {
					return err
				}
				a.printReport("monthly", rep)
				return nil
			})
		},
	}
	cmd.Flags().Var(&period, "period", "period of the snapshot (default: from the file name)")
	cmd.Flags().Var(&previous, "previous", "period of the state to build on (default: the month before)")
	return cmd
}

func (a *app) initialLoadCommand() *cobra.Command {
	var from, to periodFlag
	cmd := &cobra.Command{
		Use:   "initial-load",
		Short: "Build state from every monthly snapshot in a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(cmd.Context(), func(ctx context.Context) error {
				req := pipeline.InitialLoadRequest{From: from.Period, To: to.Period}
				if req.From == 0 {
					req.From = history.Period(a.cfg.Input.FirstPeriod)
				}
				rep, err := a.runner.InitialLoad(ctx, req)
				if err != nil {
					return err
				}
				a.printReport("initial-load", rep)
				return nil
			})
		},
	}
	cmd.Flags().Var(&from, "from", "first month to load (default: input.first_period)")
	cmd.Flags().Var(&to, "to", "last month to load (default: this month)")
	return cmd
}

func (a *app) redirectsCommand() *cobra.Command {
	var period periodFlag
	cmd := &cobra.Command{
		Use:   "redirects",
		Short: "Derive redirects from saved state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(cmd.Context(), func(ctx context.Context) error {
				rep, err := a.runner.RedirectsFromState(ctx, period.Period)
				if err != nil {
					return err
				}
				a.printReport("redirects", rep)
				return nil
			})
		},
	}
	cmd.Flags().Var(&period, "period", "saved state to use (default: the newest)")
	return cmd
}

func (a *app) pruneCommand() *cobra.Command {
	var from, to, asOf periodFlag
	var dropEmpty bool
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove dead items from saved state and save the result under a new period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if from.Period == 0 || to.Period == 0 {
				return errors.New("--from and --to are required")
			}
			return a.withRunner(cmd.Context(), func(ctx context.Context) error {
				rep, err := a.runner.Prune(ctx, pipeline.PruneRequest{
					From:      from.Period,
					To:        to.Period,
					AsOf:      asOf.Period,
					DropEmpty: dropEmpty || a.cfg.Compute.DropEmpty,
				})
				if err != nil {
					return err
				}
				a.printReport("prune", rep)
				return nil
			})
		},
	}
	cmd.Flags().Var(&from, "from", "saved state to prune")
	cmd.Flags().Var(&to, "to", "period to save the pruned state as")
	cmd.Flags().Var(&asOf, "as-of", "drop items not seen since this month (default: items without a live owner at the newest load)")
	cmd.Flags().BoolVar(&dropEmpty, "drop-empty", false, "also remove records left without items")
	return cmd
}

func (a *app) movesCommand() *cobra.Command {
	return a.itemReportCommand("moves", "Report items that moved between records", a.runnerMoves)
}

func (a *app) missingCommand() *cobra.Command {
	return a.itemReportCommand("missing", "Report items absent from the newest load", a.runnerMissing)
}

func (a *app) runnerMoves(ctx context.Context, req pipeline.MovesRequest) (pipeline.Report, error) {
	return a.runner.Moves(ctx, req)
}

func (a *app) runnerMissing(ctx context.Context, req pipeline.MovesRequest) (pipeline.Report, error) {
	return a.runner.MissingItems(ctx, req)
}

func (a *app) itemReportCommand(use, short string, report func(context.Context, pipeline.MovesRequest) (pipeline.Report, error)) *cobra.Command {
	var period periodFlag
	var toStdout bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRunner(cmd.Context(), func(ctx context.Context) error {
				req := pipeline.MovesRequest{Period: period.Period}
				if toStdout {
					req.Writer = a.stdout
				}
				rep, err := report(ctx, req)
				if err != nil {
					return err
				}
				if !toStdout {
					a.printReport(use, rep)
				}
				return nil
			})
		},
	}
	cmd.Flags().Var(&period, "period", "saved state to use (default: the newest)")
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "write the report to stdout instead of the archive")
	return cmd
}

// withRunner loads the configuration, opens the archive and repository,
// runs fn and releases everything afterwards. Metrics are written even when
// fn fails.
func (a *app) withRunner(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := a.setup(ctx); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.teardown())
	}()
	return fn(ctx)
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if a.metricsTextfile != "" {
		cfg.Metrics.Textfile = a.metricsTextfile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg
	a.logger, err = newLogger(cfg.Log, a.stderr)
	if err != nil {
		return err
	}
	a.recorder = observability.NewRecorder()

	store, err := archive.Open(ctx, cfg.ArchiveStore())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	storeOpts := history.Options{
		Logger:        a.logger,
		Workers:       cfg.Compute.Workers,
		ProgressEvery: cfg.Compute.ProgressEvery,
	}
	layout := cfg.Layout()
	repo, err := persistence.Open(ctx, cfg.Repository(storeOpts), store, layout)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	runner, err := pipeline.New(pipeline.Config{
		Archive:     store,
		Layout:      layout,
		Repository:  repo,
		Decoder:     cfg.LineDecoder(),
		Store:       storeOpts,
		SkipPeriods: cfg.SkipPeriods(),
		DropEmpty:   cfg.Compute.DropEmpty,
		Metrics:     a.recorder,
		Logger:      a.logger,
	})
	if err != nil {
		_ = repo.Close()
		return err
	}
	a.repo = repo
	a.runner = runner
	a.logger.Debug("opened archive and repository", "archive", store.Driver(), "storage", repo.Driver())
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	if path := a.cfg.Metrics.Textfile; path != "" && a.recorder != nil {
		if err := a.recorder.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) printReport(op string, rep pipeline.Report) {
	fmt.Fprintf(a.stdout, "%s %s: records=%d live=%d dead=%d pruned=%d redirects=%d moved=%d missing=%d\n",
		op, rep.Period, rep.Records, rep.Current.Live, rep.Current.Dead,
		rep.Pruned.EntriesRemoved, rep.Redirects, rep.Moved, rep.MissingItems)
	for _, p := range rep.Saved {
		fmt.Fprintf(a.stdout, "saved state %s\n", p)
	}
	for _, key := range rep.OutputKeys {
		fmt.Fprintf(a.stdout, "wrote %s\n", key)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// periodFlag is a YYYYMM flag value; zero means unset.
type periodFlag struct {
	history.Period
}

func (f *periodFlag) Set(s string) error {
	p, err := history.ParsePeriod(s)
	if err != nil {
		return err
	}
	f.Period = p
	return nil
}

func (f *periodFlag) String() string {
	if f.Period == 0 {
		return ""
	}
	return f.Period.String()
}

func (f *periodFlag) Type() string { return "YYYYMM" }
