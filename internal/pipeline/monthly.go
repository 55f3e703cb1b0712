package pipeline

import (
	"context"
	"fmt"
	"path"

	"recordhistory/internal/history"
)

// MonthlyRequest names the snapshot to add, either by key or by bare file
// name under the snapshot prefix. Period defaults to the month stamped in
// the file name and Previous to the month before it.
type MonthlyRequest struct {
	Snapshot string
	Period   history.Period
	Previous history.Period
}

// Monthly adds one monthly snapshot to the state saved for the previous
// month, saves the result as the new month and writes that month's
// redirects.
//
// The previous state must exist and neither the new state nor the
// redirect file may exist yet. The new state is saved before dead items are
// pruned, so it keeps the full history.
func (r *Runner) Monthly(ctx context.Context, req MonthlyRequest) (Report, error) {
	snapshot := r.layout.Snapshot(req.Snapshot)
	period := req.Period
	if period == 0 {
		p, err := history.PeriodFromFilename(path.Base(snapshot))
		if err != nil {
			return Report{}, fmt.Errorf("monthly: %w", err)
		}
		period = p
	}
	if !period.Valid() {
		return Report{}, fmt.Errorf("monthly: invalid period %d", int(period))
	}
	prev := req.Previous
	if prev == 0 {
		prev = period.Prev()
	}
	rep := Report{Period: period, Previous: prev}
	redirectsKey := r.layout.Redirects(period)

	if err := r.requireState(ctx, prev); err != nil {
		return rep, err
	}
	if err := r.requireNoState(ctx, period); err != nil {
		return rep, err
	}
	if err := r.requireAbsent(ctx, redirectsKey); err != nil {
		return rep, err
	}

	st, err := r.load(ctx, prev)
	if err != nil {
		return rep, err
	}
	if err := r.ingest(ctx, st, snapshot, period, &rep); err != nil {
		return rep, err
	}
	if err := r.save(ctx, period, st, &rep); err != nil {
		return rep, err
	}
	if err := r.derive(ctx, st, redirectsKey, &rep); err != nil {
		return rep, err
	}
	rep.Records = st.Len()
	return rep, nil
}

// RedirectsFromState writes the redirects for state already saved for
// period. A zero period selects the newest saved state.
func (r *Runner) RedirectsFromState(ctx context.Context, period history.Period) (Report, error) {
	if period == 0 {
		p, err := r.latest(ctx)
		if err != nil {
			return Report{}, err
		}
		period = p
	}
	rep := Report{Period: period}
	redirectsKey := r.layout.Redirects(period)
	if err := r.requireAbsent(ctx, redirectsKey); err != nil {
		return rep, err
	}
	st, err := r.load(ctx, period)
	if err != nil {
		return rep, err
	}
	if err := r.derive(ctx, st, redirectsKey, &rep); err != nil {
		return rep, err
	}
	rep.Records = st.Len()
	return rep, nil
}

// derive computes ownership as of the newest load, removes dead items and
// writes the redirects.
func (r *Runner) derive(ctx context.Context, st *history.Store, key string, rep *Report) error {
	if err := r.computeCurrent(ctx, st, 0, rep); err != nil {
		return err
	}
	if err := r.prune(ctx, st, r.dropEmpty, rep); err != nil {
		return err
	}
	return r.writeRedirects(ctx, st, key, rep)
}
