package pipeline

import (
	"context"
	"errors"
	"fmt"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
)

// InitialLoadRequest bounds an initial load. To defaults to the current
// month.
type InitialLoadRequest struct {
	From history.Period
	To   history.Period
}

// InitialLoad builds state from scratch by ingesting the monthly snapshot
// of every month from req.From to req.To in order. Skipped months and
// months without a snapshot are passed over. State is checkpointed after
// every December and saved once more for the last month ingested.
//
// A checkpoint that is already saved is left alone; the final save fails
// with ErrOutputExists if its period was saved by an earlier run.
func (r *Runner) InitialLoad(ctx context.Context, req InitialLoadRequest) (Report, error) {
	to := req.To
	if to == 0 {
		now := r.now()
		to = history.Period(now.Year()*100 + int(now.Month()))
	}
	if !req.From.Valid() || !to.Valid() || req.From > to {
		return Report{}, fmt.Errorf("initial load: invalid range %d-%d", int(req.From), int(to))
	}
	rep := Report{}
	st := history.NewStore(r.storeOpts)
	var lastGood, lastSaved history.Period

	for p := req.From; p <= to; p = p.Next() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, skip := r.skip[p]; skip {
			r.logger.Info("skipping month", "period", p)
			rep.Skipped = append(rep.Skipped, p)
			continue
		}
		key := r.layout.MonthlySnapshot(p)
		if _, err := r.archive.Head(ctx, key); err != nil {
			if errors.Is(err, archive.ErrNotFound) {
				r.logger.Warn("snapshot not found, skipping", "period", p, "key", key)
				rep.Missing = append(rep.Missing, p)
				continue
			}
			return rep, fmt.Errorf("check snapshot %s: %w", key, err)
		}
		if err := r.ingest(ctx, st, key, p, &rep); err != nil {
			return rep, err
		}
		lastGood = p

		if p.Month() == 12 {
			saved, err := r.checkpoint(ctx, p, st, &rep)
			if err != nil {
				return rep, err
			}
			if saved {
				lastSaved = p
			}
		}
	}
	if lastGood == 0 {
		return rep, fmt.Errorf("%w: %s-%s", ErrNoSnapshots, req.From, to)
	}
	rep.Period = lastGood
	rep.Records = st.Len()
	if lastSaved == lastGood {
		return rep, nil
	}
	if err := r.save(ctx, lastGood, st, &rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// checkpoint saves st as period unless that period is already saved.
func (r *Runner) checkpoint(ctx context.Context, period history.Period, st *history.Store, rep *Report) (bool, error) {
	ok, err := r.repo.Exists(ctx, period)
	if err != nil {
		return false, fmt.Errorf("check state %s: %w", period, err)
	}
	if ok {
		r.logger.Warn("checkpoint already saved, leaving it", "period", period)
		return false, nil
	}
	if err := r.save(ctx, period, st, rep); err != nil {
		return false, err
	}
	return true, nil
}
