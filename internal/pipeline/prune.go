package pipeline

import (
	"context"
	"fmt"

	"recordhistory/internal/history"
)

// PruneRequest rewrites the state of From without dead items and saves it
// as To. With a zero AsOf, items without a live owner at the newest load are
// dead. Otherwise an item is dead only when it was last seen before AsOf, and
// all of its entries are removed.
type PruneRequest struct {
	From      history.Period
	To        history.Period
	AsOf      history.Period
	DropEmpty bool
}

// Prune loads saved state, removes dead items and saves the result under a
// new period.
func (r *Runner) Prune(ctx context.Context, req PruneRequest) (Report, error) {
	rep := Report{Period: req.To, Previous: req.From}
	if !req.To.Valid() {
		return rep, fmt.Errorf("prune: invalid target period %d", int(req.To))
	}
	if req.AsOf != 0 && !req.AsOf.Valid() {
		return rep, fmt.Errorf("prune: invalid cutoff period %d", int(req.AsOf))
	}
	if req.From == req.To {
		return rep, fmt.Errorf("%w: state %s", ErrOutputExists, req.To)
	}
	if err := r.requireNoState(ctx, req.To); err != nil {
		return rep, err
	}
	st, err := r.load(ctx, req.From)
	if err != nil {
		return rep, err
	}
	if req.AsOf == 0 {
		if err := r.computeCurrent(ctx, st, 0, &rep); err != nil {
			return rep, err
		}
		if err := r.prune(ctx, st, req.DropEmpty, &rep); err != nil {
			return rep, err
		}
	} else {
		if req.AsOf > st.NewestLoad() {
			return rep, fmt.Errorf("prune: cutoff %s is after the newest load %s", req.AsOf, st.NewestLoad())
		}
		r.removeMissing(ctx, st, req.AsOf, req.DropEmpty, &rep)
		if err := r.computeCurrent(ctx, st, 0, &rep); err != nil {
			return rep, err
		}
	}
	if err := r.save(ctx, req.To, st, &rep); err != nil {
		return rep, err
	}
	rep.Records = st.Len()
	return rep, nil
}

func (r *Runner) removeMissing(ctx context.Context, st *history.Store, since history.Period, dropEmpty bool, rep *Report) {
	_ = r.stage(ctx, StagePrune, func() error {
		stats := st.RemoveMissing(since, history.PruneOptions{DropEmpty: dropEmpty})
		r.metrics.RecordPrune(stats)
		rep.Pruned = stats
		r.logger.Info("removed items missing since cutoff", "since", since,
			"entries", stats.EntriesRemoved, "records_dropped", stats.RecordsDropped)
		return nil
	})
}
