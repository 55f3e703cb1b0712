package pipeline

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"recordhistory/internal/archive"
	"recordhistory/internal/history"
)

// MovesRequest selects the saved state to report on. A zero Period selects
// the newest saved state. With a nil Writer the report is stored in the
// archive under the period's moves key.
type MovesRequest struct {
	Period history.Period
	Writer io.Writer
}

// Moves writes one line per item that was ever seen under more than one
// record.
func (r *Runner) Moves(ctx context.Context, req MovesRequest) (Report, error) {
	rep, err := r.itemReport(ctx, req, StageMoves, r.layout.Moves, func(w io.Writer, st *history.Store, rep *Report) error {
		n, err := WriteMoves(w, st)
		rep.Moved = n
		return err
	})
	if err != nil {
		return rep, err
	}
	r.logger.Info("wrote moved items", "period", rep.Period, "items", rep.Moved)
	return rep, nil
}

// MissingItems writes every item that was not seen in the newest load of
// the saved state, one per line. It takes the same request as Moves.
func (r *Runner) MissingItems(ctx context.Context, req MovesRequest) (Report, error) {
	rep, err := r.itemReport(ctx, req, StageMissing, r.layout.Missing, func(w io.Writer, st *history.Store, rep *Report) error {
		n, err := WriteMissing(w, st)
		rep.MissingItems = n
		return err
	})
	if err != nil {
		return rep, err
	}
	r.logger.Info("wrote missing items", "period", rep.Period, "items", rep.MissingItems)
	return rep, nil
}

// itemReport loads the requested state and hands it to write, either on
// req.Writer or on a new archive object named by keyFor.
func (r *Runner) itemReport(ctx context.Context, req MovesRequest, stage string, keyFor func(history.Period) string,
	write func(io.Writer, *history.Store, *Report) error) (Report, error) {
	period := req.Period
	if period == 0 {
		p, err := r.latest(ctx)
		if err != nil {
			return Report{}, err
		}
		period = p
	}
	rep := Report{Period: period}
	key := keyFor(period)
	if req.Writer == nil {
		if err := r.requireAbsent(ctx, key); err != nil {
			return rep, err
		}
	}
	st, err := r.load(ctx, period)
	if err != nil {
		return rep, err
	}
	rep.Records = st.Len()
	err = r.stage(ctx, stage, func() error {
		if req.Writer != nil {
			return write(req.Writer, st, &rep)
		}
		_, err := archive.PutStream(ctx, r.archive, key, archive.PutOptions{}, func(w io.Writer) error {
			return write(w, st, &rep)
		})
		if errors.Is(err, archive.ErrExists) {
			return fmt.Errorf("%w: %s", ErrOutputExists, key)
		}
		if err != nil {
			return fmt.Errorf("write %s report %s: %w", stage, key, err)
		}
		rep.OutputKeys = append(rep.OutputKeys, key)
		return nil
	})
	return rep, err
}

// WriteMoves writes every moved item of st as
// "item<TAB>record:first-last<TAB>..." with records in the order the item
// reached them. Items are written in ascending order. It returns the number
// of lines written.
func WriteMoves(w io.Writer, st *history.Store) (int, error) {
	items := st.ItemHistories()
	var moved []history.ItemID
	for item, h := range items {
		if h.Moved() {
			moved = append(moved, item)
		}
	}
	slices.Sort(moved)
	bw := bufio.NewWriter(w)
	for _, item := range moved {
		h := items[item]
		entries := make([]*history.Entry[history.RecordID], 0, len(h.Entries))
		for _, e := range h.Entries {
			entries = append(entries, e)
		}
		slices.SortFunc(entries, func(a, b *history.Entry[history.RecordID]) int {
			return cmp.Or(cmp.Compare(a.FirstSeen, b.FirstSeen), cmp.Compare(a.Member, b.Member))
		})
		if _, err := bw.WriteString(string(item)); err != nil {
			return 0, err
		}
		for _, e := range entries {
			if _, err := fmt.Fprintf(bw, "\t%s:%s-%s", e.Member, e.FirstSeen, e.LastSeen); err != nil {
				return 0, err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(moved), nil
}

// WriteMissing writes, in ascending order, every item of st that was not
// seen in the newest load. It returns the number of lines written.
func WriteMissing(w io.Writer, st *history.Store) (int, error) {
	missing := st.MissingItems()
	bw := bufio.NewWriter(w)
	for _, item := range missing {
		if _, err := bw.WriteString(string(item) + "\n"); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(missing), nil
}
