package history

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// CurrentStats summarizes one ComputeCurrent call.
type CurrentStats struct {
	AsOf         Period
	Live         int
	Dead         int
	CurrentItems int
	Conflicts    int
}

type ownerConflict struct {
	item  ItemID
	kept  RecordID
	loser RecordID
}

type shardResult struct {
	owners    map[ItemID]RecordID
	live      int
	conflicts []ownerConflict
}

// ComputeCurrent marks every record live or dead as of asOf, computes the
// current items of live records and rebuilds the item to live-owner lookup.
//
// Records are split across shards and scanned in parallel; the partial
// lookups are merged afterwards. An item current on two live records is a
// data error: it is logged and the larger record id wins.
func (s *Store) ComputeCurrent(ctx context.Context, asOf Period) (CurrentStats, error) {
	stats := CurrentStats{AsOf: asOf}
	if s.newestLoad == 0 || len(s.records) == 0 {
		return stats, ErrEmptyStore
	}
	s.invalidate()

	ids := s.RecordIDs()
	shards := min(s.workers, len(ids))
	results := make([]shardResult, shards)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < shards; w++ {
		g.Go(func() error {
			res := shardResult{owners: make(map[ItemID]RecordID)}
			for i := w; i < len(ids); i += shards {
				if (i/shards)%4096 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				rec := s.records[ids[i]]
				rec.ComputeCurrent(asOf)
				if !rec.IsLive(asOf) {
					continue
				}
				res.live++
				for item := range rec.current {
					claim(res.owners, item, rec.ID, &res.conflicts)
				}
			}
			results[w] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("compute current as of %s: %w", asOf, err)
	}

	owners := results[0].owners
	conflicts := results[0].conflicts
	stats.Live = results[0].live
	for _, res := range results[1:] {
		stats.Live += res.live
		conflicts = append(conflicts, res.conflicts...)
		for item, record := range res.owners {
			claim(owners, item, record, &conflicts)
		}
	}
	for _, c := range conflicts {
		s.logger.Warn("item current on more than one live record",
			"item_id", c.item, "kept_record_id", c.kept, "dropped_record_id", c.loser, "as_of", asOf)
	}

	s.currentOwner = owners
	s.asOf = asOf
	s.computed = true

	stats.Dead = len(ids) - stats.Live
	stats.CurrentItems = len(owners)
	stats.Conflicts = len(conflicts)
	return stats, nil
}

// claim assigns item to record in owners unless a larger record id already
// holds it. Competing claims are appended to conflicts.
func claim(owners map[ItemID]RecordID, item ItemID, record RecordID, conflicts *[]ownerConflict) {
	prev, ok := owners[item]
	if !ok {
		owners[item] = record
		return
	}
	if prev == record {
		return
	}
	kept, loser := max(prev, record), min(prev, record)
	owners[item] = kept
	*conflicts = append(*conflicts, ownerConflict{item: item, kept: kept, loser: loser})
}

// Computed reports whether current ownership is available.
func (s *Store) Computed() bool { return s.computed }

// AsOf returns the period current ownership was computed for.
func (s *Store) AsOf() Period { return s.asOf }

// CurrentOwner returns the live record that currently owns item. ok is
// false for dead items and before ComputeCurrent.
func (s *Store) CurrentOwner(item ItemID) (RecordID, bool) {
	record, ok := s.currentOwner[item]
	return record, ok
}
