package history

// PruneOptions configures PruneDead.
type PruneOptions struct {
	// DropEmpty removes records left without entries. A dropped record can
	// no longer take part in redirects, and its identity is forgotten by
	// later incremental loads.
	DropEmpty bool
}

// PruneStats summarizes one PruneDead call.
type PruneStats struct {
	EntriesRemoved int
	RecordsDropped int
}

// PruneDead removes every entry whose item has no live owner as of the last
// ComputeCurrent. Current ownership stays valid afterwards.
func (s *Store) PruneDead(opts PruneOptions) (PruneStats, error) {
	var stats PruneStats
	if !s.computed {
		return stats, ErrCurrentNotComputed
	}
	for id, rec := range s.records {
		for item := range rec.Entries {
			if _, ok := s.currentOwner[item]; !ok {
				rec.Remove(item)
				stats.EntriesRemoved++
			}
		}
		if opts.DropEmpty && rec.Len() == 0 {
			delete(s.records, id)
			stats.RecordsDropped++
		}
	}
	s.logger.Info("pruned dead items", "as_of", s.asOf,
		"entries_removed", stats.EntriesRemoved, "records_dropped", stats.RecordsDropped)
	return stats, nil
}

// RemoveMissing removes every item whose newest sighting under any record is
// before since. An item seen in since or later keeps all of its entries,
// including those under records that are no longer live.
func (s *Store) RemoveMissing(since Period, opts PruneOptions) PruneStats {
	newest := make(map[ItemID]Period)
	for _, rec := range s.records {
		for item, e := range rec.Entries {
			if e.LastSeen > newest[item] {
				newest[item] = e.LastSeen
			}
		}
	}
	var stats PruneStats
	for id, rec := range s.records {
		for item := range rec.Entries {
			if newest[item] < since {
				rec.Remove(item)
				stats.EntriesRemoved++
			}
		}
		if opts.DropEmpty && rec.Len() == 0 {
			delete(s.records, id)
			stats.RecordsDropped++
		}
	}
	if stats.EntriesRemoved > 0 || stats.RecordsDropped > 0 {
		s.invalidate()
	}
	s.logger.Info("removed missing items", "since", since,
		"entries_removed", stats.EntriesRemoved, "records_dropped", stats.RecordsDropped)
	return stats
}
