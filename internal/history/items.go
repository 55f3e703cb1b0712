package history

import "slices"

// ItemHistories inverts the store into one history per item, listing the
// records the item was seen under and when.
func (s *Store) ItemHistories() map[ItemID]*ItemHistory {
	out := make(map[ItemID]*ItemHistory)
	for id, rec := range s.records {
		for item, e := range rec.Entries {
			h, ok := out[item]
			if !ok {
				h = NewHistory[ItemID, RecordID](item)
				out[item] = h
			}
			h.See(id, e.FirstSeen)
			h.See(id, e.LastSeen)
		}
	}
	return out
}

// MovedItems returns, in ascending order, every item that was seen under
// more than one record.
func (s *Store) MovedItems() []ItemID {
	var out []ItemID
	for item, h := range s.ItemHistories() {
		if h.Moved() {
			out = append(out, item)
		}
	}
	slices.Sort(out)
	return out
}

// MissingItems returns, in ascending order, every item that was not seen in
// the newest load.
func (s *Store) MissingItems() []ItemID {
	var out []ItemID
	for item, h := range s.ItemHistories() {
		if h.MostRecentlySeen < s.newestLoad {
			out = append(out, item)
		}
	}
	slices.Sort(out)
	return out
}
