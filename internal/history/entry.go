package history

import (
	"cmp"
	"slices"
)

// Entry records one member's association with a history: the first and last
// periods in which the association was observed. FirstSeen <= LastSeen always.
type Entry[M cmp.Ordered] struct {
	Member    M
	FirstSeen Period
	LastSeen  Period
}

// History is the shared shape of a record history (items seen under a
// record) and an item history (records an item was seen under).
//
// The current set is derived by ComputeCurrent and is only valid until the
// next mutation of the owning Store.
type History[K, M cmp.Ordered] struct {
	ID               K
	Entries          map[M]*Entry[M]
	MostRecentlySeen Period

	current map[M]struct{}
}

// RecordHistory holds every item ever seen under one record.
type RecordHistory = History[RecordID, ItemID]

// ItemHistory holds every record one item was ever seen under.
type ItemHistory = History[ItemID, RecordID]

// NewHistory returns an empty history for id.
func NewHistory[K, M cmp.Ordered](id K) *History[K, M] {
	return &History[K, M]{ID: id, Entries: make(map[M]*Entry[M])}
}

// NewRecordHistory returns an empty record history.
func NewRecordHistory(id RecordID) *RecordHistory {
	return NewHistory[RecordID, ItemID](id)
}

// See records that m was observed in period p. Sightings may arrive in any
// order: LastSeen only moves forward and FirstSeen only moves back.
func (h *History[K, M]) See(m M, p Period) {
	if e, ok := h.Entries[m]; ok {
		if p > e.LastSeen {
			e.LastSeen = p
		}
		if p < e.FirstSeen {
			e.FirstSeen = p
		}
	} else {
		h.Entries[m] = &Entry[M]{Member: m, FirstSeen: p, LastSeen: p}
	}
	if p > h.MostRecentlySeen {
		h.MostRecentlySeen = p
	}
}

// IsLive reports whether anything was seen here in asOf.
func (h *History[K, M]) IsLive(asOf Period) bool {
	return h.MostRecentlySeen == asOf
}

// ComputeCurrent rebuilds the current set as of asOf. A history that is not
// live has an empty current set.
func (h *History[K, M]) ComputeCurrent(asOf Period) {
	h.current = nil
	if !h.IsLive(asOf) {
		return
	}
	h.current = make(map[M]struct{})
	for m, e := range h.Entries {
		if e.LastSeen >= asOf {
			h.current[m] = struct{}{}
		}
	}
}

// IsCurrent reports whether m is in the current set.
func (h *History[K, M]) IsCurrent(m M) bool {
	_, ok := h.current[m]
	return ok
}

// Current returns the current set in ascending order.
func (h *History[K, M]) Current() []M {
	out := make([]M, 0, len(h.current))
	for m := range h.current {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Members returns every member ever seen, in ascending order.
func (h *History[K, M]) Members() []M {
	out := make([]M, 0, len(h.Entries))
	for m := range h.Entries {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Remove deletes the entry for m. It is a no-op when m is absent.
func (h *History[K, M]) Remove(m M) {
	delete(h.Entries, m)
	delete(h.current, m)
}

// Len returns the number of entries.
func (h *History[K, M]) Len() int { return len(h.Entries) }

// Moved reports whether more than one member was ever associated. For an
// item history this means the item changed records at least once.
func (h *History[K, M]) Moved() bool { return len(h.Entries) > 1 }

func (h *History[K, M]) clearCurrent() { h.current = nil }
