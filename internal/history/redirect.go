package history

import (
	"bufio"
	"fmt"
	"io"
)

// Redirect says that the dead record Source should now resolve to the live
// record Target.
type Redirect struct {
	Source RecordID
	Target RecordID
}

// Redirects derives one redirect for every dead record whose items, where
// still alive, all belong to the same live record. Dead records whose items
// are all dead, or are spread over several live records, get none. The
// result is ordered by source id.
//
// ComputeCurrent must have run as of the newest load.
func (s *Store) Redirects() ([]Redirect, error) {
	if !s.computed {
		return nil, ErrCurrentNotComputed
	}
	if s.asOf != s.newestLoad {
		return nil, fmt.Errorf("%w: computed as of %s, newest load is %s", ErrStaleCurrent, s.asOf, s.newestLoad)
	}
	var out []Redirect
	for _, id := range s.RecordIDs() {
		rec := s.records[id]
		if rec.IsLive(s.newestLoad) {
			continue
		}
		if target, ok := s.soleOwner(rec); ok {
			out = append(out, Redirect{Source: id, Target: target})
		}
	}
	return out, nil
}

// soleOwner returns the single live owner of every still-owned item of rec.
func (s *Store) soleOwner(rec *RecordHistory) (RecordID, bool) {
	var target RecordID
	found := false
	for item := range rec.Entries {
		owner, ok := s.currentOwner[item]
		if !ok {
			continue
		}
		if !found {
			target, found = owner, true
			continue
		}
		if owner != target {
			return 0, false
		}
	}
	return target, found
}

// WriteRedirects writes one "source<TAB>target" line per redirect with both
// ids zero padded to nine digits.
func WriteRedirects(w io.Writer, redirects []Redirect) error {
	bw := bufio.NewWriter(w)
	for _, r := range redirects {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", r.Source, r.Target); err != nil {
			return err
		}
	}
	return bw.Flush()
}
