package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// PersistedEntry is the stored form of one item association.
type PersistedEntry struct {
	FirstSeen Period `json:"first_seen" msgpack:"f"`
	LastSeen  Period `json:"last_seen" msgpack:"l"`
}

// PersistedRecord is the stored form of one record history. Every backend
// persists records in this shape.
type PersistedRecord struct {
	RecordID         RecordID                  `json:"record_id" msgpack:"id"`
	MostRecentlySeen Period                    `json:"most_recently_seen" msgpack:"mrs"`
	Entries          map[ItemID]PersistedEntry `json:"entries" msgpack:"e"`
}

// ToPersisted converts a record history into its stored form.
func ToPersisted(rec *RecordHistory) PersistedRecord {
	out := PersistedRecord{
		RecordID:         rec.ID,
		MostRecentlySeen: rec.MostRecentlySeen,
		Entries:          make(map[ItemID]PersistedEntry, len(rec.Entries)),
	}
	for item, e := range rec.Entries {
		out.Entries[item] = PersistedEntry{FirstSeen: e.FirstSeen, LastSeen: e.LastSeen}
	}
	return out
}

// Record rebuilds the record history described by p.
func (p PersistedRecord) Record() (*RecordHistory, error) {
	rec := NewRecordHistory(p.RecordID)
	rec.MostRecentlySeen = p.MostRecentlySeen
	for item, e := range p.Entries {
		if e.FirstSeen > e.LastSeen {
			return nil, fmt.Errorf("record %s item %q: first seen %s after last seen %s", p.RecordID, item, e.FirstSeen, e.LastSeen)
		}
		if e.LastSeen > p.MostRecentlySeen {
			return nil, fmt.Errorf("record %s item %q: last seen %s after record last seen %s", p.RecordID, item, e.LastSeen, p.MostRecentlySeen)
		}
		rec.Entries[item] = &Entry[ItemID]{Member: item, FirstSeen: e.FirstSeen, LastSeen: e.LastSeen}
	}
	return rec, nil
}

// MarshalEntries encodes the entries of p as a JSON object keyed by item id.
func (p PersistedRecord) MarshalEntries() ([]byte, error) {
	if err := p.checkItemIDs(); err != nil {
		return nil, err
	}
	return json.Marshal(p.Entries)
}

// checkItemIDs rejects ids that JSON would rewrite.
func (p PersistedRecord) checkItemIDs() error {
	for item := range p.Entries {
		if !utf8.ValidString(string(item)) {
			return fmt.Errorf("record %s: item id %q is not valid UTF-8", p.RecordID, string(item))
		}
	}
	return nil
}

// Persisted returns the stored form of every record in ascending id order.
func (s *Store) Persisted() []PersistedRecord {
	out := make([]PersistedRecord, 0, len(s.records))
	for _, id := range s.RecordIDs() {
		out = append(out, ToPersisted(s.records[id]))
	}
	return out
}

// Dump writes the store as newline delimited JSON, one record per line in
// ascending id order.
func Dump(ctx context.Context, w io.Writer, s *Store) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	err := s.ForEach(func(rec *RecordHistory) error {
		n++
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if s.progressEvery > 0 && n%s.progressEvery == 0 {
			s.logger.Info("dump progress", "records", n)
		}
		p := ToPersisted(rec)
		if err := p.checkItemIDs(); err != nil {
			return err
		}
		return enc.Encode(p)
	})
	if err != nil {
		return fmt.Errorf("dump record %d: %w", n, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	s.logger.Info("dumped store", "records", n, "newest_load", s.newestLoad)
	return nil
}

// Load reads a stream written by Dump into a new store configured by opts.
// The newest load of the result is the newest period of any loaded record.
func Load(ctx context.Context, r io.Reader, opts Options) (*Store, error) {
	s := NewStore(opts)
	dec := json.NewDecoder(bufio.NewReader(r))
	for n := 1; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var p PersistedRecord
		if err := dec.Decode(&p); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("load record %d: %w", n, err)
		}
		if _, dup := s.records[p.RecordID]; dup {
			return nil, fmt.Errorf("load record %d: duplicate record %s", n, p.RecordID)
		}
		rec, err := p.Record()
		if err != nil {
			return nil, fmt.Errorf("load record %d: %w", n, err)
		}
		s.AddRecord(rec)
		if s.progressEvery > 0 && n%s.progressEvery == 0 {
			s.logger.Info("load progress", "records", n)
		}
	}
	s.logger.Info("loaded store", "records", s.Len(), "newest_load", s.newestLoad)
	return s, nil
}
