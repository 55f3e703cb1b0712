package history

import (
	"fmt"
	"strconv"
	"strings"
)

// ItemID identifies a single tracked item. It is opaque and stable.
type ItemID string

// RecordID identifies the record that owns items. Input forms may carry
// leading zeros; ParseRecordID normalizes them away.
type RecordID int64

// ParseRecordID parses a string of decimal digits, ignoring leading zeros,
// so "007" and "7" name the same record.
func ParseRecordID(s string) (RecordID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty record id")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("record id %q: not a digit string", s)
		}
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("record id %q: %w", s, err)
	}
	return RecordID(n), nil
}

// String renders the id zero padded to nine digits, the redirect file layout.
func (r RecordID) String() string { return fmt.Sprintf("%09d", int64(r)) }
