package history

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// LineDecoder extracts the item and record ids from one snapshot row.
type LineDecoder interface {
	Decode(line string) (ItemID, RecordID, error)
}

// TabDecoder reads tab separated rows, taking the item id and record id from
// fixed zero-based columns.
type TabDecoder struct {
	ItemColumn   int
	RecordColumn int
}

// DefaultLineDecoder matches the monthly full-file layout: item id first,
// record id in the fourth column.
var DefaultLineDecoder = TabDecoder{ItemColumn: 0, RecordColumn: 3}

// Decode implements LineDecoder. Errors wrap ErrMalformedLine. Item ids must
// be valid UTF-8 so they survive a JSON dump unchanged.
func (d TabDecoder) Decode(line string) (ItemID, RecordID, error) {
	line = strings.TrimRight(line, "\r\n")
	need := max(d.ItemColumn, d.RecordColumn) + 1
	fields := strings.SplitN(line, "\t", need+1)
	if len(fields) < need {
		return "", 0, fmt.Errorf("%w: %d fields, need %d", ErrMalformedLine, len(fields), need)
	}
	item := strings.TrimSpace(fields[d.ItemColumn])
	if item == "" {
		return "", 0, fmt.Errorf("%w: missing item id", ErrMalformedLine)
	}
	if !utf8.ValidString(item) {
		return "", 0, fmt.Errorf("%w: item id %q is not valid UTF-8", ErrMalformedLine, item)
	}
	record, err := ParseRecordID(fields[d.RecordColumn])
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return ItemID(item), record, nil
}
