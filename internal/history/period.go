package history

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Period is a calendar month in YYYYMM form. Periods order naturally as integers.
type Period int

// ParsePeriod parses a six digit YYYYMM string.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if len(s) != 6 {
		return 0, fmt.Errorf("period %q: want YYYYMM", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("period %q: %w", s, err)
	}
	p := Period(n)
	if !p.Valid() {
		return 0, fmt.Errorf("period %q: month out of range", s)
	}
	return p, nil
}

// PeriodFromFilename derives the period from a dated snapshot name such as
// hathi_full_20220201.txt.gz. The digits of the base name must form a
// YYYYMMDD stamp; the day is discarded.
func PeriodFromFilename(name string) (Period, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, path.Base(name))
	if len(digits) != 8 {
		return 0, fmt.Errorf("file %q: no YYYYMMDD stamp in name", name)
	}
	return ParsePeriod(digits[:6])
}

// Year returns the four digit year.
func (p Period) Year() int { return int(p) / 100 }

// Month returns the month, 1 through 12 for valid periods.
func (p Period) Month() int { return int(p) % 100 }

// Valid reports whether p is a positive YYYYMM value with a real month.
func (p Period) Valid() bool {
	m := p.Month()
	return p > 0 && m >= 1 && m <= 12
}

// Prev returns the month before p.
func (p Period) Prev() Period {
	if p.Month() == 1 {
		return Period((p.Year()-1)*100 + 12)
	}
	return p - 1
}

// Next returns the month after p.
func (p Period) Next() Period {
	if p.Month() == 12 {
		return Period((p.Year()+1)*100 + 1)
	}
	return p + 1
}

func (p Period) String() string { return fmt.Sprintf("%06d", int(p)) }
