package history

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// maxLineBytes bounds a single snapshot row. Longer rows are skipped as
// malformed.
const maxLineBytes = 16 << 20

// IngestStats summarizes one Ingest call.
type IngestStats struct {
	Period    Period
	Lines     int
	Sightings int
	Malformed int
}

// Ingest reads one monthly snapshot and records every row as seen in period.
//
// Rows that fail to decode are logged and skipped. The snapshot is staged in
// full before it is applied, so a read error or a cancelled context leaves
// the store exactly as it was. An empty snapshot changes nothing.
func (s *Store) Ingest(ctx context.Context, r io.Reader, period Period, dec LineDecoder) (IngestStats, error) {
	stats := IngestStats{Period: period}
	if !period.Valid() {
		return stats, fmt.Errorf("ingest: invalid period %d", int(period))
	}
	if dec == nil {
		dec = DefaultLineDecoder
	}
	staged := make(map[RecordID][]ItemID)
	br := bufio.NewReaderSize(r, 64*1024)
	var buf []byte
	for {
		line, tooLong, err := readLine(br, buf, s.maxLine)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("ingest %s: read line %d: %w", period, stats.Lines+1, err)
		}
		buf = line
		stats.Lines++
		if stats.Lines%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("ingest %s: %w", period, err)
			}
		}
		if s.progressEvery > 0 && stats.Lines%s.progressEvery == 0 {
			s.logger.Info("ingest progress", "period", period, "lines", stats.Lines, "records", len(staged))
		}
		if tooLong {
			stats.Malformed++
			s.logger.Warn("skipping snapshot line", "period", period, "line", stats.Lines,
				"error", fmt.Errorf("%w: longer than %d bytes", ErrMalformedLine, s.maxLine))
			continue
		}
		item, record, err := dec.Decode(string(line))
		if err != nil {
			stats.Malformed++
			s.logger.Warn("skipping snapshot line", "period", period, "line", stats.Lines, "error", err)
			continue
		}
		staged[record] = append(staged[record], item)
		stats.Sightings++
	}
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("ingest %s: %w", period, err)
	}
	if stats.Sightings == 0 {
		s.logger.Warn("snapshot had no usable rows", "period", period, "lines", stats.Lines)
		return stats, nil
	}
	for record, items := range staged {
		for _, item := range items {
			s.see(item, record, period)
		}
	}
	s.invalidate()
	s.logger.Info("ingested snapshot", "period", period, "lines", stats.Lines,
		"sightings", stats.Sightings, "malformed", stats.Malformed, "records", len(s.records))
	return stats, nil
}

// readLine returns the next line of br without its newline, reusing buf. A
// line longer than limit is consumed in full and reported as too long with
// no content. io.EOF is returned only once no bytes remain.
func readLine(br *bufio.Reader, buf []byte, limit int) ([]byte, bool, error) {
	buf = buf[:0]
	tooLong := false
	read := 0
	for {
		chunk, err := br.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			n := len(buf) + len(chunk)
			if err == nil {
				n--
			}
			if n > limit {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			return bytes.TrimSuffix(buf, []byte("\n")), tooLong, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && read > 0:
			return buf, tooLong, nil
		default:
			return nil, false, err
		}
	}
}
