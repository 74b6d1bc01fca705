package shake

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ReadCSV streams samples from lines of "unix_millis,x,y,z" into out and
// closes it when r is exhausted. Blank lines and lines starting with '#'
// are skipped.
func ReadCSV(ctx context.Context, r io.Reader, out chan<- Sample) error {
	defer close(out)
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("read sample %d: %w", line, err)
		}
		s, err := parseRecord(rec)
		if err != nil {
			return fmt.Errorf("sample %d: %w", line, err)
		}
		select {
		case out <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func parseRecord(rec []string) (Sample, error) {
	if len(rec) != 4 {
		return Sample{}, fmt.Errorf("want 4 fields, got %d", len(rec))
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	if err != nil {
		return Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	var axes [3]float64
	for i := range axes {
		axes[i], err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("axis %d: %w", i, err)
		}
	}
	return Sample{X: axes[0], Y: axes[1], Z: axes[2], At: time.UnixMilli(ms).UTC()}, nil
}
