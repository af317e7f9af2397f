// Package metrics provides a thin CSV-backed observational counter for
// SPOP frame traffic. It is not authoritative protocol state: it exists
// only so an operator can eyeball frame and error volume per frame type.
package metrics

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tzrikka/spoa/pkg/spop"
)

// DefaultFile is the CSV file frame counts are appended to when no
// alternative path is configured.
const DefaultFile = "spoa_frames.csv"

// CSVSink is a [spop.MetricsSink] that appends one line per observed
// frame (or decode error) to a CSV file: timestamp, frame type name, a
// "frame"/"error" kind marker, and the numeric frame type.
type CSVSink struct {
	filename string
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewCSVSink builds a [CSVSink] writing to filename. An empty filename
// falls back to [DefaultFile].
func NewCSVSink(filename string, logger zerolog.Logger) *CSVSink {
	if filename == "" {
		filename = DefaultFile
	}
	return &CSVSink{filename: filename, logger: logger}
}

// RecordFrame implements [spop.MetricsSink].
func (s *CSVSink) RecordFrame(t spop.FrameType) {
	s.append(t, "frame")
}

// RecordError implements [spop.MetricsSink].
func (s *CSVSink) RecordError(t spop.FrameType) {
	s.append(t, "error")
}

func (s *CSVSink) append(t spop.FrameType, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error().Err(err).Str("file", s.filename).Msg("failed to open metrics file")
		return
	}
	defer f.Close()

	record := []string{time.Now().UTC().Format(time.RFC3339), t.String(), kind, strconv.Itoa(int(t))}
	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		s.logger.Error().Err(err).Str("file", s.filename).Msg("failed to write metrics record")
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Error().Err(err).Str("file", s.filename).Msg("failed to flush metrics file")
	}
}
