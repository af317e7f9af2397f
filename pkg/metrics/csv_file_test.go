package metrics_test

import (
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tzrikka/spoa/pkg/metrics"
	"github.com/tzrikka/spoa/pkg/spop"
)

func TestCSVSinkRecordFrameAndError(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/frames.csv"

	s := metrics.NewCSVSink(path, zerolog.Nop())
	s.RecordFrame(spop.FrameTypeNotify)
	s.RecordError(spop.FrameTypeHAProxyHello)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), string(b))
	}
	if !strings.Contains(lines[0], ",frame,") {
		t.Errorf("line 0 = %q, want a \"frame\" kind marker", lines[0])
	}
	if !strings.Contains(lines[1], ",error,") {
		t.Errorf("line 1 = %q, want an \"error\" kind marker", lines[1])
	}
}

func TestNewCSVSinkDefaultFilename(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	s := metrics.NewCSVSink("", zerolog.Nop())
	s.RecordFrame(spop.FrameTypeAck)

	if _, err := os.Stat(metrics.DefaultFile); err != nil {
		t.Fatalf("expected %s to exist: %v", metrics.DefaultFile, err)
	}
}
