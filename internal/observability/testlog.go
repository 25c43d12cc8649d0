package observability

import (
	"log/slog"
	"strings"
	"testing"
)

type testWriter struct {
	tb testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.tb.Helper()
	w.tb.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewTestLogger returns a debug-level logger that writes through tb.Log.
func NewTestLogger(tb testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{tb: tb}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
