package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewFallsBackToInfo(t *testing.T) {
	logger, err := New("verbose", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info level should be enabled")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level should be disabled by default")
	}
}

func TestNewDebug(t *testing.T) {
	logger, err := New("DEBUG", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("debug level should be enabled")
	}
}
