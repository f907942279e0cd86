package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error message")
			logger.Warnf("warn message")
			logger.Infof("info message")
			logger.Debugf("debug message")

			output := buf.String()

			if got := strings.Contains(output, "ERROR "); got != tt.wantError {
				t.Errorf("Errorf logged: got %v, want %v", got, tt.wantError)
			}
			if got := strings.Contains(output, "WARN "); got != tt.wantWarn {
				t.Errorf("Warnf logged: got %v, want %v", got, tt.wantWarn)
			}
			if got := strings.Contains(output, "INFO "); got != tt.wantInfo {
				t.Errorf("Infof logged: got %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "DEBUG "); got != tt.wantDebug {
				t.Errorf("Debugf logged: got %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestDefaultLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	logger.Errorf("error %d", 1)
	logger.Warnf("warn %d", 2)
	logger.Infof("info %d", 3)
	logger.Debugf("debug %d", 4)

	output := buf.String()

	for _, want := range []string{"error 1", "warn 2", "info 3", "debug 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("formatted message %q not found", want)
		}
	}
}

func TestDefaultLogger_FatalHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	var got string
	logger.SetFatalHandler(func(msg string) { got = msg })

	logger.Fatalf("device %s gone", "mem0")

	if !strings.Contains(buf.String(), "FATAL device mem0 gone") {
		t.Errorf("fatal message not logged: %q", buf.String())
	}
	if got != "device mem0 gone" {
		t.Errorf("fatal handler got %q", got)
	}
}

func TestDefaultLogger_FatalAlwaysLogged(t *testing.T) {
	// Fatal bypasses level filtering.
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	logger.Fatalf("boom")

	if !strings.Contains(buf.String(), "FATAL boom") {
		t.Errorf("fatal message filtered out: %q", buf.String())
	}
}

func TestIsNil(t *testing.T) {
	if !IsNil(nil) {
		t.Error("IsNil(nil) = false")
	}

	var typedNil *DefaultLogger
	var l Logger = typedNil
	if !IsNil(l) {
		t.Error("IsNil(typed-nil) = false")
	}

	if IsNil(Discard) {
		t.Error("IsNil(Discard) = true")
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Error("OrDefault(nil) returned nil")
	}

	if got := OrDefault(Discard); got != Discard {
		t.Errorf("OrDefault(Discard) = %v, want Discard", got)
	}
}
