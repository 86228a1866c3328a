package recordbase

import (
	"bytes"
	"strings"
	"testing"
)

func TestNoOpLogger(t *testing.T) {
	logger := &NoOpLogger{}

	logger.Debug("test message", "key", "value")
	logger.Info("test message", "key", "value")
	logger.Warn("test message", "key", "value")
	logger.Error("test message", "key", "value")
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = &NoOpLogger{}
	var _ Logger = &StdLogger{}
	var _ Logger = &ZapLogger{}
}

func TestStdLoggerFormatting(t *testing.T) {
	testCases := []struct {
		name   string
		fields []interface{}
		want   string
	}{
		{"no fields", nil, "[INFO] message"},
		{"one pair", []interface{}{"key", "value"}, "[INFO] message key=value"},
		{"multiple pairs", []interface{}{"k1", "v1", "k2", 2}, "[INFO] message k1=v1 k2=2"},
		{"odd fields drop the dangling key", []interface{}{"k1", "v1", "k2"}, "[INFO] message k1=v1"},
		{"nil value", []interface{}{"err", nil}, "[INFO] message err=<nil>"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewStdLoggerTo(&buf, "test")
			logger.Info("message", tc.fields...)

			line := strings.TrimSpace(buf.String())
			if !strings.HasPrefix(line, "test ") {
				t.Errorf("missing prefix: %q", line)
			}
			if !strings.HasSuffix(line, tc.want) {
				t.Errorf("line = %q, want suffix %q", line, tc.want)
			}
		})
	}
}

func TestLoggerOrNoop(t *testing.T) {
	if _, ok := loggerOrNoop(nil).(*NoOpLogger); !ok {
		t.Error("nil logger should become NoOpLogger")
	}
	std := NewStdLogger("")
	if loggerOrNoop(std) != Logger(std) {
		t.Error("non-nil logger should be returned unchanged")
	}
}

// capturingLogger records messages for assertions in other tests.
type capturingLogger struct {
	NoOpLogger
	warnings []string
	errors   []string
}

func (l *capturingLogger) Warn(msg string, fields ...interface{})  { l.warnings = append(l.warnings, msg) }
func (l *capturingLogger) Error(msg string, fields ...interface{}) { l.errors = append(l.errors, msg) }
