package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		level string
		json  bool
		want  zapcore.Level
	}{
		{"debug", false, zapcore.DebugLevel},
		{"info", true, zapcore.InfoLevel},
		{"warn", true, zapcore.WarnLevel},
		{"ERROR", false, zapcore.ErrorLevel},
	} {
		logger, err := New(tc.level, tc.json)
		if err != nil {
			t.Fatalf("%s: %v", tc.level, err)
		}
		if !logger.Core().Enabled(tc.want) {
			t.Fatalf("%s: expect %s enabled", tc.level, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Fatalf("%s: expect %s disabled", tc.level, tc.want-1)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New("loud", true); err == nil {
		t.Fatal("expect error for unknown level")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expect Must to panic")
		}
	}()
	Must("loud", false)
}
