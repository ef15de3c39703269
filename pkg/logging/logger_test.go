package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) *bytes.Buffer {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &buf
}

func TestInit(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{"debug level", "debug", logrus.DebugLevel},
		{"info level", "info", logrus.InfoLevel},
		{"warn level", "warn", logrus.WarnLevel},
		{"error level", "error", logrus.ErrorLevel},
		{"unknown level defaults to info", "chatty", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = logrus.New()
			if err := Init(tt.level, ""); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if Logger.GetLevel() != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, Logger.GetLevel())
			}
		})
	}
}

func TestInit_WithNestedLogFile(t *testing.T) {
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "logs", "pulsegate", "session.log")

	if err := Init("info", logFile); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}

	Infof("pipeline %s", "started")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file not readable: %v", err)
	}
	if !strings.Contains(string(data), "pipeline started") {
		t.Errorf("log file missing message, got %q", string(data))
	}
}

func TestFormattedFunctions(t *testing.T) {
	buf := captureLogger(logrus.DebugLevel)

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"debugf", func() { Debugf("window %d", 64) }, "window 64"},
		{"infof", func() { Infof("bpm %.1f", 72.0) }, "bpm 72.0"},
		{"warnf", func() { Warnf("static %s", "frame") }, "static frame"},
		{"errorf", func() { Errorf("failed %s", "tick") }, "failed tick"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in output, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestWithFields(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	WithFields(Fields{"state": "confirmed", "bpm": 72}).Info("gate transition")

	output := buf.String()
	if !strings.Contains(output, "state=confirmed") {
		t.Error("state field not in output")
	}
	if !strings.Contains(output, "bpm=72") {
		t.Error("bpm field not in output")
	}
}

func TestWithError(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	WithError(errors.New("non-finite spectrum")).Error("tick discarded")

	if !strings.Contains(buf.String(), "non-finite spectrum") {
		t.Error("error not in output")
	}
}

func TestComponentAndSession(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	Component("detector").Info("model ready")
	if !strings.Contains(buf.String(), "component=detector") {
		t.Error("component field not in output")
	}

	buf.Reset()
	Session("liveness", "abc-123").Info("reset")
	output := buf.String()
	if !strings.Contains(output, "component=liveness") || !strings.Contains(output, "session=abc-123") {
		t.Errorf("session fields missing, got %q", output)
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	buf := captureLogger(logrus.WarnLevel)

	Debugf("debug")
	Infof("info")
	if buf.Len() > 0 {
		t.Errorf("debug/info should be filtered at warn level, got %q", buf.String())
	}

	Warnf("warn")
	if buf.Len() == 0 {
		t.Error("warn should be logged at warn level")
	}
}

func BenchmarkSessionEntry(b *testing.B) {
	Logger = logrus.New()
	Logger.SetOutput(&bytes.Buffer{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Session("liveness", "bench").Debugf("tick %d", i)
	}
}
