package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/learnstr/learnstr/internal/config"
)

func jsonLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: level, Format: "json"}, &buf)
	return log, &buf
}

func parseLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("Log output is not JSON: %v\n%s", err, line)
	}
	return entry
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	log, buf := jsonLogger("warn")

	log.Debug("debug message")
	log.Info("info message")
	log.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("Expected debug and info suppressed at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("Expected the warn message to pass")
	}
}

func TestNewLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	log, buf := jsonLogger("chatty")

	log.Debug("hidden")
	log.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("Expected debug suppressed for an unknown level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("Expected info to pass for an unknown level")
	}
}

func TestWithComponent(t *testing.T) {
	log, buf := jsonLogger("info")

	log.WithComponent("publisher").Info("hello")

	entry := parseLine(t, buf)
	if entry["component"] != "publisher" {
		t.Errorf("Expected component field, got %v", entry["component"])
	}
}

func TestIsDebugEnabled(t *testing.T) {
	debug, _ := jsonLogger("debug")
	info, _ := jsonLogger("info")

	if !debug.IsDebugEnabled() {
		t.Error("Expected debug enabled")
	}
	if info.IsDebugEnabled() {
		t.Error("Expected debug disabled at info level")
	}
}

func TestLogPublishStep_ErrorLevel(t *testing.T) {
	log, buf := jsonLogger("error")

	log.LogPublishStep("draft-1", "sign", "error", "user declined")

	entry := parseLine(t, buf)
	if entry["draft_id"] != "draft-1" || entry["step"] != "sign" {
		t.Errorf("Expected draft and step fields, got %v", entry)
	}
	if entry["error"] != "user declined" {
		t.Errorf("Expected the error message, got %v", entry["error"])
	}
}

func TestLogPersistenceInconsistency_AlwaysLoud(t *testing.T) {
	log, buf := jsonLogger("error")

	log.LogPersistenceInconsistency("draft-1", "30023:ab:draft-1", errors.New("disk full"))

	entry := parseLine(t, buf)
	if entry["level"] != "ERROR" {
		t.Errorf("Expected error level, got %v", entry["level"])
	}
	msg, _ := entry["msg"].(string)
	if !strings.Contains(msg, "PERSISTENCE INCONSISTENCY") {
		t.Errorf("Expected the dedicated marker, got %q", msg)
	}
	if entry["address"] != "30023:ab:draft-1" {
		t.Errorf("Expected the address field, got %v", entry["address"])
	}
}

func TestLogResolveBatch(t *testing.T) {
	log, buf := jsonLogger("debug")

	log.LogResolveBatch(5, 3, 120*time.Millisecond, nil)

	entry := parseLine(t, buf)
	if entry["requested"] != float64(5) || entry["found"] != float64(3) {
		t.Errorf("Expected batch counters, got %v", entry)
	}
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	defer SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&config.Logging{Level: "info", Format: "json"}, &buf))

	Info("through the default logger")

	if !strings.Contains(buf.String(), "through the default logger") {
		t.Error("Expected package-level logging to use the default logger")
	}
}
