package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fortiblox/X1-Onering/internal/config"
)

func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Console
	Console = &buf
	t.Cleanup(func() { Console = prev })
	return &buf
}

func TestNewJSONConsole(t *testing.T) {
	buf := captureConsole(t)

	logger, closeFn, err := New("onering", config.LogConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closeFn()

	logger.Debug("executed", "slot", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["service"] != "onering" || entry["msg"] != "executed" || entry["slot"] != float64(7) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureConsole(t)

	logger, _, err := New("onering", config.LogConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("level filter: got %q", out)
	}
}

func TestFileOutput(t *testing.T) {
	buf := captureConsole(t)
	path := filepath.Join(t.TempDir(), "nested", "onering.log")

	logger, closeFn, err := New("onering", config.LogConfig{Output: "both", FilePath: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("to both")
	if err := closeFn(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "to both") || !strings.Contains(buf.String(), "to both") {
		t.Errorf("file %q, console %q", data, buf.String())
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"level", config.LogConfig{Level: "loud"}},
		{"format", config.LogConfig{Format: "xml"}},
		{"output", config.LogConfig{Output: "syslog"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := New("onering", tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBadgerAdapter(t *testing.T) {
	buf := captureConsole(t)
	logger, _, err := New("onering", config.LogConfig{Level: "info"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bl := Badger(logger)
	bl.Infof("compaction %d\n", 1)
	bl.Warningf("slow write %s\n", "vlog")

	out := buf.String()
	if strings.Contains(out, "compaction") {
		t.Error("badger info should be logged at debug")
	}
	if !strings.Contains(out, "slow write vlog") || !strings.Contains(out, "component=badger") {
		t.Errorf("badger warning: got %q", out)
	}
}
