package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"stratos-hq/charon/pkg/config"
)

func TestSetupJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.Info("connection accepted", "mode", "forward", "conn_id", "abc")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "connection accepted" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["mode"] != "forward" {
		t.Errorf("mode = %v", entry["mode"])
	}
}

func TestSetupTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.Debug("listener started", "addr", "127.0.0.1:8080")
	if !strings.Contains(buf.String(), "addr=127.0.0.1:8080") {
		t.Errorf("text output missing attribute: %s", buf.String())
	}
}

func TestSetupLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info should be suppressed at warn level: %s", buf.String())
	}
	logger.Warn("emitted")
	if buf.Len() == 0 {
		t.Error("warn should be emitted at warn level")
	}
}

func TestSetupInvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"bad level", config.LoggingConfig{Level: "verbose"}},
		{"bad format", config.LoggingConfig{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Setup(tt.cfg, &bytes.Buffer{}); err == nil {
				t.Error("Setup() should reject invalid configuration")
			}
		})
	}
}

func TestSetupInstallsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	if _, err := Setup(config.LoggingConfig{}, &buf); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	slog.Info("via default")
	if buf.Len() == 0 {
		t.Error("default logger was not replaced")
	}
}
