package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"fib-targets/internal/models"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithConfig(LogConfig{Level: "warn", Console: true, Out: &buf})

	logger.Info().Msg("hidden")
	LogLookupFault(logger, 42, errors.New("lookback exceeded"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "lookup_fault") || !strings.Contains(out, "bar=42") {
		t.Errorf("lookup fault line = %q", out)
	}
}

func TestLogZoneFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	logger = WithSymbol(WithComponent(logger, "engine"), "AAA")

	LogZone(logger, models.Zone{
		ID: "30-bull-fib", Polarity: models.Bull, Kind: models.Confirmed,
		CreatedBar: 30, SwingHigh: 150, SwingLow: 100, Level1: 125, Level2: 111.8,
	})

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"event": "zone", "zone_id": "30-bull-fib", "symbol": "AAA",
		"component": "engine", "level1": 125.0, "span": 50.0,
	}
	for k, v := range want {
		if line[k] != v {
			t.Errorf("%s = %v, want %v", k, line[k], v)
		}
	}
}

func TestFileWriterCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "fib.log")
	logger := NewLoggerWithConfig(LogConfig{Level: "info", File: true, FilePath: path, MaxSize: 1})
	logger.Info().Msg("written")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"message":"written"`) {
		t.Errorf("log file = %q", data)
	}
}
