package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "fib-targets/internal/errors"
)

func TestLoadMissingFileWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("template not written: %v", err)
	}

	d := Default()
	if cfg.Engine != d.Engine {
		t.Errorf("engine = %+v, want %+v", cfg.Engine, d.Engine)
	}
	if cfg.NATS.ReconnectWait != 2*time.Second || cfg.API.Addr != "127.0.0.1:8080" || cfg.Dir != dir {
		t.Errorf("cfg = %+v", cfg)
	}

	// The template itself must decode to the same values.
	again, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Engine != d.Engine || again.Session != d.Session || again.NATS != d.NATS {
		t.Errorf("template decodes to %+v", again)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	toml := `
[engine]
swing_strength = 9
min_swing_length = 12.5
require_swing_trend = false

[session]
timezone = "Asia/Kolkata"
start = "09:15"

[nats]
enabled = true
reconnect_wait = "500ms"
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("FIBTARGETS_API_ADDR=0.0.0.0:9999\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FIBTARGETS_ENGINE_FIB_TARGET_WIDTH", "20")
	// godotenv sets the variable for real; Setenv restores it afterwards.
	t.Setenv("FIBTARGETS_API_ADDR", "")
	os.Unsetenv("FIBTARGETS_API_ADDR")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.SwingStrength != 9 || cfg.Engine.MinSwingLength != 12.5 || cfg.Engine.RequireSwingTrend {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.PredictiveSwingStrength != 3 {
		t.Errorf("unset key lost its default: %+v", cfg.Engine)
	}
	if cfg.Engine.FibTargetWidth != 20 {
		t.Errorf("env override ignored: fib_target_width = %d", cfg.Engine.FibTargetWidth)
	}
	if cfg.API.Addr != "0.0.0.0:9999" {
		t.Errorf(".env override ignored: api.addr = %q", cfg.API.Addr)
	}
	if !cfg.NATS.Enabled || cfg.NATS.ReconnectWait != 500*time.Millisecond {
		t.Errorf("nats = %+v", cfg.NATS)
	}

	cal, err := cfg.Session.Calendar()
	if err != nil {
		t.Fatal(err)
	}
	if cal.Location.String() != "Asia/Kolkata" || cal.Start != 9*time.Hour+15*time.Minute {
		t.Errorf("calendar = %+v", cal)
	}
}

func TestLoadRejectsInvalidEngine(t *testing.T) {
	dir := t.TempDir()
	toml := "[engine]\nlow_fib_percent = 80.0\nhigh_fib_percent = 60.0\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(dir)
	if !apperrors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("err = %v, want ErrConfigInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad timezone", func(c *Config) { c.Session.Timezone = "Mars/Olympus" }, "session"},
		{"bad start", func(c *Config) { c.Session.Start = "25:99" }, "session"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }, "nats.url"},
		{"nats wildcard prefix", func(c *Config) { c.NATS.Enabled = true; c.NATS.SubjectPrefix = "fib.>" }, "nats.subject_prefix"},
		{"disabled nats ignores url", func(c *Config) { c.NATS.URL = "" }, ""},
		{"empty api addr", func(c *Config) { c.API.Addr = "" }, "api.addr"},
		{"engine", func(c *Config) { c.Engine.SwingStrength = 0 }, "swing_strength"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var verr *apperrors.ValidationError
			if !apperrors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("err = %v, want validation error on %s", err, tt.field)
			}
		})
	}
}

func TestWriteTemplateKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteTemplate(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("# mine\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := WriteTemplate(dir, false); err == nil {
		t.Error("existing file overwritten without force")
	}
	if _, err := WriteTemplate(dir, true); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "[engine]") {
		t.Error("force did not rewrite the template")
	}
}
