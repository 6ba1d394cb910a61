package config

import (
	"fmt"
	"os"
	"path/filepath"

	apperrors "fib-targets/internal/errors"
)

const configTemplate = `# fib-targets configuration
# Every key can be overridden with FIBTARGETS_<SECTION>_<KEY>,
# e.g. FIBTARGETS_ENGINE_SWING_STRENGTH=10

[engine]
# Bars on each side a swing must dominate
swing_strength = 15
# Strength of the fast detector used for predictive zones
predictive_swing_strength = 3
# Minimum high-to-low span, in price units, for a zone
min_swing_length = 40.0
# Retracement percentages of the band edges
low_fib_percent = 50.0
high_fib_percent = 76.4
# Only emit zones that agree with the swing trend
require_swing_trend = true
# Draw provisional zones from the fast detector
use_predictive_retracements = true
# How many bars a zone extends to the right
fib_target_width = 50
# Bars of history kept (0 = unbounded)
max_bars_lookback = 256

[session]
# IANA timezone and HH:MM session open
timezone = "UTC"
start = "00:00"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
# file_path = "~/.config/fib-targets/logs/fib-targets.log"
max_size = 20
max_backups = 3
max_age = 14

[store]
# SQLite database used by scan --store, zones, signals and serve
# path = "~/.config/fib-targets/fib-targets.db"

[nats]
enabled = false
url = "nats://127.0.0.1:4222"
subject_prefix = "fibtargets"
max_reconnects = 10
reconnect_wait = "2s"
connect_timeout = "30s"

[api]
addr = "127.0.0.1:8080"
read_timeout = "10s"
write_timeout = "10s"
`

// Template returns the default config file contents.
func Template() string {
	return configTemplate
}

// WriteTemplate writes the default config.toml into configDir and returns
// its path. An existing file is kept unless force is set.
func WriteTemplate(configDir string, force bool) (string, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", apperrors.Wrap(err, "creating config directory")
	}

	path := filepath.Join(configDir, FileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return "", apperrors.Wrap(err, "writing config template")
	}
	return path, nil
}
