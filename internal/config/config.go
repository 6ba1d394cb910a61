// Package config provides configuration management for fib-targets.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fib-targets/internal/analysis/fib"
	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/logging"
	"fib-targets/internal/messaging"
	"fib-targets/internal/series"
)

// EnvPrefix prefixes every environment override, e.g.
// FIBTARGETS_ENGINE_SWING_STRENGTH.
const EnvPrefix = "FIBTARGETS"

// FileName is the config file name inside the config directory.
const FileName = "config.toml"

// Config holds all application configuration.
type Config struct {
	Engine  fib.Config        `mapstructure:"engine"`
	Session SessionConfig     `mapstructure:"session"`
	Logging logging.LogConfig `mapstructure:"logging"`
	Store   StoreConfig       `mapstructure:"store"`
	NATS    messaging.Config  `mapstructure:"nats"`
	API     APIConfig         `mapstructure:"api"`

	// Dir is the directory the config was loaded from.
	Dir string `mapstructure:"-"`
}

// SessionConfig decides where one trading session ends and the next begins.
type SessionConfig struct {
	Timezone string `mapstructure:"timezone"`
	Start    string `mapstructure:"start"` // HH:MM in Timezone
}

// Calendar builds the session calendar described by the config.
func (s SessionConfig) Calendar() (series.SessionCalendar, error) {
	return series.NewSessionCalendar(s.Timezone, s.Start)
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// APIConfig holds HTTP API configuration.
type APIConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/fib-targets"
	}
	return filepath.Join(home, ".config", "fib-targets")
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	dir := DefaultConfigDir()
	return Config{
		Engine:  fib.DefaultConfig(),
		Session: SessionConfig{Timezone: "UTC", Start: "00:00"},
		Logging: logging.DefaultLogConfig(),
		Store:   StoreConfig{Path: filepath.Join(dir, "fib-targets.db")},
		NATS:    messaging.DefaultConfig(),
		API: APIConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Dir: dir,
	}
}

// Load reads config.toml from configDir (the default directory when
// empty). A missing file is replaced by the template and the defaults are
// used. A .env file in configDir or the working directory is loaded first
// so FIBTARGETS_ variables can come from it.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := loadDotEnv(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, apperrors.Wrap(err, "loading .env")
	}

	v := newViper(configDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, apperrors.Wrapf(err, "reading %s", FileName)
		}
		if _, err := WriteTemplate(configDir, false); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.Wrapf(err, "decoding %s", FileName)
	}
	cfg.Dir = configDir

	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "validating config")
	}
	return cfg, nil
}

func newViper(configDir string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	return v
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("engine.swing_strength", d.Engine.SwingStrength)
	v.SetDefault("engine.predictive_swing_strength", d.Engine.PredictiveSwingStrength)
	v.SetDefault("engine.min_swing_length", d.Engine.MinSwingLength)
	v.SetDefault("engine.low_fib_percent", d.Engine.LowFibPercent)
	v.SetDefault("engine.high_fib_percent", d.Engine.HighFibPercent)
	v.SetDefault("engine.require_swing_trend", d.Engine.RequireSwingTrend)
	v.SetDefault("engine.use_predictive_retracements", d.Engine.UsePredictiveRetracements)
	v.SetDefault("engine.fib_target_width", d.Engine.FibTargetWidth)
	v.SetDefault("engine.max_bars_lookback", d.Engine.MaxBarsLookBack)

	v.SetDefault("session.timezone", d.Session.Timezone)
	v.SetDefault("session.start", d.Session.Start)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("nats.enabled", d.NATS.Enabled)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("nats.max_reconnects", d.NATS.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", d.NATS.ReconnectWait)
	v.SetDefault("nats.connect_timeout", d.NATS.ConnectTimeout)

	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
}

func loadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return apperrors.Wrapf(err, "loading %s", path)
		}
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if _, err := c.Session.Calendar(); err != nil {
		return apperrors.NewValidationError("session", c.Session.Timezone+" "+c.Session.Start, err.Error())
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.NewValidationError("logging.level", c.Logging.Level, "must be debug, info, warn or error")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			return apperrors.NewValidationError("nats.url", c.NATS.URL, "required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
			return apperrors.NewValidationError("nats.subject_prefix", c.NATS.SubjectPrefix, "must be a plain subject prefix")
		}
	}
	if c.NATS.MaxReconnects < -1 {
		return apperrors.NewValidationError("nats.max_reconnects", c.NATS.MaxReconnects, "must be >= -1")
	}

	if c.API.Addr == "" {
		return apperrors.NewValidationError("api.addr", c.API.Addr, "must not be empty")
	}
	return nil
}
