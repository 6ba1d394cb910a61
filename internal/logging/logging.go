// Package logging builds the zerolog loggers used by engines, the runner and
// the CLI.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"fib-targets/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days

	// Out replaces stderr for console output. Tests set it.
	Out io.Writer `mapstructure:"-" json:"-"`
}

// DefaultLogConfig logs info and above to the console only.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		FilePath:   filepath.Join(home, ".config", "fib-targets", "logs", "fib-targets.log"),
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	}
}

var levelLabels = map[string]string{
	"debug": "\033[36mDBG\033[0m",
	"info":  "\033[32mINF\033[0m",
	"warn":  "\033[33mWRN\033[0m",
	"error": "\033[31mERR\033[0m",
}

// NewLoggerWithConfig builds a logger writing to the console, the rotating
// log file, both, or stderr when neither is enabled. The file is JSON; the
// console is human readable.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.Out != nil,
			FormatLevel: func(i interface{}) string {
				s, _ := i.(string)
				if cfg.Out == nil {
					if label, ok := levelLabels[s]; ok {
						return label
					}
				}
				return strings.ToUpper(s)
			},
		})
	}
	if cfg.File && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = out
	case 1:
		w = writers[0]
	default:
		w = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
}

// ParseLevel maps a config level to zerolog, falling back to info.
func ParseLevel(level string) zerolog.Level {
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return l
}

// SetDebugLevel lowers the global level so --debug reaches every logger.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogZone records a drawn zone at debug level.
func LogZone(logger zerolog.Logger, zone models.Zone) {
	logger.Debug().
		Str("event", "zone").
		Str("zone_id", zone.ID).
		Str("polarity", string(zone.Polarity)).
		Str("kind", string(zone.Kind)).
		Int("bar", zone.CreatedBar).
		Int("anchor_bars_ago", zone.AnchorBarsAgo).
		Float64("level1", zone.Level1).
		Float64("level2", zone.Level2).
		Float64("span", zone.Span()).
		Msg("Retracement zone drawn")
}

// LogLookupFault records a swing lookup that reached past retained history.
// The bar emits nothing.
func LogLookupFault(logger zerolog.Logger, bar int, err error) {
	logger.Warn().
		Str("event", "lookup_fault").
		Int("bar", bar).
		Err(err).
		Msg("Swing lookup failed, skipping candidates for this bar")
}
