package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// State store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Settings are the recovery tool's settings.
type Settings struct {
	// DatabasePath is the database to recover.
	DatabasePath string
	// StateDir holds the corruption state. It must not be inside the database.
	StateDir string
	// StateBackend is BackendFile or BackendSQLite.
	StateBackend string
	// IntegrityMode is "quick" or "full".
	IntegrityMode string

	MaxCorruptionCount   int
	MinFreeHeadroomBytes int64
	KeepCorruptCopy      bool

	// LogLevel is debug, info, warn or error. LogFormat is text or json.
	LogLevel  string
	LogFormat string

	Tables   TableSettings
	Progress WeightSettings
}

// TableSettings list tables by copy effort.
type TableSettings struct {
	Flawless   []string
	BestEffort []string
	Skip       []string
}

// WeightSettings are the progress weights of the recovery parts.
// Zero keeps the default weight.
type WeightSettings struct {
	Integrity  int64
	Dump       int64
	Setup      int64
	Recreation int64
}

// DefaultSettings returns the settings used for keys that are not set.
func DefaultSettings() Settings {
	return Settings{
		StateDir:             ".dbrecovery",
		StateBackend:         BackendFile,
		IntegrityMode:        "quick",
		MaxCorruptionCount:   3,
		MinFreeHeadroomBytes: 100 << 20,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// LoadSettings reads Settings from cfg, falling back to DefaultSettings,
// and validates them.
//
// Keys:
//
//	database_path, state_dir, state_backend, integrity_mode,
//	max_corruption_count, min_free_headroom_bytes, keep_corrupt_copy,
//	log_level, log_format
//	tables:   flawless, best_effort, skip
//	progress: integrity, dump, setup, recreation
func LoadSettings(cfg Config) (Settings, error) {
	d := DefaultSettings()
	s := Settings{
		DatabasePath:         cfg.String("database_path", d.DatabasePath),
		StateDir:             cfg.String("state_dir", d.StateDir),
		StateBackend:         strings.ToLower(cfg.String("state_backend", d.StateBackend)),
		IntegrityMode:        strings.ToLower(cfg.String("integrity_mode", d.IntegrityMode)),
		MaxCorruptionCount:   cfg.Int("max_corruption_count", d.MaxCorruptionCount),
		MinFreeHeadroomBytes: cfg.Int64("min_free_headroom_bytes", d.MinFreeHeadroomBytes),
		KeepCorruptCopy:      cfg.Bool("keep_corrupt_copy", d.KeepCorruptCopy),
		LogLevel:             strings.ToLower(cfg.String("log_level", d.LogLevel)),
		LogFormat:            strings.ToLower(cfg.String("log_format", d.LogFormat)),
	}

	tables := cfg.Section("tables")
	s.Tables = TableSettings{
		Flawless:   tables.StringSlice("flawless", nil),
		BestEffort: tables.StringSlice("best_effort", nil),
		Skip:       tables.StringSlice("skip", nil),
	}

	progress := cfg.Section("progress")
	s.Progress = WeightSettings{
		Integrity:  progress.Int64("integrity", 0),
		Dump:       progress.Int64("dump", 0),
		Setup:      progress.Int64("setup", 0),
		Recreation: progress.Int64("recreation", 0),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	switch s.StateBackend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("state_backend: unknown backend %q", s.StateBackend))
	}
	switch s.IntegrityMode {
	case "quick", "full":
	default:
		errs = append(errs, fmt.Errorf("integrity_mode: unknown mode %q", s.IntegrityMode))
	}
	switch s.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unknown format %q", s.LogFormat))
	}
	if _, err := s.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if s.StateDir == "" {
		errs = append(errs, errors.New("state_dir: must not be empty"))
	}
	if s.MaxCorruptionCount < 1 {
		errs = append(errs, fmt.Errorf("max_corruption_count: must be at least 1, got %d", s.MaxCorruptionCount))
	}
	if s.MinFreeHeadroomBytes < 0 {
		errs = append(errs, fmt.Errorf("min_free_headroom_bytes: must not be negative, got %d", s.MinFreeHeadroomBytes))
	}
	for name, w := range map[string]int64{
		"integrity":  s.Progress.Integrity,
		"dump":       s.Progress.Dump,
		"setup":      s.Progress.Setup,
		"recreation": s.Progress.Recreation,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("progress.%s: must not be negative, got %d", name, w))
		}
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (s Settings) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
