// Package config holds the per-project options for fleettools. Options come
// from three layers applied in order: built-in defaults, the optional
// .fleet/config.yaml file, and FLEET_* environment variables. Explicit caller
// fields set after Load always win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"fleettools/internal/types"
)

// Defaults for TTLs and thresholds. Durations are strings in YAML and parsed
// through the Get* accessors.
const (
	DefaultDatabaseFilename = "fleet.db"
	DefaultReservationTTL   = time.Hour
	DefaultLockTTL          = 5 * time.Minute
	DefaultStallThreshold   = 30 * time.Minute
)

// Options configures one project's coordination substrate.
type Options struct {
	// ProjectPath is the absolute path that identifies the project. It
	// determines where .fleet/ lives and is the project key on every row.
	ProjectPath string `yaml:"project_path"`

	// DatabaseFilename names the DB file under .fleet/ (default fleet.db).
	DatabaseFilename string `yaml:"database_filename"`

	// InMemory opens a throwaway in-memory database for tests.
	InMemory bool `yaml:"in_memory"`

	// ReservationTTL is the default reservation lifetime when the caller
	// supplies none. Duration string, default "1h".
	ReservationTTL string `yaml:"reservation_ttl"`

	// LockTTL is the default lock lifetime. Duration string, default "5m".
	LockTTL string `yaml:"lock_ttl"`

	// CheckpointsDir overrides <project>/.fleet/checkpoints, mainly for tests.
	CheckpointsDir string `yaml:"checkpoints_dir"`

	// StallThreshold is the inactivity window after which an in-progress
	// mission counts as a recovery candidate. Duration string, default "30m".
	StallThreshold string `yaml:"stall_threshold"`

	// Logging mirrors the section the logging package reads directly.
	Logging LoggingOptions `yaml:"logging"`

	// Clock supplies the current time; nil means time.Now. Tests inject a
	// controllable clock to exercise TTL expiry.
	Clock types.Clock `yaml:"-"`
}

// LoggingOptions gates the categorized file logger.
type LoggingOptions struct {
	Debug      bool            `yaml:"debug"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultOptions returns the defaults for a project.
func DefaultOptions(projectPath string) Options {
	return Options{
		ProjectPath:      projectPath,
		DatabaseFilename: DefaultDatabaseFilename,
		ReservationTTL:   DefaultReservationTTL.String(),
		LockTTL:          DefaultLockTTL.String(),
		StallThreshold:   DefaultStallThreshold.String(),
		Logging: LoggingOptions{
			Level: "info",
		},
	}
}

// Load builds Options for a project: defaults, then .fleet/config.yaml if
// present, then environment overrides.
func Load(projectPath string) (Options, error) {
	opts := DefaultOptions(projectPath)

	configPath := filepath.Join(projectPath, ".fleet", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return opts, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return opts, fmt.Errorf("failed to parse config: %w", err)
		}
		// The file must not relocate the project it lives in.
		opts.ProjectPath = projectPath
	}

	opts.applyEnvOverrides()

	return opts, nil
}

// Save writes the options to <project>/.fleet/config.yaml.
func (o Options) Save() error {
	dir := filepath.Join(o.ProjectPath, ".fleet")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies FLEET_* environment variables.
func (o *Options) applyEnvOverrides() {
	if v := os.Getenv("FLEET_DB_FILENAME"); v != "" {
		o.DatabaseFilename = v
	}
	if v := os.Getenv("FLEET_RESERVATION_TTL"); v != "" {
		o.ReservationTTL = v
	}
	if v := os.Getenv("FLEET_LOCK_TTL"); v != "" {
		o.LockTTL = v
	}
	if v := os.Getenv("FLEET_STALL_THRESHOLD"); v != "" {
		o.StallThreshold = v
	}
	if os.Getenv("FLEET_DEBUG") == "1" {
		o.Logging.Debug = true
		o.Logging.Level = "debug"
	}
}

// Validate checks that the options can actually open a project.
func (o Options) Validate() error {
	if o.ProjectPath == "" && !o.InMemory {
		return fmt.Errorf("project path required")
	}
	if o.ReservationTTL != "" {
		if _, err := time.ParseDuration(o.ReservationTTL); err != nil {
			return fmt.Errorf("invalid reservation_ttl %q: %w", o.ReservationTTL, err)
		}
	}
	if o.LockTTL != "" {
		if _, err := time.ParseDuration(o.LockTTL); err != nil {
			return fmt.Errorf("invalid lock_ttl %q: %w", o.LockTTL, err)
		}
	}
	if o.StallThreshold != "" {
		if _, err := time.ParseDuration(o.StallThreshold); err != nil {
			return fmt.Errorf("invalid stall_threshold %q: %w", o.StallThreshold, err)
		}
	}
	return nil
}

// FleetDir returns <project>/.fleet.
func (o Options) FleetDir() string {
	return filepath.Join(o.ProjectPath, ".fleet")
}

// DatabasePath returns the SQLite path, or ":memory:" for in-memory mode.
func (o Options) DatabasePath() string {
	if o.InMemory {
		return ":memory:"
	}
	name := o.DatabaseFilename
	if name == "" {
		name = DefaultDatabaseFilename
	}
	return filepath.Join(o.FleetDir(), name)
}

// CheckpointsPath returns the checkpoints directory.
func (o Options) CheckpointsPath() string {
	if o.CheckpointsDir != "" {
		return o.CheckpointsDir
	}
	return filepath.Join(o.FleetDir(), "checkpoints")
}

// GetReservationTTL parses the reservation TTL with fallback to the default.
func (o Options) GetReservationTTL() time.Duration {
	if d, err := time.ParseDuration(o.ReservationTTL); err == nil && d > 0 {
		return d
	}
	return DefaultReservationTTL
}

// GetLockTTL parses the lock TTL with fallback to the default.
func (o Options) GetLockTTL() time.Duration {
	if d, err := time.ParseDuration(o.LockTTL); err == nil && d > 0 {
		return d
	}
	return DefaultLockTTL
}

// GetStallThreshold parses the stall threshold with fallback to the default.
func (o Options) GetStallThreshold() time.Duration {
	if d, err := time.ParseDuration(o.StallThreshold); err == nil && d > 0 {
		return d
	}
	return DefaultStallThreshold
}

// GetClock returns the configured clock or the wall clock.
func (o Options) GetClock() types.Clock {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}
