// Package logging provides config-driven categorized file-based logging for
// fleettools. Logs are written to <project>/.fleet/logs/ with separate files
// per category. Logging is controlled by the logging section of
// .fleet/config.yaml or the FLEET_DEBUG environment variable; when disabled,
// no files are created and every call is a no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Category represents a log category/system.
type Category string

const (
	CategoryStore      Category = "store"      // Driver, schema, migrations
	CategoryEvents     Category = "events"     // Event append and queries
	CategoryProjection Category = "projection" // Projection handlers, rebuild
	CategoryLocks      Category = "locks"      // Locks, reservations, sweeps
	CategoryCheckpoint Category = "checkpoint" // Checkpoint capture and files
	CategoryRecovery   Category = "recovery"   // Restore, stall detection
	CategoryFleet      Category = "fleet"      // Coordination facade
	CategoryCLI        Category = "cli"        // Command-line surface
)

// loggingConfig mirrors the logging section of config.Options to avoid a
// circular import; this package reads the config file directly.
type loggingConfig struct {
	Debug      bool            `yaml:"debug"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// configFile is the subset of .fleet/config.yaml this package cares about.
type configFile struct {
	Logging loggingConfig `yaml:"logging"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	projectPath  string
	config       loggingConfig
	configMu     sync.RWMutex
	logLevel     int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config. Call once per
// process with the project path; later calls for the same path are cheap.
func Initialize(project string) error {
	if project == "" {
		return fmt.Errorf("project path required")
	}

	projectPath = project
	logsDir = filepath.Join(projectPath, ".fleet", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.Debug = false
	}

	// FLEET_DEBUG=1 forces debug logging on regardless of the config file.
	if os.Getenv("FLEET_DEBUG") == "1" {
		configMu.Lock()
		config.Debug = true
		logLevel = LevelDebug
		configMu.Unlock()
	}

	if !IsDebugMode() {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	fleetLogger := Get(CategoryFleet)
	fleetLogger.Info("=== fleettools logging initialized ===")
	fleetLogger.Info("Project: %s", projectPath)
	fleetLogger.Info("Logs directory: %s", logsDir)

	return nil
}

// loadConfig reads the logging section from .fleet/config.yaml.
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(projectPath, ".fleet", "config.yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = quiet mode (no logging)
			config.Debug = false
			return nil
		}
		return err
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging

	switch config.Level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}

	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.Debug
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.Debug {
		return false
	}

	if config.Categories == nil {
		return true
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a no-op
// logger if debug mode is disabled or the category is filtered out.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// Events logs to the events category
func Events(format string, args ...interface{}) {
	Get(CategoryEvents).Info(format, args...)
}

// EventsDebug logs debug to the events category
func EventsDebug(format string, args ...interface{}) {
	Get(CategoryEvents).Debug(format, args...)
}

// EventsWarn logs warning to the events category
func EventsWarn(format string, args ...interface{}) {
	Get(CategoryEvents).Warn(format, args...)
}

// Projection logs to the projection category
func Projection(format string, args ...interface{}) {
	Get(CategoryProjection).Info(format, args...)
}

// ProjectionDebug logs debug to the projection category
func ProjectionDebug(format string, args ...interface{}) {
	Get(CategoryProjection).Debug(format, args...)
}

// ProjectionWarn logs warning to the projection category
func ProjectionWarn(format string, args ...interface{}) {
	Get(CategoryProjection).Warn(format, args...)
}

// Locks logs to the locks category
func Locks(format string, args ...interface{}) {
	Get(CategoryLocks).Info(format, args...)
}

// LocksDebug logs debug to the locks category
func LocksDebug(format string, args ...interface{}) {
	Get(CategoryLocks).Debug(format, args...)
}

// LocksWarn logs warning to the locks category
func LocksWarn(format string, args ...interface{}) {
	Get(CategoryLocks).Warn(format, args...)
}

// Checkpoint logs to the checkpoint category
func Checkpoint(format string, args ...interface{}) {
	Get(CategoryCheckpoint).Info(format, args...)
}

// CheckpointDebug logs debug to the checkpoint category
func CheckpointDebug(format string, args ...interface{}) {
	Get(CategoryCheckpoint).Debug(format, args...)
}

// CheckpointWarn logs warning to the checkpoint category
func CheckpointWarn(format string, args ...interface{}) {
	Get(CategoryCheckpoint).Warn(format, args...)
}

// Recovery logs to the recovery category
func Recovery(format string, args ...interface{}) {
	Get(CategoryRecovery).Info(format, args...)
}

// RecoveryDebug logs debug to the recovery category
func RecoveryDebug(format string, args ...interface{}) {
	Get(CategoryRecovery).Debug(format, args...)
}

// RecoveryWarn logs warning to the recovery category
func RecoveryWarn(format string, args ...interface{}) {
	Get(CategoryRecovery).Warn(format, args...)
}

// Fleet logs to the fleet category
func Fleet(format string, args ...interface{}) {
	Get(CategoryFleet).Info(format, args...)
}

// FleetDebug logs debug to the fleet category
func FleetDebug(format string, args ...interface{}) {
	Get(CategoryFleet).Debug(format, args...)
}

// FleetWarn logs warning to the fleet category
func FleetWarn(format string, args ...interface{}) {
	Get(CategoryFleet).Warn(format, args...)
}

// CLI logs to the cli category
func CLI(format string, args ...interface{}) {
	Get(CategoryCLI).Info(format, args...)
}

// CLIDebug logs debug to the cli category
func CLIDebug(format string, args ...interface{}) {
	Get(CategoryCLI).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
