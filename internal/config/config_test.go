package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("/work/project")

	assert.Equal(t, "/work/project", opts.ProjectPath)
	assert.Equal(t, DefaultDatabaseFilename, opts.DatabaseFilename)
	assert.Equal(t, DefaultReservationTTL, opts.GetReservationTTL())
	assert.Equal(t, DefaultLockTTL, opts.GetLockTTL())
	assert.Equal(t, DefaultStallThreshold, opts.GetStallThreshold())
	assert.Equal(t, "info", opts.Logging.Level)
}

func TestLoad(t *testing.T) {
	t.Run("defaults when no config file", func(t *testing.T) {
		dir := t.TempDir()

		opts, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, dir, opts.ProjectPath)
		assert.Equal(t, DefaultDatabaseFilename, opts.DatabaseFilename)
	})

	t.Run("config file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "lock_ttl: 10m\nreservation_ttl: 2h\nlogging:\n  debug: true\n")

		opts, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, 10*time.Minute, opts.GetLockTTL())
		assert.Equal(t, 2*time.Hour, opts.GetReservationTTL())
		assert.True(t, opts.Logging.Debug)
	})

	t.Run("config file cannot relocate the project", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "project_path: /somewhere/else\n")

		opts, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, dir, opts.ProjectPath)
	})

	t.Run("malformed yaml fails", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "lock_ttl: [broken\n")

		_, err := Load(dir)
		assert.Error(t, err)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Run("FLEET_DB_FILENAME", func(t *testing.T) {
		t.Setenv("FLEET_DB_FILENAME", "alt.db")

		opts := DefaultOptions("/p")
		opts.applyEnvOverrides()

		assert.Equal(t, "alt.db", opts.DatabaseFilename)
	})

	t.Run("TTL and threshold overrides", func(t *testing.T) {
		t.Setenv("FLEET_RESERVATION_TTL", "45m")
		t.Setenv("FLEET_LOCK_TTL", "90s")
		t.Setenv("FLEET_STALL_THRESHOLD", "1h")

		opts := DefaultOptions("/p")
		opts.applyEnvOverrides()

		assert.Equal(t, 45*time.Minute, opts.GetReservationTTL())
		assert.Equal(t, 90*time.Second, opts.GetLockTTL())
		assert.Equal(t, time.Hour, opts.GetStallThreshold())
	})

	t.Run("FLEET_DEBUG enables debug logging", func(t *testing.T) {
		t.Setenv("FLEET_DEBUG", "1")

		opts := DefaultOptions("/p")
		opts.applyEnvOverrides()

		assert.True(t, opts.Logging.Debug)
		assert.Equal(t, "debug", opts.Logging.Level)
	})

	t.Run("env wins over config file", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "lock_ttl: 10m\n")
		t.Setenv("FLEET_LOCK_TTL", "2m")

		opts, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, 2*time.Minute, opts.GetLockTTL())
	})
}

func TestDurationFallbacks(t *testing.T) {
	opts := Options{
		ReservationTTL: "not a duration",
		LockTTL:        "",
		StallThreshold: "-5m",
	}

	assert.Equal(t, DefaultReservationTTL, opts.GetReservationTTL())
	assert.Equal(t, DefaultLockTTL, opts.GetLockTTL())
	assert.Equal(t, DefaultStallThreshold, opts.GetStallThreshold())
}

func TestValidate(t *testing.T) {
	assert.Error(t, Options{}.Validate())
	assert.NoError(t, Options{InMemory: true}.Validate())
	assert.NoError(t, DefaultOptions("/p").Validate())

	bad := DefaultOptions("/p")
	bad.LockTTL = "five minutes"
	assert.Error(t, bad.Validate())
}

func TestPaths(t *testing.T) {
	opts := DefaultOptions("/work/project")

	assert.Equal(t, filepath.Join("/work/project", ".fleet"), opts.FleetDir())
	assert.Equal(t, filepath.Join("/work/project", ".fleet", "fleet.db"), opts.DatabasePath())
	assert.Equal(t, filepath.Join("/work/project", ".fleet", "checkpoints"), opts.CheckpointsPath())

	opts.InMemory = true
	assert.Equal(t, ":memory:", opts.DatabasePath())

	opts.InMemory = false
	opts.CheckpointsDir = "/tmp/ckpt"
	assert.Equal(t, "/tmp/ckpt", opts.CheckpointsPath())
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()

	opts := DefaultOptions(dir)
	opts.LockTTL = "7m"
	require.NoError(t, opts.Save())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Minute, loaded.GetLockTTL())
}

func writeConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	dir := filepath.Join(projectDir, ".fleet")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
}
