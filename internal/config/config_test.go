package config

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  log_level: "debug"

pot:
  capacity: 350
  liquidity_floor_usd: 500

scheduler:
  hatching_minutes: 1
  min_batch_size: 4
  max_batch_size: 12

store:
  postgres_dsn: "postgres://localhost:5432/potwatch_test"
`
	tmpFile, err := os.CreateTemp("", "potwatch-config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, 350, cfg.Pot.Capacity)
	assert.Equal(t, 500.0, cfg.Pot.LiquidityFloorUSD)
	assert.Equal(t, 1, cfg.Scheduler.HatchingMinutes)
	assert.Equal(t, 4, cfg.Scheduler.MinBatchSize)
	assert.Equal(t, 12, cfg.Scheduler.MaxBatchSize)
	assert.Equal(t, "postgres://localhost:5432/potwatch_test", cfg.Store.PostgresDSN)
}

func TestLoadConfigDefaults(t *testing.T) {
	yaml := `
general:
  log_level: "warn"
`
	tmpFile, err := os.CreateTemp("", "potwatch-config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(cfg.General.InstanceID, "potwatch-"))
	assert.Equal(t, "warn", cfg.General.LogLevel)
	assert.Equal(t, 500, cfg.Pot.Capacity)
	assert.Equal(t, 300.0, cfg.Pot.LiquidityFloorUSD)
	assert.Equal(t, 15, cfg.Pot.GraceWindowMinutes)
	assert.Equal(t, 2, cfg.Scheduler.HatchingMinutes)
	assert.Equal(t, 12, cfg.Scheduler.FreshMinutes)
	assert.Equal(t, 5, cfg.Scheduler.CookingMinutes)
	assert.Equal(t, 45, cfg.Scheduler.OtherMinutes)
	assert.Equal(t, 5, cfg.Scheduler.MinBatchSize)
	assert.Equal(t, 16, cfg.Scheduler.MaxBatchSize)
	assert.Equal(t, 25.0, cfg.Scheduler.TargetBatchSecs)
	assert.Equal(t, 1200, cfg.Enrich.StalenessSeconds)
	assert.Equal(t, 14, cfg.Store.SnapshotRetentionDays)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_POTWATCH_DSN", "postgres://db:5432/pw")
	defer os.Unsetenv("TEST_POTWATCH_DSN")

	yaml := `
store:
  postgres_dsn: "${TEST_POTWATCH_DSN}"
`
	tmpFile, err := os.CreateTemp("", "potwatch-config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	require.NoError(t, err)

	assert.Equal(t, "postgres://db:5432/pw", cfg.Store.PostgresDSN)
}

func TestValidateRejectsBadBatchBounds(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.MinBatchSize = 20
	cfg.Scheduler.MaxBatchSize = 10
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsCacheWithoutDurableStore(t *testing.T) {
	cfg := Default()
	cfg.Store.RedisAddr = "localhost:6379"
	cfg.Store.PostgresDSN = ""
	assert.Error(t, cfg.Validate())
}
