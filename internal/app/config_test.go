package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GL_STORAGE", "memory")
	t.Setenv("GL_MODULES", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.Equal(t, time.January, cfg.Calendar().StartMonth)
	assert.False(t, cfg.PublishesEvents())

	modules, err := cfg.GLModules()
	require.NoError(t, err)
	assert.Equal(t, shared.AllModules, modules)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GL_STORAGE", "memory")
	t.Setenv("GL_MODULES", "sales, purchase")
	t.Setenv("GL_FISCAL_START_MONTH", "4")
	t.Setenv("GL_COMPANIES", "1,2")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	modules, err := cfg.GLModules()
	require.NoError(t, err)
	assert.Equal(t, []shared.Module{shared.ModuleSales, shared.ModulePurchase}, modules)
	assert.Equal(t, time.April, cfg.Calendar().StartMonth)
	assert.Equal(t, []int64{1, 2}, cfg.Companies)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.PublishesEvents())
}

func TestConfigValidate(t *testing.T) {
	base := Config{Storage: StorageMemory, FiscalStartMonth: 1, LockTimeout: time.Second, DrainTimeout: time.Second}
	require.NoError(t, base.Validate())

	bad := base
	bad.FiscalStartMonth = 13
	assert.Error(t, bad.Validate())

	bad = base
	bad.Storage = "sqlite"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Modules = "SALES,LEDGER"
	assert.ErrorIs(t, bad.Validate(), shared.ErrUnknownModule)

	bad = base
	bad.LockTimeout = 0
	assert.Error(t, bad.Validate())
}

func TestInTestModeReadsEnvironmentOnce(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	assert.True(t, InTestMode())
	t.Setenv(TestModeEnv, "0")
	assert.True(t, InTestMode(), "the flag is cached after the first check")
}
