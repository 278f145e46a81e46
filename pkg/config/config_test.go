package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/outflow/outflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  concurrency: 2
batching:
  threshold: 100
  interval: 30s
import:
  require_contact: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Scheduler.Concurrency)
	assert.Equal(t, "@every 1m", cfg.Scheduler.TickSchedule)
	assert.Equal(t, 100, cfg.Batching.Threshold)
	assert.Equal(t, 30*time.Second, cfg.Batching.Interval)
	assert.Equal(t, 5000, cfg.Batching.MaxBatchSize)
	assert.True(t, cfg.Import.RequireContact)
	assert.Equal(t, 500, cfg.Import.ChunkSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "zero concurrency", yaml: "scheduler:\n  concurrency: 0\n"},
		{name: "zero chunk", yaml: "import:\n  chunk_size: 0\n"},
		{name: "negative cost", yaml: "costs:\n  sms: -1\n"},
		{name: "bad currency", yaml: "costs:\n  currency: DOLLAR\n"},
		{name: "not yaml", yaml: "scheduler: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, Parse([]byte(tt.yaml), Default()))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestUnitCost(t *testing.T) {
	costs := Default().Costs

	assert.InDelta(t, 0.0008, costs.UnitCost(models.ChannelEmail), 1e-12)
	assert.InDelta(t, 0.045, costs.UnitCost(models.ChannelSMS), 1e-12)
	assert.Zero(t, costs.UnitCost("fax"))
}
