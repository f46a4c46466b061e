package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 0.10, cfg.Cart.TaxRate)
	assert.Equal(t, "badger", cfg.Store.Medium)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
tenant:
  id: tenant-a
api:
  base_url: http://venue.local:3000
broker:
  host: broker.local
  port: 5673
sync:
  poll_interval: 5s
cart:
  tax_rate: 0.08
`), 0o644))

	t.Setenv("TABLESIDE_BROKER_HOST", "env-broker")
	t.Setenv("TABLESIDE_TENANT_ID", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", cfg.Tenant.ID)
	assert.Equal(t, "http://venue.local:3000", cfg.API.BaseURL)
	assert.Equal(t, 5673, cfg.Broker.Port)
	assert.Equal(t, 5*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 0.08, cfg.Cart.TaxRate)

	// Env wins over file; empty env vars are ignored.
	assert.Equal(t, "env-broker", cfg.Broker.Host)
}
