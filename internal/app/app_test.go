package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subgate/internal/config"
)

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	return cfg
}

func TestNewInMemory(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PLAN_PRICES": "7d=15000", "PUBLIC_MIRROR_GROUP_ID": "-5"})

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	p, err := a.Plans.Lookup("7d")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), p.PriceMinor)
	assert.True(t, a.Engine.Policy().IsFreeGroup(-5))

	report, err := a.Poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestNewSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "subgate.db")
	cfg := testConfig(t, map[string]string{"DATABASE_URL": "sqlite://" + path})

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	rec, err := a.Subs.Get(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.UserID)
	assert.FileExists(t, path)
}

func TestUnknownPlanPrice(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PLAN_PRICES": "1y=100000"})
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
