package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGES", "binance, okx")
	t.Setenv("LOOKBACK_MINUTES", "15")
	t.Setenv("VOLUME_SPIKE_THRESHOLD", "7.5")
	t.Setenv("SPOT_FUTURES_BASIS_DIRECTION", "premium")
	t.Setenv("EXCHANGE_VOLUME_THRESHOLDS", "binance:1000,okx:2000")

	c, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"binance", "okx"}, c.Exchanges)
	assert.Equal(t, 15, c.Lookback)
	assert.Equal(t, 7.5, c.VolumeSpikeThreshold)
	assert.Equal(t, "premium", c.BasisDirection)
	assert.Equal(t, map[string]float64{"binance": 1000, "okx": 2000}, c.ExchangeVolumeFloors)
}

func TestLoadFromEnvRejectsInvalidBasisDirection(t *testing.T) {
	t.Setenv("SPOT_FUTURES_BASIS_DIRECTION", "sideways")
	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestWindowSizeFloorsAtThousand(t *testing.T) {
	c := Default()
	c.Lookback = 5
	assert.Equal(t, 1000, c.WindowSize())
	c.Lookback = 5000
	assert.Equal(t, 5000, c.WindowSize())
}

func TestMain(m *testing.M) {
	// TestMain only runs the tests; each test sets its environment via
	// t.Setenv, which restores the previous values when the test ends.
	code := m.Run()
	os.Exit(code)
}
