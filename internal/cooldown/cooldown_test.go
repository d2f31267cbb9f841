package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketsentry/internal/model"
)

func TestFilterSuppressesRepeatWithinTTL(t *testing.T) {
	g := New(time.Hour, 5*time.Minute, 5*time.Minute)
	a := model.Alert{Kind: model.AlertVolatility, DedupKey: "volatility|binance|BTCUSDT"}

	first := g.Filter([]model.Alert{a})
	require.Len(t, first, 1)

	second := g.Filter([]model.Alert{a})
	assert.Empty(t, second)
}

func TestFilterAllowsDistinctKeys(t *testing.T) {
	g := New(time.Hour, 5*time.Minute, 5*time.Minute)
	a := model.Alert{Kind: model.AlertVolatility, DedupKey: "volatility|binance|BTCUSDT"}
	b := model.Alert{Kind: model.AlertVolatility, DedupKey: "volatility|binance|ETHUSDT"}

	out := g.Filter([]model.Alert{a, b})
	assert.Len(t, out, 2)
}

func TestPurgeDropsExpiredEntries(t *testing.T) {
	g := New(10*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond)
	a := model.Alert{Kind: model.AlertBasis, DedupKey: "basis|binance|BTC"}
	g.Filter([]model.Alert{a})

	time.Sleep(20 * time.Millisecond)
	g.Purge()

	out := g.Filter([]model.Alert{a})
	assert.Len(t, out, 1)
}
