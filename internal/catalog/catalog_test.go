package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/model"
)

func TestClassifySpot(t *testing.T) {
	inst := Classify("binance", "BTCUSDT", "USDT", false, false)
	assert.Equal(t, model.MarketSpot, inst.Type)
	assert.Equal(t, "BTC", inst.CanonicalBase)
	assert.Equal(t, "USDT", inst.Quote)
}

func TestClassifyPerpetual(t *testing.T) {
	inst := Classify("gate", "ETH_USDT-PERP", "USDT", false, false)
	assert.Equal(t, model.MarketPerpetual, inst.Type)
	assert.Equal(t, "ETH", inst.CanonicalBase)
}

func TestClassifyDatedFuture(t *testing.T) {
	inst := Classify("binance", "BTCUSD-240329", "USD", false, false)
	assert.Equal(t, model.MarketDated, inst.Type)
	assert.Equal(t, "BTC", inst.CanonicalBase)
}

func TestClassifyCCXTColonSettlePerpetual(t *testing.T) {
	inst := Classify("binance", "BTC/USDT:USDT", "USDT", false, false)
	assert.Equal(t, model.MarketPerpetual, inst.Type)
	assert.Equal(t, "BTC", inst.CanonicalBase)
	assert.Equal(t, "USDT", inst.Quote)
}

func TestClassifyCCXTColonSettleDatedFuture(t *testing.T) {
	inst := Classify("binance", "BTC/USDT:230628", "USDT", false, false)
	assert.Equal(t, model.MarketDated, inst.Type)
	assert.Equal(t, "BTC", inst.CanonicalBase)
}

func TestClassifySpotAndPerpetualShareCanonicalBase(t *testing.T) {
	spot := Classify("binance", "BTC/USDT", "USDT", false, false)
	perp := Classify("binance", "BTC/USDT:USDT", "USDT", false, false)
	require.Equal(t, spot.CanonicalBase, perp.CanonicalBase)
}

func TestClassifyHonorsVenueReportedSwapFlag(t *testing.T) {
	inst := Classify("binance", "BTCUSDT", "USDT", true, false)
	assert.Equal(t, model.MarketPerpetual, inst.Type)
	assert.Equal(t, "BTC", inst.CanonicalBase)
}

func TestClassifyHonorsVenueReportedFutureFlag(t *testing.T) {
	inst := Classify("binance", "BTCUSDT", "USDT", false, true)
	assert.Equal(t, model.MarketDated, inst.Type)
}

func TestReloadExcludesBlacklistAndStablePairs(t *testing.T) {
	cfg := config.Default()
	cfg.PerpBlacklist = []string{"LINA"}
	c := New(cfg)

	c.Reload("binance", []RawMarket{
		{Venue: "binance", Symbol: "BTCUSDT", Quote: "USDT", Active: true},
		{Venue: "binance", Symbol: "LINA_USDT-PERP", Quote: "USDT", Active: true},
		{Venue: "binance", Symbol: "USDCUSDT", Quote: "USDT", Active: true},
		{Venue: "binance", Symbol: "DEADSYM", Quote: "", Active: false},
	})

	spot := c.SpotSymbols("binance")
	require.Len(t, spot, 1)
	assert.Equal(t, "BTC", spot[0].CanonicalBase)

	assert.True(t, c.IsInvalid("binance", "LINA_USDT-PERP"))
	assert.True(t, c.IsInvalid("binance", "USDCUSDT"))
	assert.True(t, c.IsInvalid("binance", "DEADSYM"))
}

func TestPerpetualIntersectionRequiresTwoVenues(t *testing.T) {
	cfg := config.Default()
	cfg.PerpBlacklist = nil
	c := New(cfg)
	c.Reload("binance", []RawMarket{{Symbol: "BTC_USDT-PERP", Quote: "USDT", Active: true}})
	c.Reload("gate", []RawMarket{{Symbol: "BTC_USDT-PERP", Quote: "USDT", Active: true}})
	c.Reload("okx", []RawMarket{{Symbol: "ETH_USDT-PERP", Quote: "USDT", Active: true}})

	inter := c.PerpetualIntersection([]string{"binance", "gate", "okx"})
	require.Contains(t, inter, "BTC")
	assert.ElementsMatch(t, []string{"binance", "gate"}, inter["BTC"])
	assert.NotContains(t, inter, "ETH")
}

func TestMarkInvalidRemovesFromAcceptedAndInvalidSet(t *testing.T) {
	c := New(config.Default())
	c.Reload("binance", []RawMarket{{Symbol: "BTCUSDT", Quote: "USDT", Active: true}})
	require.Len(t, c.SpotSymbols("binance"), 1)

	c.MarkInvalid("binance", "BTCUSDT")

	assert.Empty(t, c.SpotSymbols("binance"))
	assert.True(t, c.IsInvalid("binance", "BTCUSDT"))
	_, ok := c.Lookup("binance", "BTCUSDT")
	assert.False(t, ok)
}

func TestReloadIsCopyOnWritePerVenue(t *testing.T) {
	c := New(config.Default())
	c.Reload("binance", []RawMarket{{Symbol: "BTCUSDT", Quote: "USDT", Active: true}})
	before := c.SpotSymbols("binance")
	c.Reload("gate", []RawMarket{{Symbol: "ETHUSDT", Quote: "USDT", Active: true}})
	after := c.SpotSymbols("binance")
	assert.Equal(t, before, after)
}
