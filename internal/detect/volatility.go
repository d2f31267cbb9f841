// Package detect implements the three anomaly detectors: single-venue
// volatility spikes, spot/futures basis divergence, and cross-exchange
// perpetual spread.
package detect

import (
	"fmt"
	"time"

	"github.com/sawpanic/marketsentry/internal/catalog"
	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/store"
)

// VolatilityDetector flags single-instrument price/volume anomalies over
// the configured lookback window.
type VolatilityDetector struct {
	cfg   config.Config
	cat   *catalog.Catalog
	st    *store.Store
	cache *DailyCache // optional, nil disables percentile annotation
}

// NewVolatilityDetector creates a VolatilityDetector. cache may be nil.
func NewVolatilityDetector(cfg config.Config, cat *catalog.Catalog, st *store.Store, cache *DailyCache) *VolatilityDetector {
	return &VolatilityDetector{cfg: cfg, cat: cat, st: st, cache: cache}
}

// Scan evaluates every spot and perpetual instrument currently tracked
// on venue (dated futures and stablecoin bases are skipped) and
// returns one alert per instrument whose price change and volume ratio
// both clear their configured thresholds.
func (d *VolatilityDetector) Scan(venue string) []model.Alert {
	var out []model.Alert
	for _, snap := range d.st.SnapshotAll(venue) {
		inst, ok := d.cat.Lookup(venue, snap.Symbol)
		if !ok || inst.Type == model.MarketDated || inst.Type == model.MarketIgnored {
			continue
		}
		if model.IsStablecoin(inst.CanonicalBase) {
			continue
		}
		if alert, ok := d.evaluate(venue, snap); ok {
			out = append(out, alert)
		}
	}
	return out
}

func (d *VolatilityDetector) evaluate(venue string, snap store.Snapshot) (model.Alert, bool) {
	bars := windowed(snap.Bars, d.cfg.Lookback)
	if len(bars) < 2 {
		return model.Alert{}, false
	}

	first, last := bars[0], bars[len(bars)-1]
	if first.Close <= 0 {
		return model.Alert{}, false
	}
	priceChangePct := (last.Close - first.Close) / first.Close * 100

	avgVolume := averageVolume(bars[:len(bars)-1])
	if avgVolume <= 0 {
		return model.Alert{}, false
	}
	volumeRatio := last.Volume / avgVolume

	if priceChangePct < d.cfg.MinPriceIncreasePercent {
		return model.Alert{}, false
	}
	if volumeRatio < d.cfg.VolumeSpikeThreshold {
		return model.Alert{}, false
	}

	payload := &model.VolatilityPayload{
		Venue:          venue,
		Symbol:         snap.Symbol,
		PriceChangePct: priceChangePct,
		VolumeRatio:    volumeRatio,
		LastClose:      last.Close,
	}
	if d.cache != nil {
		if stats, ok := d.cache.Stats(venue, snap.Symbol); ok {
			payload.High30d = &stats.High
			payload.Low30d = &stats.Low
			payload.Avg30d = &stats.Avg
			pct := stats.Percentile(last.Close)
			payload.PricePercentile = &pct
		}
	}

	return model.Alert{
		Kind:       model.AlertVolatility,
		DedupKey:   fmt.Sprintf("volatility|%s|%s", venue, snap.Symbol),
		DetectedAt: time.Now(),
		Volatility: payload,
	}, true
}

// windowed returns exactly the last lookback bars, or nil if fewer than
// lookback bars have accumulated. A lookback of 1 yields a single-bar
// window whose first and last bar are the same bar, making evaluate's
// price-change comparison inert by construction.
func windowed(bars []model.Bar, lookback int) []model.Bar {
	if lookback <= 0 || len(bars) < lookback {
		return nil
	}
	return bars[len(bars)-lookback:]
}

func averageVolume(bars []model.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Volume
	}
	return sum / float64(len(bars))
}
