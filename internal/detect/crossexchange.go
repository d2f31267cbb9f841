package detect

import (
	"fmt"
	"sort"
	"time"

	"github.com/sawpanic/marketsentry/internal/catalog"
	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/store"
)

// CrossExchangeDetector flags perpetual price spreads for the same
// canonical base listed on two or more venues.
type CrossExchangeDetector struct {
	cfg config.Config
	cat *catalog.Catalog
	st  *store.Store
}

// NewCrossExchangeDetector creates a CrossExchangeDetector.
func NewCrossExchangeDetector(cfg config.Config, cat *catalog.Catalog, st *store.Store) *CrossExchangeDetector {
	return &CrossExchangeDetector{cfg: cfg, cat: cat, st: st}
}

// Scan rebuilds the perpetual intersection across venues and emits an
// alert for each canonical base whose best and worst venue prices clear
// both the per-venue volume floor and the spread threshold.
func (d *CrossExchangeDetector) Scan(venues []string) []model.Alert {
	intersection := d.cat.PerpetualIntersection(venues)

	bases := make([]string, 0, len(intersection))
	for base := range intersection {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	var out []model.Alert
	for _, base := range bases {
		if alert, ok := d.evaluate(base, intersection[base]); ok {
			out = append(out, alert)
		}
	}
	return out
}

type venuePrice struct {
	venue  string
	price  float64
	volume float64 // 24h base-asset volume from the venue's ticker, not bar volume
}

func (d *CrossExchangeDetector) evaluate(base string, venues []string) (model.Alert, bool) {
	var prices []venuePrice
	for _, v := range venues {
		inst := d.findPerp(v, base)
		if inst.RawSymbol == "" {
			continue
		}
		snap, ok := d.st.Snapshot(v, inst.RawSymbol)
		if !ok || len(snap.Bars) == 0 {
			continue
		}
		close := snap.Bars[len(snap.Bars)-1].Close
		var volume float64
		if snap.HasTicker {
			volume = snap.Ticker.BaseVolume24h
		}
		if floor, hasFloor := d.cfg.ExchangeVolumeFloors[v]; hasFloor && volume < floor {
			continue
		}
		prices = append(prices, venuePrice{venue: v, price: close, volume: volume})
	}
	if len(prices) < 2 {
		return model.Alert{}, false
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i].price < prices[j].price })
	lower := prices[0]
	higher := prices[len(prices)-1]
	if lower.price == higher.price {
		return model.Alert{}, false
	}

	spreadPct := (higher.price - lower.price) / lower.price * 100
	magnitude := absFloat(higher.price-lower.price) / minFloat(higher.price, lower.price) * 100

	if spreadPct < d.cfg.PerpDiffThreshold {
		return model.Alert{}, false
	}

	return model.Alert{
		Kind:       model.AlertCrossExchange,
		DedupKey:   fmt.Sprintf("cross_exchange|%s|%s|%s", base, lower.venue, higher.venue),
		DetectedAt: time.Now(),
		CrossExchange: &model.CrossExchangePayload{
			CanonicalBase:          base,
			HigherVenue:            higher.venue,
			LowerVenue:             lower.venue,
			HigherPrice:            higher.price,
			LowerPrice:             lower.price,
			VolumeHigherVenue:      higher.volume,
			VolumeLowerVenue:       lower.volume,
			SpreadPct:              spreadPct,
			SpreadMagnitudePercent: magnitude,
		},
	}, true
}

func (d *CrossExchangeDetector) findPerp(venue, base string) model.Instrument {
	for _, p := range d.cat.PerpetualSymbols(venue) {
		if p.CanonicalBase == base {
			return p
		}
	}
	return model.Instrument{}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
