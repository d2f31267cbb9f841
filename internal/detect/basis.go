package detect

import (
	"fmt"
	"time"

	"github.com/sawpanic/marketsentry/internal/catalog"
	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/store"
)

// BasisDetector flags spot/perpetual price divergence on a single venue
// for the same canonical base, quoted in USDT.
type BasisDetector struct {
	cfg config.Config
	cat *catalog.Catalog
	st  *store.Store
}

// NewBasisDetector creates a BasisDetector.
func NewBasisDetector(cfg config.Config, cat *catalog.Catalog, st *store.Store) *BasisDetector {
	return &BasisDetector{cfg: cfg, cat: cat, st: st}
}

// Scan pairs every USDT spot instrument on venue with its perpetual
// counterpart (same canonical base) and emits an alert when the
// relative price difference clears the configured threshold and, when
// SPOT_FUTURES_BASIS_DIRECTION restricts it, matches the configured
// direction.
func (d *BasisDetector) Scan(venue string) []model.Alert {
	spots := d.cat.SpotSymbols(venue)
	perps := d.cat.PerpetualSymbols(venue)

	perpByBase := make(map[string]model.Instrument, len(perps))
	for _, p := range perps {
		if p.Quote == "USDT" {
			perpByBase[p.CanonicalBase] = p
		}
	}

	var out []model.Alert
	for _, spot := range spots {
		if spot.Quote != "USDT" || model.IsStablecoin(spot.CanonicalBase) {
			continue
		}
		perp, ok := perpByBase[spot.CanonicalBase]
		if !ok {
			continue
		}
		if alert, ok := d.evaluate(venue, spot, perp); ok {
			out = append(out, alert)
		}
	}
	return out
}

func (d *BasisDetector) evaluate(venue string, spot, perp model.Instrument) (model.Alert, bool) {
	spotSnap, ok := d.st.Snapshot(venue, spot.RawSymbol)
	if !ok || len(spotSnap.Bars) == 0 {
		return model.Alert{}, false
	}
	perpSnap, ok := d.st.Snapshot(venue, perp.RawSymbol)
	if !ok || len(perpSnap.Bars) == 0 {
		return model.Alert{}, false
	}

	spotClose := spotSnap.Bars[len(spotSnap.Bars)-1].Close
	perpClose := perpSnap.Bars[len(perpSnap.Bars)-1].Close
	if spotClose <= 0 {
		return model.Alert{}, false
	}

	diffPct := (perpClose - spotClose) / spotClose * 100
	direction := "premium"
	if diffPct < 0 {
		direction = "discount"
	}

	switch d.cfg.BasisDirection {
	case "premium":
		if direction != "premium" {
			return model.Alert{}, false
		}
	case "discount":
		if direction != "discount" {
			return model.Alert{}, false
		}
	}

	if absFloat(diffPct) < d.cfg.SpotFuturesDiffThreshold {
		return model.Alert{}, false
	}

	return model.Alert{
		Kind:       model.AlertBasis,
		DedupKey:   fmt.Sprintf("basis|%s|%s", venue, spot.CanonicalBase),
		DetectedAt: time.Now(),
		Basis: &model.BasisPayload{
			Venue:              venue,
			SpotSymbol:         spot.RawSymbol,
			FutureSymbol:       perp.RawSymbol,
			SpotClose:          spotClose,
			FutureClose:        perpClose,
			PriceDifferencePct: diffPct,
			Direction:          direction,
		},
	}, true
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
