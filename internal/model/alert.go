package model

import "time"

// AlertKind discriminates the three detector variants.
type AlertKind string

const (
	AlertVolatility    AlertKind = "volatility"
	AlertBasis         AlertKind = "basis"
	AlertCrossExchange AlertKind = "cross_exchange"
)

// Alert is the discriminated record every detector emits. Exactly one of
// the *Payload fields is populated, matching Kind.
type Alert struct {
	Kind       AlertKind
	DedupKey   string
	DetectedAt time.Time

	Volatility    *VolatilityPayload    `json:"volatility,omitempty"`
	Basis         *BasisPayload         `json:"basis,omitempty"`
	CrossExchange *CrossExchangePayload `json:"cross_exchange,omitempty"`
}

// VolatilityPayload describes a single-instrument price/volume anomaly.
type VolatilityPayload struct {
	Venue           string
	Symbol          string
	PriceChangePct  float64
	VolumeRatio     float64
	LastClose       float64
	PricePercentile *float64 // advisory only, never gates emission
	High30d         *float64
	Low30d          *float64
	Avg30d          *float64
}

// BasisPayload describes a spot/perpetual basis anomaly on one venue.
type BasisPayload struct {
	Venue                string
	SpotSymbol           string
	FutureSymbol         string
	SpotClose            float64
	FutureClose          float64
	PriceDifferencePct   float64
	Direction            string // "premium" | "discount"
}

// CrossExchangePayload describes a perpetual price spread between two
// venues for the same canonical base.
type CrossExchangePayload struct {
	CanonicalBase          string
	HigherVenue            string
	LowerVenue             string
	HigherPrice            float64
	LowerPrice             float64
	VolumeHigherVenue      float64
	VolumeLowerVenue       float64
	SpreadPct              float64 // (higher - lower) / lower * 100, never negative, gates emission
	SpreadMagnitudePercent float64 // |p1-p2|/min(p1,p2), advisory only
}
