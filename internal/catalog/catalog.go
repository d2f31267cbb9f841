// Package catalog maintains the normalized symbol universe for every
// configured venue: canonical base asset derivation, market-type
// classification, blacklist/stablecoin exclusion, and the cross-venue
// intersection used by the cross-exchange detector. Reloads are
// copy-on-write so readers never observe a half-built catalog.
package catalog

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/model"
)

var (
	datedFutureRe = regexp.MustCompile(`^(.+?)[-_](\d{6}|\d{2}[A-Z]{3}\d{2})$`)
	perpSuffixRe  = regexp.MustCompile(`(?i)(-perp|_perp|-swap|_swap)$`)
	quoteSplitRe  = regexp.MustCompile(`[/:_-]`)
	// dateSettleRe matches a CCXT colon-settle token that is itself an
	// expiry date (YYMMDD or YY<MON>DD), distinguishing a dated future's
	// "BASE/QUOTE:230628" from a perpetual's "BASE/QUOTE:USDT".
	dateSettleRe = regexp.MustCompile(`^\d{6}$|^\d{2}[A-Z]{3}\d{2}$`)
)

// knownQuotes lists quote assets stripped when deriving a canonical base,
// ordered longest-first so "USDT" isn't shadowed by a shorter alias.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// Snapshot is one immutable view of the catalog, safe to share across
// goroutines without copying.
type Snapshot struct {
	byVenue map[string]map[string]model.Instrument // venue -> rawSymbol -> Instrument
	invalid map[string]struct{}                    // venue+"|"+rawSymbol for rejected entries
}

// Catalog holds the current Snapshot behind an atomic pointer so Reload
// can swap in a new universe without readers taking a lock.
type Catalog struct {
	cur            atomic.Pointer[Snapshot]
	blacklist      map[string]struct{}
	datedBlacklist map[string]struct{}
	maxSymbols     int
}

// New creates an empty Catalog configured with the given blacklists.
func New(cfg config.Config) *Catalog {
	c := &Catalog{
		blacklist:      toSet(cfg.PerpBlacklist),
		datedBlacklist: toSet(cfg.DatedFutureBlacklist),
		maxSymbols:     500,
	}
	c.cur.Store(&Snapshot{byVenue: map[string]map[string]model.Instrument{}, invalid: map[string]struct{}{}})
	return c
}

func toSet(xs []string) map[string]struct{} {
	out := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		out[strings.ToUpper(x)] = struct{}{}
	}
	return out
}

// RawMarket is the input shape the adapter facade's load_markets call
// produces, before classification. IsSwap/IsFuture carry the venue's own
// market-type flags, when it reports them; Classify ORs them with the
// raw symbol's own markers since a venue's flag is authoritative where a
// symbol shares its raw form between spot and derivative listings.
type RawMarket struct {
	Venue    string
	Symbol   string
	Quote    string
	Active   bool
	IsSwap   bool
	IsFuture bool
}

// Reload classifies and installs a new symbol universe for one venue,
// replacing any prior snapshot entries for that venue only. Venues not
// present in raws are left untouched.
func (c *Catalog) Reload(venue string, raws []RawMarket) {
	prev := c.cur.Load()
	next := &Snapshot{
		byVenue: make(map[string]map[string]model.Instrument, len(prev.byVenue)),
		invalid: make(map[string]struct{}, len(prev.invalid)),
	}
	for v, m := range prev.byVenue {
		if v == venue {
			continue
		}
		cp := make(map[string]model.Instrument, len(m))
		for k, inst := range m {
			cp[k] = inst
		}
		next.byVenue[v] = cp
	}
	for k := range prev.invalid {
		if strings.HasPrefix(k, venue+"|") {
			continue
		}
		next.invalid[k] = struct{}{}
	}

	accepted := make(map[string]model.Instrument)
	kept := 0
	for _, r := range raws {
		if !r.Active {
			next.invalid[venue+"|"+r.Symbol] = struct{}{}
			continue
		}
		inst := Classify(venue, r.Symbol, r.Quote, r.IsSwap, r.IsFuture)
		if inst.Type == model.MarketIgnored || c.isBlacklisted(inst) || isStablePair(inst) {
			next.invalid[venue+"|"+r.Symbol] = struct{}{}
			continue
		}
		if kept >= c.maxSymbols {
			next.invalid[venue+"|"+r.Symbol] = struct{}{}
			continue
		}
		accepted[r.Symbol] = inst
		kept++
	}
	next.byVenue[venue] = accepted
	c.cur.Store(next)
}

func (c *Catalog) isBlacklisted(inst model.Instrument) bool {
	switch inst.Type {
	case model.MarketPerpetual:
		_, ok := c.blacklist[strings.ToUpper(inst.CanonicalBase)]
		return ok
	case model.MarketDated:
		_, ok := c.datedBlacklist[strings.ToUpper(inst.CanonicalBase)]
		return ok
	}
	return false
}

func isStablePair(inst model.Instrument) bool {
	return model.IsStablecoin(inst.CanonicalBase) && model.IsStablecoin(inst.Quote)
}

// Classify derives the canonical base asset and market type for a raw
// venue symbol. quote, when known from the venue's market metadata, is
// preferred over suffix-splitting. isSwap/isFuture, when the venue
// reports them, are ORed in: either the raw symbol's own marker (a
// trailing -perp/-swap suffix, a dated-future suffix, or a CCXT
// colon-settle token like ":USDT" or ":230628") or the venue's flag is
// enough to classify the instrument as a derivative.
func Classify(venue, rawSymbol, quote string, isSwap, isFuture bool) model.Instrument {
	sym := rawSymbol
	marketType := model.MarketSpot

	if idx := strings.LastIndex(sym, ":"); idx >= 0 {
		settle := sym[idx+1:]
		sym = sym[:idx]
		if dateSettleRe.MatchString(settle) {
			marketType = model.MarketDated
		} else {
			marketType = model.MarketPerpetual
		}
	} else if m := datedFutureRe.FindStringSubmatch(sym); m != nil {
		marketType = model.MarketDated
		sym = m[1]
	} else if perpSuffixRe.MatchString(sym) {
		marketType = model.MarketPerpetual
		sym = perpSuffixRe.ReplaceAllString(sym, "")
	}

	if isFuture {
		marketType = model.MarketDated
	} else if isSwap && marketType != model.MarketDated {
		marketType = model.MarketPerpetual
	}

	base, q := splitBaseQuote(sym, quote)
	if base == "" {
		marketType = model.MarketIgnored
	}

	return model.Instrument{
		Venue:         venue,
		RawSymbol:     rawSymbol,
		CanonicalBase: strings.ToUpper(base),
		Quote:         strings.ToUpper(q),
		Type:          marketType,
	}
}

func splitBaseQuote(sym, knownQuote string) (base, quote string) {
	cleaned := quoteSplitRe.ReplaceAllString(sym, "|")
	parts := strings.Split(cleaned, "|")
	if len(parts) >= 2 && parts[len(parts)-1] != "" {
		return strings.Join(parts[:len(parts)-1], ""), parts[len(parts)-1]
	}
	if knownQuote != "" && strings.HasSuffix(strings.ToUpper(sym), strings.ToUpper(knownQuote)) {
		return sym[:len(sym)-len(knownQuote)], knownQuote
	}
	upper := strings.ToUpper(sym)
	for _, q := range knownQuotes {
		if strings.HasSuffix(upper, q) && len(upper) > len(q) {
			return sym[:len(sym)-len(q)], q
		}
	}
	return "", ""
}

// SpotSymbols returns every spot instrument currently known for venue.
func (c *Catalog) SpotSymbols(venue string) []model.Instrument {
	return c.filter(venue, model.MarketSpot)
}

// PerpetualSymbols returns every perpetual instrument currently known
// for venue.
func (c *Catalog) PerpetualSymbols(venue string) []model.Instrument {
	return c.filter(venue, model.MarketPerpetual)
}

func (c *Catalog) filter(venue string, t model.MarketType) []model.Instrument {
	snap := c.cur.Load()
	m, ok := snap.byVenue[venue]
	if !ok {
		return nil
	}
	out := make([]model.Instrument, 0, len(m))
	for _, inst := range m {
		if inst.Type == t {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalBase < out[j].CanonicalBase })
	return out
}

// PerpetualIntersection returns, per canonical base, the set of venues
// that currently list a perpetual for it, restricted to bases listed on
// at least two venues.
func (c *Catalog) PerpetualIntersection(venues []string) map[string][]string {
	byBase := make(map[string][]string)
	for _, v := range venues {
		for _, inst := range c.PerpetualSymbols(v) {
			byBase[inst.CanonicalBase] = append(byBase[inst.CanonicalBase], v)
		}
	}
	out := make(map[string][]string)
	for base, vs := range byBase {
		if len(vs) >= 2 {
			sort.Strings(vs)
			out[base] = vs
		}
	}
	return out
}

// Lookup returns the classified instrument for a raw venue symbol, if
// it is currently part of the accepted universe.
func (c *Catalog) Lookup(venue, rawSymbol string) (model.Instrument, bool) {
	snap := c.cur.Load()
	m, ok := snap.byVenue[venue]
	if !ok {
		return model.Instrument{}, false
	}
	inst, ok := m[rawSymbol]
	return inst, ok
}

// IsInvalid reports whether rawSymbol on venue was rejected on the most
// recent reload (blacklisted, ignored type, stablecoin pair, or over the
// polling cap), or evicted by MarkInvalid since then (a permanent adapter
// error).
func (c *Catalog) IsInvalid(venue, rawSymbol string) bool {
	snap := c.cur.Load()
	_, ok := snap.invalid[venue+"|"+rawSymbol]
	return ok
}

// MarkInvalid removes rawSymbol from venue's accepted universe and adds
// it to the invalid set, so it is not returned by SpotSymbols/
// PerpetualSymbols/Lookup. The mark lasts until the next Reload of venue:
// Reload rebuilds that venue's invalid set from the new listing, so a
// symbol the venue still lists is accepted again.
// Called when the supervisor classifies an adapter error as permanent.
func (c *Catalog) MarkInvalid(venue, rawSymbol string) {
	prev := c.cur.Load()
	next := &Snapshot{
		byVenue: make(map[string]map[string]model.Instrument, len(prev.byVenue)),
		invalid: make(map[string]struct{}, len(prev.invalid)+1),
	}
	for v, m := range prev.byVenue {
		if v != venue {
			next.byVenue[v] = m
			continue
		}
		cp := make(map[string]model.Instrument, len(m))
		for k, inst := range m {
			if k == rawSymbol {
				continue
			}
			cp[k] = inst
		}
		next.byVenue[v] = cp
	}
	for k := range prev.invalid {
		next.invalid[k] = struct{}{}
	}
	next.invalid[venue+"|"+rawSymbol] = struct{}{}
	c.cur.Store(next)
}
