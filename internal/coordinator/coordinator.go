// Package coordinator owns the pipeline's top-level lifecycle: the
// market state store, one supervisor per venue, the detector/cooldown/
// notifier scan loop, and an orderly, bounded shutdown sequence.
package coordinator

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sawpanic/marketsentry/internal/adapter"
	"github.com/sawpanic/marketsentry/internal/catalog"
	"github.com/sawpanic/marketsentry/internal/config"
	"github.com/sawpanic/marketsentry/internal/cooldown"
	"github.com/sawpanic/marketsentry/internal/detect"
	"github.com/sawpanic/marketsentry/internal/metrics"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/notifier"
	"github.com/sawpanic/marketsentry/internal/ratelimit"
	"github.com/sawpanic/marketsentry/internal/secrets"
	"github.com/sawpanic/marketsentry/internal/store"
	"github.com/sawpanic/marketsentry/internal/supervisor"
)

const (
	closeTimeout = 8 * time.Second

	// defaultVenueRPS/defaultVenueBurst are the per-venue REST ceilings
	// applied before RateLimitFactor headroom; the pack's example venues
	// (spec §6) don't name per-venue figures, so these mirror a
	// conservative public-endpoint rate shared across venues.
	defaultVenueRPS   = 10.0
	defaultVenueBurst = 20

	dailyCacheRefreshInterval = 24 * time.Hour
	dailyCacheLookbackDays    = 30
)

// Coordinator wires and runs every pipeline component.
type Coordinator struct {
	cfg config.Config
	log zerolog.Logger

	cat *catalog.Catalog
	st  *store.Store

	dailyCache *detect.DailyCache
	fetchSem   *semaphore.Weighted

	supervisors map[string]*supervisor.Supervisor
	adapters    map[string]adapter.Adapter

	volDetector   *detect.VolatilityDetector
	basisDetector *detect.BasisDetector
	crossDetector *detect.CrossExchangeDetector
	gate          *cooldown.Gate
	dispatcher    *notifier.Dispatcher
	metrics       *metrics.Registry
}

// New builds a Coordinator from configuration. It does not start any
// background work; call Run for that.
func New(cfg config.Config, log zerolog.Logger, reg prometheus.Registerer, endpoints map[model.AlertKind]notifier.Endpoint) (*Coordinator, error) {
	cat := catalog.New(cfg)
	st := store.New(cfg.WindowSize())
	var dailyCache *detect.DailyCache
	if cfg.CacheDir != "" {
		dailyCache = detect.NewDailyCache(cfg.CacheDir, time.Duration(cfg.MaxCacheAgeHours)*time.Hour)
	}

	c := &Coordinator{
		cfg:           cfg,
		log:           log,
		cat:           cat,
		st:            st,
		dailyCache:    dailyCache,
		fetchSem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentRequests)),
		supervisors:   make(map[string]*supervisor.Supervisor),
		adapters:      make(map[string]adapter.Adapter),
		volDetector:   detect.NewVolatilityDetector(cfg, cat, st, dailyCache),
		basisDetector: detect.NewBasisDetector(cfg, cat, st),
		crossDetector: detect.NewCrossExchangeDetector(cfg, cat, st),
		gate:          cooldown.New(cfg.VolatilityCooldown, cfg.BasisCooldown, cfg.CrossVenueCooldown),
		dispatcher:    notifier.NewDispatcher(endpoints, log),
		metrics:       metrics.NewRegistry(reg),
	}

	rateMgr := ratelimit.NewManager()
	resolver := secrets.NewResolver("MARKETSENTRY", cfg.UsePublicDataOnly)
	for _, venue := range dedupe(append(append([]string{}, cfg.Exchanges...), cfg.PerpExchanges...)) {
		rateMgr.AddVenue(venue, defaultVenueRPS*cfg.RateLimitFactor, defaultVenueBurst)
		limiter, _ := rateMgr.GetLimiter(venue)

		creds := resolver.Lookup(venue)
		ad, err := adapter.New(venue, adapter.Credentials{APIKey: creds.APIKey, APISecret: creds.APISecret}, limiter)
		if err != nil {
			return nil, err
		}
		c.adapters[venue] = ad
		c.supervisors[venue] = supervisor.New(venue, ad, st, cfg.MaxRetries, cfg.MaxStreamTasksPerVenue, c.evict, log)
	}

	return c, nil
}

func dedupe(xs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}

func (c *Coordinator) evict(venue, symbol string) {
	c.log.Warn().Str("venue", venue).Str("symbol", symbol).Msg("evicting symbol from catalog")
	c.cat.MarkInvalid(venue, symbol)
	c.metrics.SymbolsEvicted.WithLabelValues(venue, "permanent").Inc()
}

// Run loads markets, starts every supervised stream, and runs the
// detector/cooldown/notifier loop until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.loadAllMarkets(ctx); err != nil {
		return err
	}
	c.startStreams(ctx)

	if c.dailyCache != nil {
		go c.refreshDailyCache(ctx)
	}

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()
	maintenance := time.NewTicker(60 * time.Second)
	defer maintenance.Stop()
	dailyCacheTicker := time.NewTicker(dailyCacheRefreshInterval)
	defer dailyCacheTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-ticker.C:
			c.scanOnce(ctx)
		case <-maintenance.C:
			c.gate.Purge()
			if c.dailyCache != nil {
				c.dailyCache.Purge()
			}
		case <-dailyCacheTicker.C:
			if c.dailyCache != nil {
				go c.refreshDailyCache(ctx)
			}
		}
	}
}

// refreshDailyCache fetches a trailing 30-day close history for every
// currently accepted spot and perpetual instrument and stores it in the
// on-disk daily cache used for volatility alert percentile annotation.
// Requests are bounded by fetchSem, sized from MAX_CONCURRENT_REQUESTS.
func (c *Coordinator) refreshDailyCache(ctx context.Context) {
	for venue, ad := range c.adapters {
		instruments := append(append([]model.Instrument{}, c.cat.SpotSymbols(venue)...), c.cat.PerpetualSymbols(venue)...)
		for _, inst := range instruments {
			if err := c.fetchSem.Acquire(ctx, 1); err != nil {
				return
			}
			go func(venue string, ad adapter.Adapter, inst model.Instrument) {
				defer c.fetchSem.Release(1)
				bars, err := ad.FetchOHLCV(ctx, inst.RawSymbol, "1d", dailyCacheLookbackDays)
				if err != nil {
					c.log.Debug().Str("venue", venue).Str("symbol", inst.RawSymbol).Err(err).Msg("daily cache refresh fetch failed")
					return
				}
				closes := make([]float64, len(bars))
				for i, b := range bars {
					closes[i] = b.Close
				}
				c.dailyCache.Put(venue, inst.RawSymbol, closes)
			}(venue, ad, inst)
		}
	}
}

func (c *Coordinator) loadAllMarkets(ctx context.Context) error {
	for venue, ad := range c.adapters {
		markets, err := ad.LoadMarkets(ctx)
		if err != nil {
			c.log.Error().Str("venue", venue).Err(err).Msg("load_markets failed")
			continue
		}
		raws := make([]catalog.RawMarket, 0, len(markets))
		for _, m := range markets {
			raws = append(raws, catalog.RawMarket{
				Venue:    venue,
				Symbol:   m.Symbol,
				Quote:    m.Quote,
				Active:   m.Active,
				IsSwap:   m.IsSwap,
				IsFuture: m.IsFuture,
			})
		}
		c.cat.Reload(venue, raws)
	}
	return nil
}

func (c *Coordinator) startStreams(ctx context.Context) {
	for venue, sup := range c.supervisors {
		for _, inst := range c.cat.SpotSymbols(venue) {
			sup.StartOHLCV(ctx, inst.RawSymbol, "1m")
		}
		for _, inst := range c.cat.PerpetualSymbols(venue) {
			sup.StartOHLCV(ctx, inst.RawSymbol, "1m")
		}
	}
}

func (c *Coordinator) scanOnce(ctx context.Context) {
	var batch []model.Alert
	for venue := range c.adapters {
		stop := metrics.StepTimer(c.metrics.ScanDuration.WithLabelValues("volatility"))
		batch = append(batch, c.volDetector.Scan(venue)...)
		stop()

		stop = metrics.StepTimer(c.metrics.ScanDuration.WithLabelValues("basis"))
		batch = append(batch, c.basisDetector.Scan(venue)...)
		stop()
	}
	stop := metrics.StepTimer(c.metrics.ScanDuration.WithLabelValues("cross_exchange"))
	batch = append(batch, c.crossDetector.Scan(c.cfg.PerpExchanges)...)
	stop()

	gated := c.gate.Filter(batch)
	suppressedByKind := make(map[model.AlertKind]int)
	gatedSet := make(map[string]struct{}, len(gated))
	for _, a := range gated {
		gatedSet[a.DedupKey] = struct{}{}
	}
	for _, a := range batch {
		if _, ok := gatedSet[a.DedupKey]; !ok {
			suppressedByKind[a.Kind]++
		}
	}
	for kind, n := range suppressedByKind {
		c.metrics.AlertsSuppressed.WithLabelValues(string(kind)).Add(float64(n))
	}

	if len(gated) > 0 {
		c.dispatcher.Send(ctx, gated)
	}
	for _, a := range gated {
		c.metrics.AlertsEmitted.WithLabelValues(string(a.Kind)).Inc()
	}
}

func (c *Coordinator) shutdown() {
	for _, sup := range c.supervisors {
		sup.Shutdown(closeTimeout)
	}
}
