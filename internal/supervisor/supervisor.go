// Package supervisor runs one goroutine per (venue, symbol, timeframe),
// feeding bars and tickers into the store and classifying failures into
// retry-with-backoff, permanent-symbol eviction, or log-and-stop.
package supervisor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketsentry/internal/adapter"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/store"
)

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 30 * time.Second
)

// Task identifies one unit of supervised work.
type Task struct {
	Venue     string
	Symbol    string
	Timeframe string
}

// EvictFunc is called when a symbol is permanently unavailable on a
// venue and must be removed from future polling.
type EvictFunc func(venue, symbol string)

// Supervisor owns the set of running per-instrument tasks for one venue.
type Supervisor struct {
	venue      string
	ad         adapter.Adapter
	st         *store.Store
	maxRetries int
	maxTasks   int
	onEvict    EvictFunc
	log        zerolog.Logger

	mu     sync.Mutex
	cancel map[Task]context.CancelFunc
	wg     sync.WaitGroup
	active int
}

// New creates a Supervisor for one venue's adapter.
func New(venue string, ad adapter.Adapter, st *store.Store, maxRetries, maxTasks int, onEvict EvictFunc, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		venue:      venue,
		ad:         ad,
		st:         st,
		maxRetries: maxRetries,
		maxTasks:   maxTasks,
		onEvict:    onEvict,
		log:        log.With().Str("venue", venue).Logger(),
		cancel:     make(map[Task]context.CancelFunc),
	}
}

// StartOHLCV launches a supervised watch loop for (symbol, timeframe).
// Returns false if the task is already running or the venue's task
// budget is exhausted.
func (s *Supervisor) StartOHLCV(parent context.Context, symbol, timeframe string) bool {
	t := Task{Venue: s.venue, Symbol: symbol, Timeframe: timeframe}
	s.mu.Lock()
	if _, running := s.cancel[t]; running {
		s.mu.Unlock()
		return false
	}
	if s.active >= s.maxTasks {
		s.mu.Unlock()
		s.log.Warn().Str("symbol", symbol).Msg("venue task budget exhausted, deferring")
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel[t] = cancel
	s.active++
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, t)
	return true
}

// StartTicker launches a supervised ticker watch loop for symbol.
func (s *Supervisor) StartTicker(parent context.Context, symbol string) bool {
	t := Task{Venue: s.venue, Symbol: symbol, Timeframe: "ticker"}
	s.mu.Lock()
	if _, running := s.cancel[t]; running {
		s.mu.Unlock()
		return false
	}
	if s.active >= s.maxTasks {
		s.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel[t] = cancel
	s.active++
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runTicker(ctx, t)
	return true
}

// Stop cancels a running task, identified the same way it was started.
func (s *Supervisor) Stop(symbol, timeframe string) {
	t := Task{Venue: s.venue, Symbol: symbol, Timeframe: timeframe}
	s.mu.Lock()
	cancel, ok := s.cancel[t]
	if ok {
		delete(s.cancel, t)
		s.active--
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels every running task, waits for them to exit, and
// closes the venue adapter within the given timeout.
func (s *Supervisor) Shutdown(closeTimeout time.Duration) {
	s.mu.Lock()
	for t, cancel := range s.cancel {
		cancel()
		delete(s.cancel, t)
	}
	s.active = 0
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		s.log.Warn().Msg("tasks did not exit before shutdown timeout")
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.ad.Close(ctx); err != nil {
		s.log.Warn().Err(err).Msg("adapter close error during shutdown")
	}
}

func (s *Supervisor) run(ctx context.Context, t Task) {
	defer s.wg.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.watchBarsOnce(ctx, t)
		var done bool
		attempt, done = s.handleResult(ctx, t, err, attempt)
		if done {
			return
		}
	}
}

func (s *Supervisor) runTicker(ctx context.Context, t Task) {
	defer s.wg.Done()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		err := s.watchTickerOnce(ctx, t)
		var done bool
		attempt, done = s.handleResult(ctx, t, err, attempt)
		if done {
			return
		}
	}
}

// handleResult classifies err (nil meaning the watch loop ended cleanly
// and should simply be restarted) and either sleeps for a backoff
// window or evicts the symbol and returns done=true.
func (s *Supervisor) handleResult(ctx context.Context, t Task, err error, attempt int) (nextAttempt int, done bool) {
	if ctx.Err() != nil {
		return attempt, true
	}
	if err == nil {
		return 0, false
	}

	switch adapter.Classify(err) {
	case adapter.ClassPermanentSymbol:
		s.log.Warn().Str("symbol", t.Symbol).Err(err).Msg("symbol permanently unavailable, evicting")
		s.evictAndStop(t)
		return attempt, true
	case adapter.ClassTransient:
		attempt++
		if attempt > s.maxRetries {
			s.log.Error().Str("symbol", t.Symbol).Err(err).Msg("max retries exceeded, evicting")
			s.evictAndStop(t)
			return attempt, true
		}
		delay := backoffFor(attempt)
		s.log.Debug().Str("symbol", t.Symbol).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("retrying after backoff")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return attempt, true
		}
		return attempt, false
	default: // adapter.ClassUnexpected
		s.log.Error().Str("symbol", t.Symbol).Err(err).Msg("unexpected adapter error, stopping task without retry")
		s.Stop(t.Symbol, t.Timeframe)
		return attempt, true
	}
}

func (s *Supervisor) evictAndStop(t Task) {
	if s.onEvict != nil {
		s.onEvict(t.Venue, t.Symbol)
	}
	s.Stop(t.Symbol, t.Timeframe)
}

func (s *Supervisor) watchBarsOnce(ctx context.Context, t Task) error {
	ch := make(chan model.Bar, 16)
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.ad.WatchOHLCV(ctx, t.Symbol, t.Timeframe, ch)
		close(ch)
	}()

	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return <-errCh
			}
			s.st.RecordBar(t.Venue, t.Symbol, b)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Supervisor) watchTickerOnce(ctx context.Context, t Task) error {
	ch := make(chan model.Ticker, 16)
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.ad.WatchTicker(ctx, t.Symbol, ch)
		close(ch)
	}()

	for {
		select {
		case tk, ok := <-ch:
			if !ok {
				return <-errCh
			}
			s.st.RecordTicker(t.Venue, t.Symbol, tk)
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func backoffFor(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d + jitter
}
