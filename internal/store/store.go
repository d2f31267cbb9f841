// Package store holds the in-memory market state the detectors read:
// a rolling bar window and latest ticker per (venue, symbol), guarded by
// a striped lock set so unrelated instruments never contend.
package store

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/marketsentry/internal/model"
)

const stripeCount = 64

// staleAfter is the age at which a snapshot flags a ticker as stale
// without excluding it from detection; it may simply mean the venue is
// quiet.
const staleAfter = 5 * time.Minute

type key struct {
	venue, symbol string
}

type entry struct {
	mu     sync.RWMutex
	bars   []model.Bar
	ticker model.Ticker
	hasTicker bool
}

// Store is the market state store. Zero value is not usable; use New.
type Store struct {
	window  int
	stripes [stripeCount]sync.Mutex
	tables  [stripeCount]map[key]*entry
}

// New creates a Store whose rolling window holds up to window bars per
// (venue, symbol).
func New(window int) *Store {
	if window < 1 {
		window = 1000
	}
	s := &Store{window: window}
	for i := range s.tables {
		s.tables[i] = make(map[key]*entry)
	}
	return s
}

func stripeFor(k key) int {
	h := fnv.New32a()
	h.Write([]byte(k.venue))
	h.Write([]byte{0})
	h.Write([]byte(k.symbol))
	return int(h.Sum32() % stripeCount)
}

func (s *Store) entryFor(venue, symbol string) *entry {
	k := key{venue, symbol}
	idx := stripeFor(k)
	s.stripes[idx].Lock()
	defer s.stripes[idx].Unlock()
	e, ok := s.tables[idx][k]
	if !ok {
		e = &entry{}
		s.tables[idx][k] = e
	}
	return e
}

// RecordBar inserts or replaces a bar for (venue, symbol). Same-timestamp
// bars overwrite the existing entry (treated as a refined close); a
// newer timestamp appends; anything older than the current newest bar
// is dropped as out-of-order.
func (s *Store) RecordBar(venue, symbol string, bar model.Bar) {
	if !bar.Valid() {
		return
	}
	e := s.entryFor(venue, symbol)
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.bars)
	switch {
	case n == 0:
		e.bars = append(e.bars, bar)
	case bar.TimestampMS == e.bars[n-1].TimestampMS:
		e.bars[n-1] = bar
	case bar.TimestampMS > e.bars[n-1].TimestampMS:
		e.bars = append(e.bars, bar)
		if len(e.bars) > s.window {
			e.bars = e.bars[len(e.bars)-s.window:]
		}
	default:
		// out-of-order bar older than the current head, drop it
	}
}

// RecordTicker replaces the latest ticker for (venue, symbol).
func (s *Store) RecordTicker(venue, symbol string, t model.Ticker) {
	e := s.entryFor(venue, symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticker = t
	e.hasTicker = true
}

// Snapshot is a deep-copied, point-in-time view of one instrument's
// state, safe to retain and read without further locking.
type Snapshot struct {
	Venue       string
	Symbol      string
	Bars        []model.Bar
	Ticker      model.Ticker
	HasTicker   bool
	TickerStale bool
}

// Snapshot returns a deep copy of (venue, symbol)'s current state. ok is
// false when nothing has ever been recorded for that key.
func (s *Store) Snapshot(venue, symbol string) (Snapshot, bool) {
	k := key{venue, symbol}
	idx := stripeFor(k)
	s.stripes[idx].Lock()
	e, ok := s.tables[idx][k]
	s.stripes[idx].Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return snapshotEntry(venue, symbol, e), true
}

func snapshotEntry(venue, symbol string, e *entry) Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bars := integrityFiltered(e.bars)
	snap := Snapshot{
		Venue:     venue,
		Symbol:    symbol,
		Bars:      bars,
		Ticker:    e.ticker,
		HasTicker: e.hasTicker,
	}
	if e.hasTicker && time.Since(e.ticker.UpdatedAt) > staleAfter && time.Since(e.ticker.UpdatedAt) < 6*time.Hour {
		snap.TickerStale = true
	}
	return snap
}

// integrityFiltered drops bars that fail the store's integrity check:
// non-finite fields are already excluded at RecordBar time, so this
// guards against a close of exactly zero slipping through a future
// relaxation of Bar.Valid.
func integrityFiltered(bars []model.Bar) []model.Bar {
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 {
			out = append(out, b)
		}
	}
	return out
}

// SnapshotAll returns a deep copy of every instrument currently tracked
// for venue.
func (s *Store) SnapshotAll(venue string) []Snapshot {
	var out []Snapshot
	for idx := range s.tables {
		s.stripes[idx].Lock()
		type kv struct {
			k key
			e *entry
		}
		var batch []kv
		for k, e := range s.tables[idx] {
			if k.venue == venue {
				batch = append(batch, kv{k, e})
			}
		}
		s.stripes[idx].Unlock()
		for _, b := range batch {
			out = append(out, snapshotEntry(b.k.venue, b.k.symbol, b.e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
