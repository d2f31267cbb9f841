package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketsentry/internal/model"
)

func TestRecordBarAppendsAndCaps(t *testing.T) {
	s := New(3)
	base := int64(1_700_000_000_000)
	for i := int64(0); i < 5; i++ {
		s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: base + i*60_000, Close: 100 + float64(i)})
	}
	snap, ok := s.Snapshot("binance", "BTCUSDT")
	require.True(t, ok)
	require.Len(t, snap.Bars, 3)
	assert.Equal(t, 102.0, snap.Bars[0].Close)
	assert.Equal(t, 104.0, snap.Bars[2].Close)
}

func TestRecordBarSameTimestampReplaces(t *testing.T) {
	s := New(10)
	ts := int64(1_700_000_000_000)
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: ts, Close: 100})
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: ts, Close: 101})
	snap, _ := s.Snapshot("binance", "BTCUSDT")
	require.Len(t, snap.Bars, 1)
	assert.Equal(t, 101.0, snap.Bars[0].Close)
}

func TestRecordBarOutOfOrderDropped(t *testing.T) {
	s := New(10)
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: 2000, Close: 100})
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: 1000, Close: 50})
	snap, _ := s.Snapshot("binance", "BTCUSDT")
	require.Len(t, snap.Bars, 1)
	assert.Equal(t, 100.0, snap.Bars[0].Close)
}

func TestRecordBarRejectsInvalid(t *testing.T) {
	s := New(10)
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: 1000, Close: 0})
	_, ok := s.Snapshot("binance", "BTCUSDT")
	assert.False(t, ok)
}

func TestSnapshotFlagsStaleTicker(t *testing.T) {
	s := New(10)
	s.RecordTicker("binance", "BTCUSDT", model.Ticker{Last: 100, UpdatedAt: time.Now().Add(-10 * time.Minute)})
	snap, ok := s.Snapshot("binance", "BTCUSDT")
	require.True(t, ok)
	assert.True(t, snap.TickerStale)
}

func TestSnapshotDoesNotFlagEightHourVenueSkew(t *testing.T) {
	s := New(10)
	s.RecordTicker("binance", "BTCUSDT", model.Ticker{Last: 100, UpdatedAt: time.Now().Add(-8 * time.Hour)})
	snap, ok := s.Snapshot("binance", "BTCUSDT")
	require.True(t, ok)
	assert.False(t, snap.TickerStale)
}

func TestSnapshotAllIsolatesVenues(t *testing.T) {
	s := New(10)
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: 1000, Close: 100})
	s.RecordBar("gate", "ETHUSDT", model.Bar{TimestampMS: 1000, Close: 50})
	out := s.SnapshotAll("binance")
	require.Len(t, out, 1)
	assert.Equal(t, "BTCUSDT", out[0].Symbol)
}

func TestSnapshotReturnsDeepCopy(t *testing.T) {
	s := New(10)
	s.RecordBar("binance", "BTCUSDT", model.Bar{TimestampMS: 1000, Close: 100})
	snap, _ := s.Snapshot("binance", "BTCUSDT")
	snap.Bars[0].Close = 999
	again, _ := s.Snapshot("binance", "BTCUSDT")
	assert.Equal(t, 100.0, again.Bars[0].Close)
}
