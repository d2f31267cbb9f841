// Package binance implements the adapter.Adapter facade against
// Binance's public REST and websocket market-data endpoints.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/marketsentry/internal/adapter"
	"github.com/sawpanic/marketsentry/internal/model"
	"github.com/sawpanic/marketsentry/internal/ratelimit"
)

const (
	restBase     = "https://api.binance.com"
	wsBase       = "wss://stream.binance.com:9443/ws"
	restCallSite = "rest"
)

func init() {
	adapter.Register("binance", func(venue string, creds adapter.Credentials, limiter *ratelimit.Limiter) (adapter.Adapter, error) {
		return New(venue, creds, limiter), nil
	})
}

// Client is the Binance Adapter implementation.
type Client struct {
	venue   string
	creds   adapter.Credentials
	limiter *ratelimit.Limiter
	http    *http.Client

	mu    sync.Mutex
	conns []*websocket.Conn
}

// New creates a Binance Client. creds is currently unused since every
// call this pipeline makes is a public market-data endpoint. limiter
// throttles this client's REST calls (load_markets, fetch_ohlcv); it
// must not be nil.
func New(venue string, creds adapter.Credentials, limiter *ratelimit.Limiter) *Client {
	return &Client{
		venue:   venue,
		creds:   creds,
		limiter: limiter,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
	} `json:"symbols"`
}

// LoadMarkets fetches /api/v3/exchangeInfo.
func (c *Client) LoadMarkets(ctx context.Context) ([]adapter.Market, error) {
	if err := c.limiter.Wait(ctx, restCallSite); err != nil {
		return nil, &adapter.TransientError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, restBase+"/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, &adapter.TransientError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &adapter.TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &adapter.TransientError{Err: fmt.Errorf("binance: exchangeInfo status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: exchangeInfo status %d", resp.StatusCode)
	}

	var body exchangeInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("binance: decode exchangeInfo: %w", err)
	}

	markets := make([]adapter.Market, 0, len(body.Symbols))
	for _, s := range body.Symbols {
		markets = append(markets, adapter.Market{
			Symbol: s.Symbol,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	return markets, nil
}

type klineEvent struct {
	Kline struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// WatchOHLCV subscribes to <symbol>@kline_<timeframe> and streams every
// update (including in-progress candles) until ctx is cancelled.
func (c *Client) WatchOHLCV(ctx context.Context, symbol, timeframe string, ch chan<- model.Bar) error {
	stream := fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), timeframe)
	return c.watch(ctx, stream, func(raw []byte) error {
		var ev klineEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil // malformed frame, skip rather than tear down the stream
		}
		bar := model.Bar{
			TimestampMS: ev.Kline.StartTime,
			Open:        parseFloat(ev.Kline.Open),
			High:        parseFloat(ev.Kline.High),
			Low:         parseFloat(ev.Kline.Low),
			Close:       parseFloat(ev.Kline.Close),
			Volume:      parseFloat(ev.Kline.Volume),
		}
		select {
		case ch <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

type bookTickerEvent struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	AskPrice string `json:"a"`
}

// WatchTicker subscribes to <symbol>@bookTicker until ctx is cancelled.
func (c *Client) WatchTicker(ctx context.Context, symbol string, ch chan<- model.Ticker) error {
	stream := fmt.Sprintf("%s@bookTicker", strings.ToLower(symbol))
	return c.watch(ctx, stream, func(raw []byte) error {
		var ev bookTickerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil
		}
		bid := parseFloat(ev.BidPrice)
		ask := parseFloat(ev.AskPrice)
		t := model.Ticker{
			Bid:       bid,
			Ask:       ask,
			Last:      (bid + ask) / 2,
			UpdatedAt: time.Now(),
		}
		select {
		case ch <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})
}

func (c *Client) watch(ctx context.Context, stream string, handle func([]byte) error) error {
	url := wsBase + "/" + stream
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if isPermanentSymbolDial(err) {
			return &adapter.PermanentSymbolError{Venue: c.venue, Symbol: stream, Err: err}
		}
		return &adapter.TransientError{Err: err}
	}
	c.trackConn(conn)
	defer c.untrackConn(conn)

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &adapter.TransientError{Err: err}
		}
		if err := handle(raw); err != nil {
			return err
		}
	}
}

// isPermanentSymbolDial reports whether a websocket handshake failure
// indicates the symbol stream does not exist (Binance returns a plain
// HTTP 400 on an unknown stream name rather than a protocol error).
func isPermanentSymbolDial(err error) bool {
	return strings.Contains(err.Error(), "400")
}

type klineRESTEntry []any

// FetchOHLCV calls /api/v3/klines for a one-shot historical fetch.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.Bar, error) {
	if err := c.limiter.Wait(ctx, restCallSite); err != nil {
		return nil, &adapter.TransientError{Err: err}
	}
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d", restBase, symbol, timeframe, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &adapter.TransientError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &adapter.TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return nil, &adapter.PermanentSymbolError{Venue: c.venue, Symbol: symbol, Err: fmt.Errorf("klines status 400")}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, &adapter.TransientError{Err: fmt.Errorf("binance: klines status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: klines status %d", resp.StatusCode)
	}

	var rows []klineRESTEntry
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		ts, _ := row[0].(float64)
		bars = append(bars, model.Bar{
			TimestampMS: int64(ts),
			Open:        parseAny(row[1]),
			High:        parseAny(row[2]),
			Low:         parseAny(row[3]),
			Close:       parseAny(row[4]),
			Volume:      parseAny(row[5]),
		})
	}
	return bars, nil
}

// Close terminates every tracked websocket connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	conns := c.conns
	c.conns = nil
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}

func (c *Client) trackConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = append(c.conns, conn)
}

func (c *Client) untrackConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cc := range c.conns {
		if cc == conn {
			c.conns = append(c.conns[:i], c.conns[i+1:]...)
			return
		}
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseAny(v any) float64 {
	switch x := v.(type) {
	case string:
		return parseFloat(x)
	case float64:
		return x
	default:
		return 0
	}
}
