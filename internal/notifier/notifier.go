// Package notifier dispatches gated alerts to outbound webhooks, one
// configurable endpoint per alert kind, using Lark's (Feishu) custom-bot
// HMAC signing scheme.
package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/marketsentry/internal/model"
)

// Endpoint is one outbound webhook target.
type Endpoint struct {
	URL    string
	Secret string // optional, enables HMAC signing when non-empty
}

// Dispatcher routes each alert kind to its configured Endpoint.
type Dispatcher struct {
	endpoints map[model.AlertKind]Endpoint
	http      *http.Client
	log       zerolog.Logger
}

// NewDispatcher creates a Dispatcher. Kinds with no configured Endpoint
// are silently skipped at Send time.
func NewDispatcher(endpoints map[model.AlertKind]Endpoint, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints: endpoints,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

type larkPayload struct {
	Timestamp string        `json:"timestamp,omitempty"`
	Sign      string        `json:"sign,omitempty"`
	MsgType   string        `json:"msg_type"`
	Content   larkTextBlock `json:"content"`
}

type larkTextBlock struct {
	Text string `json:"text"`
}

// Send groups alerts by kind and delivers one batched message per kind
// to that kind's endpoint, best-effort: a single failed delivery is
// logged and does not block the rest of the batch.
func (d *Dispatcher) Send(ctx context.Context, alerts []model.Alert) {
	byKind := make(map[model.AlertKind][]model.Alert)
	order := make([]model.AlertKind, 0, len(d.endpoints))
	for _, a := range alerts {
		if _, seen := byKind[a.Kind]; !seen {
			order = append(order, a.Kind)
		}
		byKind[a.Kind] = append(byKind[a.Kind], a)
	}

	for _, kind := range order {
		ep, ok := d.endpoints[kind]
		if !ok || ep.URL == "" {
			continue
		}
		batch := byKind[kind]
		if err := d.deliver(ctx, ep, batch); err != nil {
			d.log.Warn().Str("kind", string(kind)).Int("count", len(batch)).Err(err).Msg("notifier delivery failed")
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, batch []model.Alert) error {
	payload := larkPayload{
		MsgType: "text",
		Content: larkTextBlock{Text: formatBatch(batch)},
	}

	if ep.Secret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		sign, err := signLark(ts, ep.Secret)
		if err != nil {
			return fmt.Errorf("notifier: sign: %w", err)
		}
		payload.Timestamp = ts
		payload.Sign = sign
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notifier: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: webhook status %d", resp.StatusCode)
	}
	return nil
}

// signLark implements Lark custom-bot signing: the signing key is
// "<timestamp>\n<secret>", HMAC-SHA256 over an empty message, base64
// encoded.
func signLark(timestamp, secret string) (string, error) {
	key := timestamp + "\n" + secret
	mac := hmac.New(sha256.New, []byte(key))
	if _, err := mac.Write([]byte{}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// formatBatch joins every alert in one kind's batch into a single
// newline-delimited message body, so a scan pass emitting many alerts of
// the same kind produces one webhook call instead of one per alert.
func formatBatch(batch []model.Alert) string {
	lines := make([]string, 0, len(batch))
	for _, a := range batch {
		lines = append(lines, formatAlert(a))
	}
	return strings.Join(lines, "\n")
}

func formatAlert(a model.Alert) string {
	switch a.Kind {
	case model.AlertVolatility:
		p := a.Volatility
		return fmt.Sprintf("[volatility] %s/%s price %.2f%% volume x%.1f close=%.6g",
			p.Venue, p.Symbol, p.PriceChangePct, p.VolumeRatio, p.LastClose)
	case model.AlertBasis:
		p := a.Basis
		return fmt.Sprintf("[basis] %s %s/%s %s %.3f%% (spot=%.6g future=%.6g)",
			p.Venue, p.SpotSymbol, p.FutureSymbol, p.Direction, p.PriceDifferencePct, p.SpotClose, p.FutureClose)
	case model.AlertCrossExchange:
		p := a.CrossExchange
		return fmt.Sprintf("[cross_exchange] %s: %s=%.6g vs %s=%.6g spread=%.3f%%",
			p.CanonicalBase, p.HigherVenue, p.HigherPrice, p.LowerVenue, p.LowerPrice, p.SpreadPct)
	default:
		return fmt.Sprintf("[%s] %s", a.Kind, a.DedupKey)
	}
}
