// Package feed streams Hyperliquid's allMids channel over WebSocket and
// hands parsed (symbol -> mid) batches to a callback, reconnecting on
// disconnect. Grounded on the original ws_feed.py's subscribe_all_mids,
// rebuilt on gorilla/websocket with a token-bucket reconnect limiter
// (golang.org/x/time/rate) in place of the teacher's incoming-request
// limiter (internal/middleware/ratelimit.go) — the same library, applied
// to an outbound retry loop instead of inbound requests.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/kizxyz/hl-paper-mode/internal/logging"
	"github.com/kizxyz/hl-paper-mode/internal/metrics"
)

var log = logging.For("feed")

// OnPrices is called once per allMids message with the full batch of
// updated mid prices.
type OnPrices func(mids map[string]float64)

type subscribeMsg struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
}

type allMidsMsg struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

// Client holds the upstream URL and the reconnect pacing.
type Client struct {
	URL     string
	limiter *rate.Limiter
}

// NewClient builds a feed client that reconnects at most once every
// backoffSeconds, bursting up to 1 immediate attempt.
func NewClient(url string, backoffSeconds int) *Client {
	if backoffSeconds <= 0 {
		backoffSeconds = 1
	}
	every := rate.Every(time.Duration(backoffSeconds) * time.Second)
	return &Client{URL: url, limiter: rate.NewLimiter(every, 1)}
}

// Run connects and streams allMids updates to onPrices until ctx is
// cancelled, reconnecting indefinitely on any disconnect or error.
func (c *Client) Run(ctx context.Context, onPrices OnPrices) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}

		if err := c.runOnce(ctx, onPrices); err != nil {
			metrics.FeedReconnects.Inc()
			log.Warn().Err(err).Msg("feed disconnected, will reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Client) runOnce(ctx context.Context, onPrices OnPrices) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	sub := subscribeMsg{Method: "subscribe", Subscription: subscription{Type: "allMids"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("url", c.URL).Msg("connected to price feed, subscribed to allMids")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg allMidsMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		mids, ok := parseAllMids(msg)
		if !ok {
			continue
		}
		onPrices(mids)
	}
}

// parseAllMids extracts a (symbol -> mid) batch from an allMids channel
// message, same contract as the original's parse_all_mids: ok is false
// for any other channel or an empty mids payload.
func parseAllMids(msg allMidsMsg) (map[string]float64, bool) {
	if msg.Channel != "allMids" || len(msg.Data.Mids) == 0 {
		return nil, false
	}

	mids := make(map[string]float64, len(msg.Data.Mids))
	for symbol, raw := range msg.Data.Mids {
		var price float64
		if _, err := fmt.Sscanf(raw, "%g", &price); err != nil {
			continue
		}
		mids[symbol] = price
	}
	if len(mids) == 0 {
		return nil, false
	}
	return mids, true
}
