// Package http is the REST façade over the engine: POST an order intent,
// DELETE a resting order, GET the current account snapshot. Grounded on
// the original Python api.py's three endpoints and the request/response
// envelope shape the teacher's oms and handlers packages use, rebuilt on
// gin instead of the teacher's raw net/http + manual CORS headers — gin's
// binding and JSON helpers replace that boilerplate directly (see
// DESIGN.md).
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kizxyz/hl-paper-mode/internal/engine"
	"github.com/kizxyz/hl-paper-mode/internal/logging"
	"github.com/kizxyz/hl-paper-mode/internal/metrics"
	"github.com/kizxyz/hl-paper-mode/internal/persistence"
	"github.com/kizxyz/hl-paper-mode/internal/risk"
	"github.com/kizxyz/hl-paper-mode/internal/types"
)

var log = logging.For("http")

// Broadcaster is satisfied by internal/adapters/ws.Hub; kept as an
// interface so this package doesn't need to import gorilla/websocket.
type Broadcaster interface {
	Broadcast(state *types.AccountState)
}

// Server owns the single Engine and serializes every HTTP request onto it
// — the engine itself is documented as not safe for concurrent access.
type Server struct {
	mu     sync.Mutex
	engine *engine.Engine
	hub    Broadcaster
	store  *persistence.Store // nil disables fill logging
}

// NewServer wires a router around an existing engine instance.
func NewServer(eng *engine.Engine, hub Broadcaster, store *persistence.Store) *Server {
	return &Server{engine: eng, hub: hub, store: store}
}

// Routes registers every endpoint on the given gin engine.
func (s *Server) Routes(r *gin.Engine) {
	r.POST("/api/v1/order", s.postOrder)
	r.DELETE("/api/v1/order/:id", s.deleteOrder)
	r.GET("/api/v1/account", s.getAccount)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// orderRequest mirrors types.OrderIntent over the wire.
type orderRequest struct {
	Symbol     string   `json:"symbol" binding:"required"`
	Side       string   `json:"side" binding:"required"`      // "buy" | "sell"
	OrderType  string   `json:"order_type" binding:"required"` // "market" | "limit"
	SizeValue  float64  `json:"size_value" binding:"required,gt=0"`
	SizeUnit   string   `json:"size_unit" binding:"required"` // "usd" | "base"
	Leverage   int      `json:"leverage" binding:"required,gt=0"`
	LimitPrice *float64 `json:"limit_price,omitempty"`
	ReduceOnly bool     `json:"reduce_only,omitempty"`
	ClientID   string   `json:"client_id,omitempty"`
}

func (req orderRequest) toIntent() (types.OrderIntent, bool) {
	side, ok := parseSide(req.Side)
	if !ok {
		return types.OrderIntent{}, false
	}
	orderType, ok := parseOrderType(req.OrderType)
	if !ok {
		return types.OrderIntent{}, false
	}
	sizeUnit, ok := parseSizeUnit(req.SizeUnit)
	if !ok {
		return types.OrderIntent{}, false
	}
	return types.OrderIntent{
		Symbol:     req.Symbol,
		Side:       side,
		OrderType:  orderType,
		SizeValue:  req.SizeValue,
		SizeUnit:   sizeUnit,
		Leverage:   req.Leverage,
		LimitPrice: req.LimitPrice,
		ReduceOnly: req.ReduceOnly,
		ClientID:   req.ClientID,
		Timestamp:  time.Now().Unix(),
	}, true
}

func parseSide(s string) (types.Side, bool) {
	switch s {
	case "buy", "BUY":
		return types.Buy, true
	case "sell", "SELL":
		return types.Sell, true
	default:
		return 0, false
	}
}

func parseOrderType(s string) (types.OrderType, bool) {
	switch s {
	case "market", "MARKET":
		return types.Market, true
	case "limit", "LIMIT":
		return types.Limit, true
	default:
		return 0, false
	}
}

func parseSizeUnit(s string) (types.SizeUnit, bool) {
	switch s {
	case "usd", "USD":
		return types.Usd, true
	case "base", "BASE":
		return types.Base, true
	default:
		return 0, false
	}
}

func (s *Server) postOrder(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": err.Error()})
		return
	}
	intent, ok := req.toIntent()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"status": "rejected", "reason": "invalid side, order_type, or size_unit"})
		return
	}

	start := time.Now()
	s.mu.Lock()
	result := s.engine.OnOrder(intent)
	var snap *types.AccountState
	if result.Status != "rejected" {
		snap = s.engine.Snapshot()
	}
	s.mu.Unlock()
	metrics.OrderLatency.WithLabelValues(req.OrderType).Observe(time.Since(start).Seconds())
	metrics.OrdersTotal.WithLabelValues(result.Status, req.OrderType).Inc()

	if result.Status == "rejected" {
		log.Info().Str("symbol", req.Symbol).Str("reason", result.Reason).Msg("order rejected")
		c.JSON(http.StatusBadRequest, result)
		return
	}

	if result.Fill != nil && s.store != nil {
		rec := persistence.StampFill(*result.Fill, snap.Balance, time.Now())
		if err := s.store.LogFill(context.Background(), rec); err != nil {
			log.Error().Err(err).Msg("log fill")
		}
	}
	recordLiquidations(result.Liquidated)
	if s.hub != nil && snap != nil {
		s.hub.Broadcast(snap)
	}
	updateGauges(snap)

	c.JSON(http.StatusOK, result)
}

func (s *Server) deleteOrder(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	result := s.engine.OnCancel(id)
	var snap *types.AccountState
	if result.Status == "cancelled" {
		snap = s.engine.Snapshot()
	}
	s.mu.Unlock()

	if result.Status == "not_found" {
		c.JSON(http.StatusNotFound, result)
		return
	}
	if s.hub != nil && snap != nil {
		s.hub.Broadcast(snap)
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getAccount(c *gin.Context) {
	s.mu.Lock()
	snap := s.engine.Snapshot()
	s.mu.Unlock()
	c.JSON(http.StatusOK, snap)
}

// recordLiquidations increments the per-symbol liquidation counter for
// every position the engine closed as a side effect of this request.
func recordLiquidations(closed []risk.ClosedPosition) {
	for _, c := range closed {
		metrics.LiquidationsTotal.WithLabelValues(c.Symbol).Inc()
		log.Info().Str("symbol", c.Symbol).Float64("rpnl", c.Rpnl).Msg("position liquidated")
	}
}

func updateGauges(snap *types.AccountState) {
	if snap == nil {
		return
	}
	metrics.AccountBalance.Set(snap.Balance)
	metrics.OpenPositions.Set(float64(len(snap.Positions)))
	metrics.RestingOrders.Set(float64(len(snap.OpenOrders)))
}
