// Package engine is the single-writer state machine at the center of the
// simulator: it owns AccountState and PriceBook, and serially dispatches
// the three external event kinds (price tick, order intent, cancel
// request) defined by the boundary contract. No engine method performs
// I/O, blocks, or yields mid-operation — callers serialize calls onto it
// however they like (direct mutex, single goroutine draining a queue).
package engine

import (
	"github.com/google/uuid"

	"github.com/kizxyz/hl-paper-mode/internal/execution"
	"github.com/kizxyz/hl-paper-mode/internal/numerics"
	"github.com/kizxyz/hl-paper-mode/internal/risk"
	"github.com/kizxyz/hl-paper-mode/internal/types"
)

// Config holds the engine's tunable constants, loaded from environment at
// startup (see internal/config).
type Config struct {
	TickSize      float64
	TakerFeeRate  float64
	MakerFeeRate  float64 // accepted, unused by the core: every fill is charged TakerFeeRate
}

// Engine is the matching and risk engine. It is not safe for concurrent
// use by multiple goroutines without external serialization; callers that
// need concurrent access should wrap it with their own mutex or drain a
// queue into it from a single goroutine, per the boundary-adapter
// contract.
type Engine struct {
	cfg    Config
	state  *types.AccountState
	prices *types.PriceBook
}

// New constructs an engine from an explicit starting state (e.g. rehydrated
// from a snapshot) and configuration.
func New(cfg Config, state *types.AccountState) *Engine {
	if state == nil {
		state = types.NewAccountState(0)
	}
	return &Engine{
		cfg:    cfg,
		state:  state,
		prices: types.NewPriceBook(),
	}
}

// OrderResult is the synchronous result of submitting an order intent.
type OrderResult struct {
	Status     string // "filled" | "resting" | "rejected"
	Fill       *types.Fill
	OrderID    string
	Reason     string
	Liquidated []risk.ClosedPosition // positions closed by a liquidation this call triggered
}

// CancelResult is the synchronous result of a cancel request.
type CancelResult struct {
	Status  string // "cancelled" | "not_found"
	OrderID string
}

// OnPriceUpdate applies a price tick: records the new mid, then scans
// resting limit orders on that symbol for crossing and applies any that
// cross (dropping silently on leverage conflict). The liquidation loop
// only runs if at least one order fired on this tick — a bare mark move
// with no order crossing does not by itself trigger a liquidation check,
// matching _check_limit_fills in the original implementation (it calls
// check_liquidations() only inside `if to_remove:`) and spec §4.4 step 3.
func (e *Engine) OnPriceUpdate(symbol string, price float64) []risk.ClosedPosition {
	e.prices.Set(symbol, price)

	fired := false
	for id, order := range e.state.OpenOrders {
		if order.Symbol != symbol {
			continue
		}

		fill, crossed := execution.CheckLimitCross(order, price, e.cfg.TickSize, e.cfg.TakerFeeRate)
		if !crossed {
			continue
		}

		// Apply or silently drop on leverage conflict — §4.4, §7.
		_ = execution.ApplyFill(e.state, fill, order.Leverage)
		delete(e.state.OpenOrders, id)
		fired = true
	}

	if !fired {
		return nil
	}
	return risk.RunLiquidationLoop(e.state, e.prices)
}

// OnPriceUpdates applies a batch of mid prices in one call, for upstream
// feeds that deliver a full (symbol → mid) snapshot per message.
func (e *Engine) OnPriceUpdates(mids map[string]float64) []risk.ClosedPosition {
	var closed []risk.ClosedPosition
	for symbol, price := range mids {
		closed = append(closed, e.OnPriceUpdate(symbol, price)...)
	}
	return closed
}

// OnOrder validates and executes or rests an order intent.
func (e *Engine) OnOrder(intent types.OrderIntent) OrderResult {
	mid, ok := e.prices.Get(intent.Symbol)
	if !ok {
		return OrderResult{Status: "rejected", Reason: ErrNoPrice.Error()}
	}

	if pos, exists := e.state.Positions[intent.Symbol]; exists && pos.Side == intent.Side && pos.Leverage != intent.Leverage {
		return OrderResult{Status: "rejected", Reason: ErrLeverageMismatch.Error()}
	}

	if intent.OrderType == types.Market {
		return e.executeMarket(intent, mid)
	}
	return e.handleLimit(intent, mid)
}

func (e *Engine) executeMarket(intent types.OrderIntent, mid float64) OrderResult {
	fill := execution.MarketFill(intent.Symbol, intent.Side, intent.SizeValue, intent.SizeUnit, mid, e.cfg.TakerFeeRate)

	if err := execution.ApplyFill(e.state, fill, intent.Leverage); err != nil {
		return OrderResult{Status: "rejected", Reason: err.Error()}
	}

	closed := risk.RunLiquidationLoop(e.state, e.prices)
	return OrderResult{Status: "filled", Fill: &fill, Liquidated: closed}
}

func (e *Engine) handleLimit(intent types.OrderIntent, mid float64) OrderResult {
	base := numerics.ConvertSize(intent.SizeValue, intent.SizeUnit, mid)

	limitPrice := 0.0
	if intent.LimitPrice != nil {
		limitPrice = *intent.LimitPrice
	}

	order := &types.OpenOrder{
		OrderID:    uuid.New().String(),
		Symbol:     intent.Symbol,
		Side:       intent.Side,
		Size:       base,
		LimitPrice: limitPrice,
		Leverage:   intent.Leverage,
		ReduceOnly: intent.ReduceOnly,
		ClientID:   intent.ClientID,
		Timestamp:  intent.Timestamp,
	}

	if fill, crossed := execution.CheckLimitCross(order, mid, e.cfg.TickSize, e.cfg.TakerFeeRate); crossed {
		if err := execution.ApplyFill(e.state, fill, intent.Leverage); err != nil {
			return OrderResult{Status: "rejected", Reason: err.Error()}
		}
		closed := risk.RunLiquidationLoop(e.state, e.prices)
		return OrderResult{Status: "filled", Fill: &fill, OrderID: order.OrderID, Liquidated: closed}
	}

	e.state.OpenOrders[order.OrderID] = order
	return OrderResult{Status: "resting", OrderID: order.OrderID}
}

// OnCancel removes a resting order if present. Never runs liquidation.
func (e *Engine) OnCancel(orderID string) CancelResult {
	if _, ok := e.state.OpenOrders[orderID]; !ok {
		return CancelResult{Status: "not_found"}
	}
	delete(e.state.OpenOrders, orderID)
	return CancelResult{Status: "cancelled", OrderID: orderID}
}

// Snapshot returns a deep, immutable copy of account state for
// serialization by the persistence or HTTP/WS collaborators.
func (e *Engine) Snapshot() *types.AccountState {
	return e.state.Clone()
}

// Prices returns a copy of the current price book, for collaborators that
// need to display marks alongside a snapshot.
func (e *Engine) Prices() map[string]float64 {
	out := make(map[string]float64, len(e.prices.Mids))
	for k, v := range e.prices.Mids {
		out[k] = v
	}
	return out
}
