// Package execution turns an order intent plus a reference price into a
// Fill, and applies a Fill to account state: open, increase, reduce,
// close, or flip a position. No I/O, no locking — callers (the engine)
// own serialization.
package execution

import (
	"errors"
	"fmt"

	"github.com/kizxyz/hl-paper-mode/internal/numerics"
	"github.com/kizxyz/hl-paper-mode/internal/types"
)

// ErrLeverageMismatch is returned by ApplyFill when a same-side fill's
// order leverage disagrees with the existing position's leverage.
var ErrLeverageMismatch = errors.New("leverage mismatch")

// Spread returns (bid, ask) around a mid price for a given tick size.
func Spread(mid, tick float64) (bid, ask float64) {
	half := tick / 2.0
	return mid - half, mid + half
}

// MarketFill executes a market order against a mid price: sizes at the
// mid, resolves the exec price (with slippage), re-sizes base units at the
// exec price, and charges the taker fee on the resulting notional.
func MarketFill(symbol string, side types.Side, sizeValue float64, unit types.SizeUnit, mid, feeRate float64) types.Fill {
	p := numerics.ExecPrice(mid, side, sizeValue, unit)
	base := numerics.ConvertSize(sizeValue, unit, p)
	notional := base * p
	fee := numerics.Fee(notional, feeRate)

	return types.Fill{
		Symbol: symbol,
		Side:   side,
		Size:   base,
		Price:  p,
		Fee:    fee,
	}
}

// CheckLimitCross tests whether a resting order crosses at the current mid
// and, if so, returns the resulting Fill (priced at the limit, not the
// mid). Returns (Fill{}, false) when it does not cross. Limit orders fill
// in full or not at all.
func CheckLimitCross(order *types.OpenOrder, mid, tick, feeRate float64) (types.Fill, bool) {
	bid, ask := Spread(mid, tick)

	crosses := false
	switch order.Side {
	case types.Buy:
		crosses = ask <= order.LimitPrice
	case types.Sell:
		crosses = bid >= order.LimitPrice
	}
	if !crosses {
		return types.Fill{}, false
	}

	notional := order.Size * order.LimitPrice
	fee := numerics.Fee(notional, feeRate)

	return types.Fill{
		Symbol:  order.Symbol,
		Side:    order.Side,
		Size:    order.Size,
		Price:   order.LimitPrice,
		Fee:     fee,
		OrderID: order.OrderID,
	}, true
}

// ApplyFill mutates account state with the effect of a fill: opening a new
// position, increasing an existing same-side one (volume-weighted entry),
// or reducing/closing/flipping an opposite-side one. orderLeverage is the
// leverage declared on the order that produced the fill; it becomes the
// position's leverage whenever a position is created or replaced.
//
// Returns ErrLeverageMismatch, wrapped with context, when a same-side fill
// disagrees with the existing position's leverage — state is left
// unchanged in that case.
func ApplyFill(state *types.AccountState, fill types.Fill, orderLeverage int) error {
	pos, exists := state.Positions[fill.Symbol]

	if !exists {
		openPosition(state, fill, orderLeverage)
		return nil
	}

	if pos.Side == fill.Side {
		if orderLeverage != pos.Leverage {
			return fmt.Errorf("%w: position has %dx, order uses %dx", ErrLeverageMismatch, pos.Leverage, orderLeverage)
		}
		increasePosition(pos, fill)
		state.Balance -= fill.Fee
		return nil
	}

	switch {
	case fill.Size < pos.Size:
		reducePosition(state, pos, fill)
	case fill.Size == pos.Size:
		closePosition(state, pos, fill)
	default:
		flipPosition(state, pos, fill, orderLeverage)
	}
	return nil
}

func openPosition(state *types.AccountState, fill types.Fill, leverage int) {
	state.SetPosition(&types.Position{
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Size:       fill.Size,
		EntryPrice: fill.Price,
		Leverage:   leverage,
		MMR:        numerics.MMR(leverage),
	})
	state.Balance -= fill.Fee
}

func increasePosition(pos *types.Position, fill types.Fill) {
	newSize := pos.Size + fill.Size
	pos.EntryPrice = (pos.Size*pos.EntryPrice + fill.Size*fill.Price) / newSize
	pos.Size = newSize
}

func reducePosition(state *types.AccountState, pos *types.Position, fill types.Fill) {
	rpnl := numerics.Rpnl(pos.Side, pos.EntryPrice, fill.Price, fill.Size)
	pos.Size -= fill.Size
	state.Balance += rpnl - fill.Fee
}

func closePosition(state *types.AccountState, pos *types.Position, fill types.Fill) {
	rpnl := numerics.Rpnl(pos.Side, pos.EntryPrice, fill.Price, pos.Size)
	state.DeletePosition(pos.Symbol)
	state.Balance += rpnl - fill.Fee
}

func flipPosition(state *types.AccountState, pos *types.Position, fill types.Fill, leverage int) {
	closedSize := pos.Size
	rpnl := numerics.Rpnl(pos.Side, pos.EntryPrice, fill.Price, closedSize)
	state.Balance += rpnl - fill.Fee

	remainder := fill.Size - closedSize
	state.SetPosition(&types.Position{
		Symbol:     fill.Symbol,
		Side:       fill.Side,
		Size:       remainder,
		EntryPrice: fill.Price,
		Leverage:   leverage,
		MMR:        numerics.MMR(leverage),
	})
}
