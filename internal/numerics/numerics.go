// Package numerics holds the pure, side-aware math the matching and risk
// engine is built on: PnL, margin, slippage, fees, and rounding. Every
// function here is total over finite inputs and performs no I/O.
package numerics

import (
	"math"

	"github.com/kizxyz/hl-paper-mode/internal/types"
)

// Upnl is the mark-to-market profit/loss of a position: sign(side) * size
// * (mark - entry).
func Upnl(side types.Side, size, mark, entry float64) float64 {
	return side.Sign() * size * (mark - entry)
}

// MaintenanceMargin is the minimum equity required to keep a position of
// this size open at this mark price and leverage: size * price / (2 *
// leverage).
func MaintenanceMargin(size, price float64, leverage int) float64 {
	mmr := MMR(leverage)
	return size * price * mmr
}

// MMR is the maintenance margin rate for a given leverage: 1/(2*leverage).
// Fixed on a Position at creation time and never recomputed afterward.
func MMR(leverage int) float64 {
	return 1.0 / (2.0 * float64(leverage))
}

// Equity is balance plus the sum of unrealized PnL across positions. When a
// position's symbol has no entry in marks, its entry price stands in as a
// conservative no-op mark.
func Equity(balance float64, positions []*types.Position, marks *types.PriceBook) float64 {
	total := balance
	for _, p := range positions {
		mark := p.EntryPrice
		if marks != nil {
			if m, ok := marks.Get(p.Symbol); ok {
				mark = m
			}
		}
		total += Upnl(p.Side, p.Size, mark, p.EntryPrice)
	}
	return total
}

// IsLiquidatable reports whether an account with positions should be
// liquidated: equity strictly below total maintenance margin. An empty
// account (has_positions=false) is never liquidatable, even at zero or
// negative equity.
func IsLiquidatable(equity, totalMM float64, hasPositions bool) bool {
	if !hasPositions {
		return false
	}
	return equity < totalMM
}

// Slippage models price impact as linear in notional:
// (notional / 100_000) * 0.0001.
func Slippage(notional float64) float64 {
	return (notional / 100_000.0) * 0.0001
}

// ApplySlippage pushes buys up and sells down by the given fractional
// slippage.
func ApplySlippage(price float64, side types.Side, slippage float64) float64 {
	if side == types.Buy {
		return price * (1.0 + slippage)
	}
	return price * (1.0 - slippage)
}

// Fee is notional * rate.
func Fee(notional, rate float64) float64 {
	return notional * rate
}

// ConvertSize converts an order's size_value to base units. USD sizes are
// divided by price; BASE sizes pass through unchanged.
func ConvertSize(sizeValue float64, unit types.SizeUnit, price float64) float64 {
	if unit == types.Usd {
		return sizeValue / price
	}
	return sizeValue
}

// ExecPrice resolves the circular dependency between order size and
// slippage by sizing at the mid price first, then applying slippage
// computed off that mid-priced notional.
func ExecPrice(mid float64, side types.Side, sizeValue float64, unit types.SizeUnit) float64 {
	base := ConvertSize(sizeValue, unit, mid)
	midNotional := base * mid
	s := Slippage(midNotional)
	return ApplySlippage(mid, side, s)
}

// Rpnl is the realized PnL booked when `closedSize` of a position on `side`
// is reduced from entry to exit: sign(side) * (exit - entry) * closedSize.
// side is the position's side, not the reducing fill's side.
func Rpnl(side types.Side, entry, exit, closedSize float64) float64 {
	return side.Sign() * (exit - entry) * closedSize
}

// LiquidationPrice is a UI-only estimate of the price at which a single
// position would be liquidated in isolation. Returns (0, false) when size
// is non-positive or the formula yields a non-positive price.
func LiquidationPrice(side types.Side, entry, balance, size, mmr float64) (float64, bool) {
	if size <= 0 {
		return 0, false
	}

	var p float64
	if side == types.Buy {
		p = (entry - balance/size) / (1.0 - mmr)
	} else {
		p = (balance/size + entry) / (1.0 + mmr)
	}

	if p <= 0 {
		return 0, false
	}
	return p, true
}

// RoundToStep rounds x to the nearest multiple of step, half-away-from-zero.
// A non-positive step is a passthrough.
func RoundToStep(x, step float64) float64 {
	if step <= 0 {
		return x
	}
	return roundHalfAwayFromZero(x/step) * step
}

func roundHalfAwayFromZero(x float64) float64 {
	if x >= 0 {
		return math.Floor(x + 0.5)
	}
	return math.Ceil(x - 0.5)
}
