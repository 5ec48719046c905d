// Package risk implements the cross-margin liquidation loop: given current
// positions and marks, decide whether the account is underwater and close
// positions, worst first, until it is solvent again.
package risk

import (
	"github.com/kizxyz/hl-paper-mode/internal/numerics"
	"github.com/kizxyz/hl-paper-mode/internal/types"
)

// ClosedPosition records one position closed by the liquidation loop, for
// callers that want to report or log what happened.
type ClosedPosition struct {
	Symbol string
	Side   types.Side
	Size   float64
	Mark   float64
	Rpnl   float64
}

// RunLiquidationLoop closes positions, worst unrealized PnL first, until
// the account is no longer liquidatable or no positions remain. No fee is
// charged on liquidation closes. Terminates in at most len(state.Positions)
// iterations since each one strictly removes a position.
func RunLiquidationLoop(state *types.AccountState, marks *types.PriceBook) []ClosedPosition {
	var closed []ClosedPosition

	for {
		positions := state.OrderedPositions()
		if len(positions) == 0 {
			return closed
		}

		totalUpnl := 0.0
		totalMM := 0.0
		var worst *types.Position
		worstUpnl := 0.0

		for i, p := range positions {
			mark := p.EntryPrice
			if m, ok := marks.Get(p.Symbol); ok {
				mark = m
			}
			upnl := numerics.Upnl(p.Side, p.Size, mark, p.EntryPrice)
			totalUpnl += upnl
			totalMM += numerics.MaintenanceMargin(p.Size, mark, p.Leverage)

			if i == 0 || upnl < worstUpnl {
				worstUpnl = upnl
				worst = p
			}
		}

		equity := state.Balance + totalUpnl
		if !numerics.IsLiquidatable(equity, totalMM, true) {
			return closed
		}

		mark := worst.EntryPrice
		if m, ok := marks.Get(worst.Symbol); ok {
			mark = m
		}
		rpnl := numerics.Rpnl(worst.Side, worst.EntryPrice, mark, worst.Size)
		state.Balance += rpnl
		closed = append(closed, ClosedPosition{
			Symbol: worst.Symbol,
			Side:   worst.Side,
			Size:   worst.Size,
			Mark:   mark,
			Rpnl:   rpnl,
		})
		state.DeletePosition(worst.Symbol)
	}
}
