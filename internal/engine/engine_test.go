package engine

import (
	"testing"

	"github.com/kizxyz/hl-paper-mode/internal/types"
)

func approxEqual(t *testing.T, got, want, epsilon float64) {
	t.Helper()
	diff := got - want
	if diff < 0 {
		diff = -diff
	}
	if diff > epsilon {
		t.Errorf("got %v, want %v (diff %v > epsilon %v)", got, want, diff, epsilon)
	}
}

func testConfig() Config {
	return Config{TickSize: 0.1, TakerFeeRate: 0.00045, MakerFeeRate: 0.00015}
}

func TestOnOrderRejectsWithoutPrice(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))

	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 5000, SizeUnit: types.Usd, Leverage: 10,
	})

	if res.Status != "rejected" {
		t.Fatalf("status = %q, want rejected", res.Status)
	}
	if res.Reason != ErrNoPrice.Error() {
		t.Errorf("reason = %q, want %q", res.Reason, ErrNoPrice.Error())
	}
}

func TestOnOrderMarketFillsAndDebitsFee(t *testing.T) {
	// S1 from the scenario table: BTC mid 50_000, buy $5000 notional at 10x.
	e := New(testConfig(), types.NewAccountState(10000))
	e.OnPriceUpdate("BTC", 50000)

	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 5000, SizeUnit: types.Usd, Leverage: 10,
	})

	if res.Status != "filled" {
		t.Fatalf("status = %q, want filled", res.Status)
	}
	if res.Fill == nil {
		t.Fatal("expected a fill")
	}

	snap := e.Snapshot()
	pos, ok := snap.Positions["BTC"]
	if !ok {
		t.Fatal("expected BTC position in snapshot")
	}
	if pos.Side != types.Buy {
		t.Errorf("side = %v, want Buy", pos.Side)
	}
	approxEqual(t, snap.Balance, 9997.75, 0.01)
}

func TestOnOrderRejectsSameSideLeverageMismatch(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))
	e.OnPriceUpdate("BTC", 50000)

	first := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 5000, SizeUnit: types.Usd, Leverage: 10,
	})
	if first.Status != "filled" {
		t.Fatalf("setup fill failed: %+v", first)
	}

	second := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 1000, SizeUnit: types.Usd, Leverage: 20,
	})
	if second.Status != "rejected" {
		t.Fatalf("status = %q, want rejected", second.Status)
	}
	if second.Reason != ErrLeverageMismatch.Error() {
		t.Errorf("reason = %q, want %q", second.Reason, ErrLeverageMismatch.Error())
	}
}

func TestOnOrderLimitRestsThenFillsOnPriceMove(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))
	e.OnPriceUpdate("BTC", 50000)

	limit := 50100.0
	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Sell, OrderType: types.Limit,
		SizeValue: 0.1, SizeUnit: types.Base, Leverage: 10,
		LimitPrice: &limit,
	})
	if res.Status != "resting" {
		t.Fatalf("status = %q, want resting", res.Status)
	}
	if res.OrderID == "" {
		t.Error("expected a non-empty order id")
	}

	snap := e.Snapshot()
	if len(snap.OpenOrders) != 1 {
		t.Fatalf("expected 1 resting order, got %d", len(snap.OpenOrders))
	}

	e.OnPriceUpdate("BTC", 50200)

	snap = e.Snapshot()
	if len(snap.OpenOrders) != 0 {
		t.Fatalf("order should have filled and been removed, %d remain", len(snap.OpenOrders))
	}
	pos, ok := snap.Positions["BTC"]
	if !ok {
		t.Fatal("expected BTC position after limit fill")
	}
	if pos.Side != types.Sell {
		t.Errorf("side = %v, want Sell", pos.Side)
	}
	approxEqual(t, pos.EntryPrice, 50100, 1e-9)
}

func TestOnOrderLimitCrossesImmediately(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))
	e.OnPriceUpdate("BTC", 50200)

	limit := 50100.0
	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Sell, OrderType: types.Limit,
		SizeValue: 0.1, SizeUnit: types.Base, Leverage: 10,
		LimitPrice: &limit,
	})

	if res.Status != "filled" {
		t.Fatalf("status = %q, want filled (limit already crosses mid)", res.Status)
	}
	if res.Fill == nil {
		t.Fatal("expected a fill")
	}
}

func TestOnCancelRemovesRestingOrder(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))
	e.OnPriceUpdate("BTC", 50000)

	limit := 49000.0
	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Limit,
		SizeValue: 0.1, SizeUnit: types.Base, Leverage: 10,
		LimitPrice: &limit,
	})
	if res.Status != "resting" {
		t.Fatalf("setup: status = %q, want resting", res.Status)
	}

	cancel := e.OnCancel(res.OrderID)
	if cancel.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", cancel.Status)
	}

	snap := e.Snapshot()
	if len(snap.OpenOrders) != 0 {
		t.Error("expected order book empty after cancel")
	}
}

func TestOnCancelUnknownOrderNotFound(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))
	cancel := e.OnCancel("does-not-exist")
	if cancel.Status != "not_found" {
		t.Errorf("status = %q, want not_found", cancel.Status)
	}
}

func TestOnPriceUpdateDoesNotLiquidateOnBareTick(t *testing.T) {
	// A mark moving against an open position with no resting order on that
	// symbol must not by itself trigger the liquidation loop: matches
	// _check_limit_fills in the original, which only calls
	// check_liquidations() inside `if to_remove:`.
	e := New(testConfig(), types.NewAccountState(3000))
	e.OnPriceUpdate("BTC", 50000)

	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 1.0, SizeUnit: types.Base, Leverage: 10,
	})
	if res.Status != "filled" {
		t.Fatalf("setup fill failed: %+v", res)
	}

	closed := e.OnPriceUpdate("BTC", 20000)

	if len(closed) != 0 {
		t.Errorf("expected no liquidation from a bare price tick, got %+v", closed)
	}
	snap := e.Snapshot()
	if _, ok := snap.Positions["BTC"]; !ok {
		t.Error("position should still be open; only an order crossing should trigger liquidation")
	}
}

func TestOnPriceUpdateLiquidatesWhenAnOrderFires(t *testing.T) {
	// A resting order crossing on this tick is the trigger that runs the
	// liquidation loop afterward, even though the crossing order is on a
	// different symbol than the underwater position — spec §4.4 step 3: "if any
	// order fired, run the liquidation loop."
	e := New(testConfig(), types.NewAccountState(3000))
	e.OnPriceUpdate("BTC", 50000)

	res := e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 1.0, SizeUnit: types.Base, Leverage: 10,
	})
	if res.Status != "filled" {
		t.Fatalf("setup fill failed: %+v", res)
	}

	limit := 20100.0
	e.OnPriceUpdate("ETH", 20000)
	limitOrder := e.OnOrder(types.OrderIntent{
		Symbol: "ETH", Side: types.Sell, OrderType: types.Limit,
		SizeValue: 0.01, SizeUnit: types.Base, Leverage: 5,
		LimitPrice: &limit,
	})
	if limitOrder.Status != "resting" {
		t.Fatalf("setup: expected ETH limit order resting, got %+v", limitOrder)
	}

	e.OnPriceUpdate("BTC", 20000) // crashes BTC but no order rests on BTC: no liquidation check
	snap := e.Snapshot()
	if _, ok := snap.Positions["BTC"]; !ok {
		t.Fatal("sanity check: BTC position should still be open before the triggering tick")
	}

	closed := e.OnPriceUpdate("ETH", 20200) // ETH order crosses, firing the liquidation loop
	if len(closed) == 0 {
		t.Fatal("expected the underwater BTC position to be liquidated once an order fired")
	}

	snap = e.Snapshot()
	if _, ok := snap.Positions["BTC"]; ok {
		t.Error("BTC position should have been liquidated once the loop ran")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	e := New(testConfig(), types.NewAccountState(10000))
	e.OnPriceUpdate("BTC", 50000)
	e.OnOrder(types.OrderIntent{
		Symbol: "BTC", Side: types.Buy, OrderType: types.Market,
		SizeValue: 5000, SizeUnit: types.Usd, Leverage: 10,
	})

	snap := e.Snapshot()
	snap.Balance = 999999
	snap.Positions["BTC"].Size = 999

	fresh := e.Snapshot()
	if fresh.Balance == 999999 {
		t.Error("mutating a snapshot must not affect engine state")
	}
	if fresh.Positions["BTC"].Size == 999 {
		t.Error("mutating a snapshot's position must not affect engine state")
	}
}
