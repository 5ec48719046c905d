package engine

import "errors"

// Sentinel errors naming the engine's rejection kinds. OnOrder surfaces
// their messages as reason strings (§7) when it rejects an order before a
// fill is built. The price-tick path does not use them: OnPriceUpdate drops
// a crossing resting order whenever execution.ApplyFill returns an error.
var (
	ErrNoPrice          = errors.New("no price available")
	ErrLeverageMismatch = errors.New("leverage mismatch")
)
