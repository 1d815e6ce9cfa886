// Package portfolio implements the order-lifecycle state machine: Order,
// OrderList, Position and Portfolio (spec.md §3–§4.5). Grounded on
// _examples/original_source/src/strategy/bybit/{order,order_list,position,
// portfolio}.rs — spec.md §9 names the bybit variant as "the more complete
// one" and authoritative, so this package implements that one, shared by
// both venue adapters. Restyled in the teacher's
// internal/strategy/inventory.go idiom (plain structs, explicit mutator
// methods, no reflection).
package portfolio

import "trader/internal/decimalx"

// Side is the position side a Position tracks: Buy (long) or Sell (short).
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Stage distinguishes an entry (opening) order from an exit (closing)
// order within a Position.
type Stage int

const (
	StageEntry Stage = iota
	StageExit
)

func (s Stage) String() string {
	if s == StageEntry {
		return "entry"
	}
	return "exit"
}

// OrderClassification is the strategic role of an order (GLOSSARY: Top /
// Rebase / Exit / None).
type OrderClassification int

const (
	ClassTop OrderClassification = iota
	ClassRebase
	ClassExit
	ClassNone
)

// OrderProgress is the order lifecycle state machine (spec.md §3).
type OrderProgress int

const (
	ProgressInit OrderProgress = iota
	ProgressResting
	ProgressPartiallyFilled
	ProgressFilled
	ProgressCancelled
	ProgressFailed
	ProgressUntracked
)

// CanCancel reports whether an order in this progress state may still be
// cancelled (mirrors the original's OrderProgress::can_cancel).
func (p OrderProgress) CanCancel() bool {
	return p == ProgressInit || p == ProgressResting || p == ProgressPartiallyFilled
}

// IncompleteUnfailed reports whether an order in this state still
// contributes to open inventory and should survive OrderList.Clean().
func (p OrderProgress) IncompleteUnfailed() bool {
	return p == ProgressInit || p == ProgressResting || p == ProgressPartiallyFilled
}

// IsTerminal reports whether progress is one of the terminal states.
func (p OrderProgress) IsTerminal() bool {
	return p == ProgressCancelled || p == ProgressFailed || p == ProgressFilled || p == ProgressUntracked
}

// OrderType distinguishes limit (maker-eligible) from market (taker) orders.
type OrderType int

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

// TimeInForce is the venue directive governing order lifetime.
type TimeInForce int

const (
	TimeInForceGoodTillCancel TimeInForce = iota
	TimeInForcePostOnly
)

// MakerRebate is the per-fill rebate multiplier applied to expected_fee on
// the maker (Top/Rebase) path. The original hardcodes a module-level
// REBATE constant; kept as a package variable here so a venue adapter can
// override it per its own fee schedule.
var MakerRebate = mustDecimal("0.00025")

// TakerFee is the taker fee rate applied to Market orders.
var TakerFee = mustDecimal("0.00075")

func mustDecimal(s string) decimalx.Decimal {
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		panic(err)
	}
	return d
}
