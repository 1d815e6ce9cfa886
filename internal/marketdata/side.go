package marketdata

import (
	"github.com/google/btree"

	"trader/internal/decimalx"
)

// OrderBookLevel is a single price level of a replica side.
//
// Invariant: Liquidity == Price.Mul(Size); Size > 0 while the level is
// present (a zero-size level is evicted, never stored).
type OrderBookLevel struct {
	Price              decimalx.Decimal
	Size               decimalx.Decimal
	Liquidity          decimalx.Decimal
	LastTouchTimestamp int64 // unix millis
	LastTouchSequence  int64
}

func newLevel(price, size decimalx.Decimal, seq, ts int64) OrderBookLevel {
	return OrderBookLevel{
		Price:              price,
		Size:               size,
		Liquidity:          decimalx.Liquidity(price, size),
		LastTouchTimestamp: ts,
		LastTouchSequence:  seq,
	}
}

// side tells OrderBookSide which direction "best" means: ascending for
// asks (lowest price first), descending for bids (highest price first).
type side int

const (
	sideBid side = iota
	sideAsk
)

// OrderBookSide is a keyed, totally-ordered container of price levels. No
// duplicate prices; iteration order equals numerical price order. Backed by
// a google/btree.BTreeG so best/worst/range queries are O(log n) instead of
// the teacher's linear map scan (internal/market/book.go never needed
// ordered access because it only ever reads top-of-book strings).
type OrderBookSide struct {
	kind side
	tree *btree.BTreeG[OrderBookLevel]
}

func less(a, b OrderBookLevel) bool {
	return a.Price.LessThan(b.Price)
}

// NewOrderBookSide constructs an empty side. kind selects best-direction
// semantics (bid: max-first, ask: min-first).
func NewOrderBookSide(kind side) *OrderBookSide {
	return &OrderBookSide{
		kind: kind,
		tree: btree.NewG(32, less),
	}
}

// Get looks up a level by price.
func (s *OrderBookSide) Get(price decimalx.Decimal) (OrderBookLevel, bool) {
	return s.tree.Get(OrderBookLevel{Price: price})
}

// Upsert inserts or replaces the level at lvl.Price.
func (s *OrderBookSide) Upsert(lvl OrderBookLevel) {
	s.tree.ReplaceOrInsert(lvl)
}

// Delete removes the level at price, if present.
func (s *OrderBookSide) Delete(price decimalx.Decimal) {
	s.tree.Delete(OrderBookLevel{Price: price})
}

// Len reports the number of resting price levels.
func (s *OrderBookSide) Len() int {
	return s.tree.Len()
}

// Best returns the best level for this side: highest price for bids,
// lowest price for asks. ok is false when the side is empty.
func (s *OrderBookSide) Best() (OrderBookLevel, bool) {
	var lvl OrderBookLevel
	var ok bool
	if s.kind == sideBid {
		s.tree.Descend(func(item OrderBookLevel) bool {
			lvl, ok = item, true
			return false
		})
	} else {
		s.tree.Ascend(func(item OrderBookLevel) bool {
			lvl, ok = item, true
			return false
		})
	}
	return lvl, ok
}

// Worst returns the far end of the book for this side.
func (s *OrderBookSide) Worst() (OrderBookLevel, bool) {
	var lvl OrderBookLevel
	var ok bool
	if s.kind == sideBid {
		s.tree.Ascend(func(item OrderBookLevel) bool {
			lvl, ok = item, true
			return false
		})
	} else {
		s.tree.Descend(func(item OrderBookLevel) bool {
			lvl, ok = item, true
			return false
		})
	}
	return lvl, ok
}

// Range walks levels from best to worst, stopping early if fn returns
// false.
func (s *OrderBookSide) Range(fn func(OrderBookLevel) bool) {
	if s.kind == sideBid {
		s.tree.Descend(func(item OrderBookLevel) bool { return fn(item) })
	} else {
		s.tree.Ascend(func(item OrderBookLevel) bool { return fn(item) })
	}
}

// ApplyLevel upserts or evicts a single wire level under the sequence
// watermark rule shared by apply_snapshot and apply_delta: a write only
// takes effect if seq is newer than whatever sequence currently owns that
// price (or, for a vacant price, newer than the side-wide watermark that
// the caller supplies as minSeqForInsert).
func (s *OrderBookSide) ApplyLevel(price, size decimalx.Decimal, seq, ts int64, minSeqForInsert int64) {
	existing, present := s.Get(price)
	if present {
		if seq <= existing.LastTouchSequence {
			return // stale write against a known level, no-op
		}
		if size.IsZero() {
			s.Delete(price)
			return
		}
		s.Upsert(newLevel(price, size, seq, ts))
		return
	}
	if size.IsZero() {
		return // deleting a level that was never there: no-op
	}
	if seq <= minSeqForInsert {
		return // vacant entry only inserted if newer than the watermark
	}
	s.Upsert(newLevel(price, size, seq, ts))
}
