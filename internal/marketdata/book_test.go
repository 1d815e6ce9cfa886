package marketdata

import (
	"testing"

	"trader/internal/decimalx"
)

func newTestBook() *OrderBook {
	return NewOrderBook("binance", nil)
}

func lvl(price, size string) WireLevel {
	return WireLevel{Price: price, Size: size}
}

func mustDec(t *testing.T, s string) decimalx.Decimal {
	t.Helper()
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		t.Fatalf("ParseFinite(%q): %v", s, err)
	}
	return d
}

// Scenario 1: cold start, snapshot only.
func TestApplySnapshotColdStart(t *testing.T) {
	t.Parallel()
	b := newTestBook()

	if err := b.ApplySnapshot("binance",
		[]WireLevel{lvl("100", "1"), lvl("99", "2")},
		[]WireLevel{lvl("101", "1.5"), lvl("102", "3")},
		10, 1000); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if !b.Initialized {
		t.Error("book should be Initialized after first snapshot")
	}
	if b.LastSequence != 10 {
		t.Errorf("LastSequence = %d, want 10", b.LastSequence)
	}

	bid, ok := b.FindBestBid()
	if !ok || bid.Price.String() != "100" {
		t.Errorf("best bid = %+v, ok=%v, want price 100", bid, ok)
	}
	ask, ok := b.FindBestAsk()
	if !ok || ask.Price.String() != "101" {
		t.Errorf("best ask = %+v, ok=%v, want price 101", ask, ok)
	}
	if err := b.CheckInvariant(); err != nil {
		t.Errorf("CheckInvariant: %v", err)
	}
}

// Scenario 2: snapshot then delta.
func TestApplyDeltaAfterSnapshot(t *testing.T) {
	t.Parallel()
	b := newTestBook()
	if err := b.ApplySnapshot("binance",
		[]WireLevel{lvl("100", "1")},
		[]WireLevel{lvl("101", "1")},
		10, 1000); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if err := b.ApplyDelta("binance",
		[]WireLevel{lvl("100", "0"), lvl("99.5", "4")},
		[]WireLevel{lvl("101", "2")},
		11, 12, 2000); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	if _, ok := b.Bids.Get(mustDec(t, "100")); ok {
		t.Error("price 100 bid should have been evicted by zero-size delta")
	}
	bid, ok := b.FindBestBid()
	if !ok || bid.Price.String() != "99.5" {
		t.Errorf("best bid = %+v, ok=%v, want price 99.5", bid, ok)
	}
	ask, ok := b.FindBestAsk()
	if !ok || ask.Size.String() != "2" {
		t.Errorf("best ask size = %+v, ok=%v, want size 2", ask, ok)
	}
	if b.LastSequence != 12 {
		t.Errorf("LastSequence = %d, want 12", b.LastSequence)
	}
}

// Scenario 3: out-of-order (stale) delta is dropped.
func TestApplyDeltaDropsStale(t *testing.T) {
	t.Parallel()
	b := newTestBook()
	if err := b.ApplySnapshot("binance",
		[]WireLevel{lvl("100", "1")},
		[]WireLevel{lvl("101", "1")},
		10, 1000); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if err := b.ApplyDelta("binance",
		[]WireLevel{lvl("100", "99")},
		nil,
		5, 10, 1500); err != nil {
		t.Fatalf("ApplyDelta (stale): %v", err)
	}

	bid, ok := b.FindBestBid()
	if !ok || bid.Size.String() != "1" {
		t.Errorf("stale delta should not have applied: bid = %+v", bid)
	}
	if b.LastSequence != 10 {
		t.Errorf("LastSequence should remain 10 after stale delta, got %d", b.LastSequence)
	}
}

func TestApplyDeltaCountsGapWithoutResync(t *testing.T) {
	t.Parallel()
	b := newTestBook()
	if err := b.ApplySnapshot("binance",
		[]WireLevel{lvl("100", "1")}, []WireLevel{lvl("101", "1")}, 10, 1000); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	if err := b.ApplyDelta("binance", []WireLevel{lvl("99", "3")}, nil, 20, 21, 2000); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	if b.GapCount != 1 {
		t.Errorf("GapCount = %d, want 1", b.GapCount)
	}
	if _, ok := b.Bids.Get(mustDec(t, "99")); !ok {
		t.Error("gapped delta should still be applied, not discarded")
	}
}

func TestVenueTagChangePanics(t *testing.T) {
	t.Parallel()
	b := newTestBook()
	if err := b.ApplySnapshot("binance", nil, nil, 1, 0); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on venue tag change")
		}
	}()
	_ = b.ApplySnapshot("bybit", nil, nil, 2, 0)
}

func TestCheckInvariantDetectsCrossedBook(t *testing.T) {
	t.Parallel()
	b := newTestBook()
	b.Bids.Upsert(newLevel(mustDec(t, "101"), mustDec(t, "1"), 1, 0))
	b.Asks.Upsert(newLevel(mustDec(t, "100"), mustDec(t, "1"), 1, 0))

	if err := b.CheckInvariant(); err == nil {
		t.Error("expected invariant violation for crossed book")
	}
}
