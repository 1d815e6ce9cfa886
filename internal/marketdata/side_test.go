package marketdata

import (
	"testing"

	"trader/internal/decimalx"
)

func mustSideDec(t *testing.T, s string) decimalx.Decimal {
	t.Helper()
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		t.Fatalf("ParseFinite(%q): %v", s, err)
	}
	return d
}

func TestBidSideBestIsHighestPrice(t *testing.T) {
	t.Parallel()
	s := NewOrderBookSide(sideBid)
	s.Upsert(newLevel(mustSideDec(t, "99"), mustSideDec(t, "1"), 1, 0))
	s.Upsert(newLevel(mustSideDec(t, "101"), mustSideDec(t, "1"), 1, 0))
	s.Upsert(newLevel(mustSideDec(t, "100"), mustSideDec(t, "1"), 1, 0))

	best, ok := s.Best()
	if !ok || best.Price.String() != "101" {
		t.Errorf("Best() = %+v, ok=%v, want price 101", best, ok)
	}
	worst, ok := s.Worst()
	if !ok || worst.Price.String() != "99" {
		t.Errorf("Worst() = %+v, ok=%v, want price 99", worst, ok)
	}
}

func TestAskSideBestIsLowestPrice(t *testing.T) {
	t.Parallel()
	s := NewOrderBookSide(sideAsk)
	s.Upsert(newLevel(mustSideDec(t, "99"), mustSideDec(t, "1"), 1, 0))
	s.Upsert(newLevel(mustSideDec(t, "101"), mustSideDec(t, "1"), 1, 0))
	s.Upsert(newLevel(mustSideDec(t, "100"), mustSideDec(t, "1"), 1, 0))

	best, ok := s.Best()
	if !ok || best.Price.String() != "99" {
		t.Errorf("Best() = %+v, ok=%v, want price 99", best, ok)
	}
	worst, ok := s.Worst()
	if !ok || worst.Price.String() != "101" {
		t.Errorf("Worst() = %+v, ok=%v, want price 101", worst, ok)
	}
}

func TestApplyLevelStaleWriteIgnored(t *testing.T) {
	t.Parallel()
	s := NewOrderBookSide(sideBid)
	price := mustSideDec(t, "100")
	s.ApplyLevel(price, mustSideDec(t, "5"), 10, 1000, 0)
	s.ApplyLevel(price, mustSideDec(t, "999"), 9, 1001, 0)

	got, ok := s.Get(price)
	if !ok || got.Size.String() != "5" {
		t.Errorf("Get = %+v, ok=%v, want size 5 (stale write should be ignored)", got, ok)
	}
}

func TestApplyLevelZeroSizeEvicts(t *testing.T) {
	t.Parallel()
	s := NewOrderBookSide(sideBid)
	price := mustSideDec(t, "100")
	s.ApplyLevel(price, mustSideDec(t, "5"), 10, 1000, 0)
	s.ApplyLevel(price, decimalx.Zero, 11, 1001, 0)

	if _, ok := s.Get(price); ok {
		t.Error("zero-size write should evict the level")
	}
}

func TestApplyLevelVacantDeleteIsNoop(t *testing.T) {
	t.Parallel()
	s := NewOrderBookSide(sideBid)
	s.ApplyLevel(mustSideDec(t, "100"), decimalx.Zero, 1, 0, 0)

	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestApplyLevelVacantInsertRespectsWatermark(t *testing.T) {
	t.Parallel()
	s := NewOrderBookSide(sideBid)
	price := mustSideDec(t, "100")

	s.ApplyLevel(price, mustSideDec(t, "1"), 5, 0, 10)
	if _, ok := s.Get(price); ok {
		t.Error("insert at seq <= minSeqForInsert should be rejected")
	}

	s.ApplyLevel(price, mustSideDec(t, "1"), 11, 0, 10)
	if _, ok := s.Get(price); !ok {
		t.Error("insert at seq > minSeqForInsert should succeed")
	}
}

func TestOrderBookLevelLiquidityInvariant(t *testing.T) {
	t.Parallel()
	lvl := newLevel(mustSideDec(t, "10"), mustSideDec(t, "3"), 1, 0)
	want := mustSideDec(t, "30")
	if !lvl.Liquidity.Equal(want) {
		t.Errorf("Liquidity = %s, want %s", lvl.Liquidity, want)
	}
}
