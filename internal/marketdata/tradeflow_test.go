package marketdata

import (
	"testing"

	"trader/internal/decimalx"
)

func mustFlowDec(t *testing.T, s string) decimalx.Decimal {
	t.Helper()
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		t.Fatalf("ParseFinite(%q): %v", s, err)
	}
	return d
}

func TestTradeFlowWindowPrunesOldTrades(t *testing.T) {
	t.Parallel()
	w := NewTradeFlowWindow(1000)

	w.ApplyTrade(mustFlowDec(t, "100"), mustFlowDec(t, "1"), 0, TradeSideBuy)
	w.ApplyTrade(mustFlowDec(t, "101"), mustFlowDec(t, "1"), 500, TradeSideBuy)
	if w.BuyCount() != 2 {
		t.Fatalf("BuyCount = %d, want 2", w.BuyCount())
	}

	// This trade's cull time (1400-1000=400) should evict the t=0 trade
	// but keep the t=500 one.
	w.ApplyTrade(mustFlowDec(t, "102"), mustFlowDec(t, "1"), 1400, TradeSideBuy)
	if w.BuyCount() != 2 {
		t.Errorf("BuyCount after prune = %d, want 2 (t=500 and t=1400 survive)", w.BuyCount())
	}
}

func TestTradeFlowWindowSeparatesSides(t *testing.T) {
	t.Parallel()
	w := NewTradeFlowWindow(5000)
	w.ApplyTrade(mustFlowDec(t, "100"), mustFlowDec(t, "1"), 0, TradeSideBuy)
	w.ApplyTrade(mustFlowDec(t, "99"), mustFlowDec(t, "2"), 0, TradeSideSell)

	if w.BuyCount() != 1 || w.SellCount() != 1 {
		t.Errorf("BuyCount=%d SellCount=%d, want 1 and 1", w.BuyCount(), w.SellCount())
	}
}

func TestTradeFlowWindowLastResetsEachCall(t *testing.T) {
	t.Parallel()
	w := NewTradeFlowWindow(5000)
	w.ApplyTrade(mustFlowDec(t, "100"), mustFlowDec(t, "1"), 0, TradeSideBuy)
	if w.LastBuy.Length.IsZero() {
		t.Fatal("LastBuy should have one observation after a buy trade")
	}

	w.ApplyTrade(mustFlowDec(t, "99"), mustFlowDec(t, "1"), 10, TradeSideSell)
	if !w.LastBuy.Length.IsZero() {
		t.Error("LastBuy should reset to empty on the next ApplyTrade call")
	}
	if w.LastSell.Length.IsZero() {
		t.Error("LastSell should carry this tick's observation")
	}
}

func TestTradeFlowForeverLiquidityAccumulatesAcrossPrunes(t *testing.T) {
	t.Parallel()
	w := NewTradeFlowWindow(100)
	w.ApplyTrade(mustFlowDec(t, "100"), mustFlowDec(t, "1"), 0, TradeSideBuy)
	w.ApplyTrade(mustFlowDec(t, "100"), mustFlowDec(t, "1"), 1000, TradeSideBuy)

	if w.BuyCount() != 1 {
		t.Fatalf("BuyCount = %d, want 1 (first trade pruned by window)", w.BuyCount())
	}
	if w.BuyForeverLiquidity.Length.IntPart() != 2 {
		t.Errorf("BuyForeverLiquidity.Length = %s, want 2 (forever stats never prune)", w.BuyForeverLiquidity.Length)
	}
}

func TestRegularStatsMeanAndVariance(t *testing.T) {
	t.Parallel()
	s := NewRegularStats()
	s.Add(0, mustFlowDec(t, "10"))
	s.Add(1, mustFlowDec(t, "20"))
	s.Add(2, mustFlowDec(t, "30"))

	if s.Mean.String() != "20" {
		t.Errorf("Mean = %s, want 20", s.Mean)
	}
	if s.Variance.IsNegative() {
		t.Errorf("Variance should never be negative, got %s", s.Variance)
	}
}

func TestRegularStatsPruneRemovesOldObservations(t *testing.T) {
	t.Parallel()
	s := NewRegularStats()
	s.Add(0, mustFlowDec(t, "10"))
	s.Add(1000, mustFlowDec(t, "20"))
	s.Prune(500)

	if s.Length.IntPart() != 1 {
		t.Errorf("Length after prune = %s, want 1", s.Length)
	}
	if s.Mean.String() != "20" {
		t.Errorf("Mean after prune = %s, want 20", s.Mean)
	}
}

func TestNormalStatsTracksHighestAndLowest(t *testing.T) {
	t.Parallel()
	s := NewNormalStats()
	s.Add(mustFlowDec(t, "5"))
	s.Add(mustFlowDec(t, "10"))
	s.Add(mustFlowDec(t, "1"))

	if s.Highest.String() != "10" {
		t.Errorf("Highest = %s, want 10", s.Highest)
	}
	if s.Lowest.String() != "1" {
		t.Errorf("Lowest = %s, want 1", s.Lowest)
	}
	if s.Length.IntPart() != 3 {
		t.Errorf("Length = %s, want 3", s.Length)
	}
}
