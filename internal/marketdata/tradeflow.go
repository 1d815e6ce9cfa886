package marketdata

import "trader/internal/decimalx"

// TradeSide identifies the aggressor side of a trade tick.
type TradeSide int

const (
	TradeSideBuy TradeSide = iota
	TradeSideSell
)

// tradePoint is one trade retained in the rolling window.
type tradePoint struct {
	timestampMs int64
	price       decimalx.Decimal
	size        decimalx.Decimal
}

// TradeFlowWindow is the rolling (default 2000ms) buffer of recent trades
// per side plus derived rolling statistics, and the unbounded
// "forever_liquidity" lifetime accumulators. Grounded on
// _examples/original_source/src/tradeflow/mod.rs TradeFlow, restyled after
// the teacher's internal/strategy/flow_tracker.go (buffer with an
// evict-stale helper). Unlike the teacher's tracker it holds no lock: each
// window has a single owning goroutine.
type TradeFlowWindow struct {
	WindowMs int64

	buys  []tradePoint
	sells []tradePoint

	BuyMetrics  *RegularStats
	SellMetrics *RegularStats

	// LastBuy/LastSell are single-tick snapshots, reset on every
	// ApplyTrade call per spec.md §4.2.
	LastBuy  *RegularStats
	LastSell *RegularStats

	BuyForeverLiquidity  *NormalStats
	SellForeverLiquidity *NormalStats
}

// NewTradeFlowWindow builds a window with the given culling horizon in
// milliseconds (spec default 2000).
func NewTradeFlowWindow(windowMs int64) *TradeFlowWindow {
	return &TradeFlowWindow{
		WindowMs:             windowMs,
		BuyMetrics:           NewRegularStats(),
		SellMetrics:          NewRegularStats(),
		LastBuy:              NewRegularStats(),
		LastSell:             NewRegularStats(),
		BuyForeverLiquidity:  NewNormalStats(),
		SellForeverLiquidity: NewNormalStats(),
	}
}

// ApplyTrade records one aggregate trade tick. Pruning happens on every
// insert by timestamp threshold now-window (spec.md §4.2).
func (w *TradeFlowWindow) ApplyTrade(price, size decimalx.Decimal, timestampMs int64, aggressor TradeSide) {
	w.LastBuy = NewRegularStats()
	w.LastSell = NewRegularStats()

	liquidity := decimalx.Liquidity(price, size)
	cullTime := timestampMs - w.WindowMs

	switch aggressor {
	case TradeSideBuy:
		w.buys = append(w.buys, tradePoint{timestampMs, price, size})
		w.LastBuy.Add(timestampMs, price)
		w.BuyMetrics.Add(timestampMs, price)
		w.BuyMetrics.Prune(cullTime)
		w.BuyForeverLiquidity.Add(liquidity)
		w.buys = pruneTrades(w.buys, cullTime)
	case TradeSideSell:
		w.sells = append(w.sells, tradePoint{timestampMs, price, size})
		w.LastSell.Add(timestampMs, price)
		w.SellMetrics.Add(timestampMs, price)
		w.SellMetrics.Prune(cullTime)
		w.SellForeverLiquidity.Add(liquidity)
		w.sells = pruneTrades(w.sells, cullTime)
	}
}

// BuyCount/SellCount report the current window depth, useful for liquidity
// sweep detection in the Strategy Controller.
func (w *TradeFlowWindow) BuyCount() int  { return len(w.buys) }
func (w *TradeFlowWindow) SellCount() int { return len(w.sells) }

func pruneTrades(pts []tradePoint, cullTime int64) []tradePoint {
	i := 0
	for i < len(pts) && pts[i].timestampMs < cullTime {
		i++
	}
	return pts[i:]
}
