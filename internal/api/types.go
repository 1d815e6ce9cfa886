package api

import (
	"time"

	"trader/internal/decimalx"
)

// DashboardSnapshot represents the complete observability state for every
// traded symbol at a point in time.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Symbols []SymbolStatus `json:"symbols"`

	TotalRealized   decimalx.Decimal `json:"total_realized"`
	TotalUnrealized decimalx.Decimal `json:"total_unrealized"`
	TotalPnL        decimalx.Decimal `json:"total_pnl"`

	Risk RiskSnapshot `json:"risk"`
}

// SymbolStatus represents per-symbol book, position, and quoting state.
type SymbolStatus struct {
	Symbol string `json:"symbol"`

	MidPrice    decimalx.Decimal `json:"mid_price"`
	BestBid     decimalx.Decimal `json:"best_bid"`
	BestAsk     decimalx.Decimal `json:"best_ask"`
	Spread      decimalx.Decimal `json:"spread"`
	Initialized bool             `json:"initialized"`

	Buy  PositionSnapshot `json:"buy"`
	Sell PositionSnapshot `json:"sell"`

	ActiveBuyTop  *QuoteInfo `json:"active_buy_top,omitempty"`
	ActiveSellTop *QuoteInfo `json:"active_sell_top,omitempty"`

	RemainingMargin decimalx.Decimal `json:"remaining_margin"`
}

// PositionSnapshot represents one side's position and P&L for a symbol.
type PositionSnapshot struct {
	Inventory     decimalx.Decimal `json:"inventory"`
	EntryPrice    decimalx.Decimal `json:"entry_price"`
	RealizedPnL   decimalx.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimalx.Decimal `json:"unrealized_pnl"`
	ExposureLiq   decimalx.Decimal `json:"exposure_liq"`
}

// QuoteInfo represents a single resting quote.
type QuoteInfo struct {
	Price     decimalx.Decimal `json:"price"`
	Size      decimalx.Decimal `json:"size"`
	ClientID  string           `json:"client_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// RiskSnapshot represents aggregate risk metrics across all symbols.
type RiskSnapshot struct {
	GlobalExposure    decimalx.Decimal `json:"global_exposure"`
	MaxGlobalExposure decimalx.Decimal `json:"max_global_exposure"`

	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchUntil  time.Time `json:"kill_switch_until,omitempty"`

	TotalRealizedPnL   decimalx.Decimal `json:"total_realized_pnl"`
	TotalUnrealizedPnL decimalx.Decimal `json:"total_unrealized_pnl"`
	MaxDailyLoss       decimalx.Decimal `json:"max_daily_loss"`
	ActiveSymbols      int              `json:"active_symbols"`
}
