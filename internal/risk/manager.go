// Package risk enforces a process-wide kill switch across every symbol an
// Engine runs, independent of the per-symbol margin caps enforced by
// internal/portfolio.Portfolio itself.
//
// The risk manager runs as a standalone goroutine that receives
// PositionReports, which the engine submits for each symbol every 5
// seconds, and checks them against configured limits:
//
//   - Global exposure:      caps total inventory liquidity across all symbols
//   - Daily loss:           triggers the kill switch if realized+unrealized
//     PnL across all symbols drops below -max_daily_loss
//   - Rapid price movement: triggers the kill switch if a symbol's mid
//     price moves more than KillSwitchDropPct within KillSwitchWindowSec
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// engine reads this signal and calls Portfolio.CancelAll for the affected
// symbol (or every symbol, for a global kill). After a kill, the kill
// switch stays active for CooldownAfterKill, as IsKillSwitchActive
// reports; the engine does not consult it, so quoting is not paused during
// the cooldown.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trader/internal/config"
	"trader/internal/decimalx"
)

// PositionReport is sent by the engine for each symbol on a 5-second
// ticker, independent of the controller's decisions. It carries enough state for the risk manager to
// aggregate exposure and PnL without itself touching internal/portfolio.
type PositionReport struct {
	Symbol        string
	MidPrice      decimalx.Decimal
	ExposureLiq   decimalx.Decimal // abs(inventory * mid), total position value
	UnrealizedPnL decimalx.Decimal
	RealizedPnL   decimalx.Decimal
	Timestamp     time.Time
}

// KillSignal tells the engine to flatten orders. An empty Symbol means
// cancel across every symbol (global kill).
type KillSignal struct {
	Symbol string
	Reason string
}

// priceAnchor stores a reference price at a point in time for detecting
// rapid price movements within a rolling window.
type priceAnchor struct {
	price     decimalx.Decimal
	timestamp time.Time
}

// Manager enforces risk limits across all active symbols. It aggregates
// position reports, checks limits, and emits kill signals when breached.
type Manager struct {
	maxGlobalExposure decimalx.Decimal
	hasGlobalExposure bool
	maxDailyLoss      decimalx.Decimal
	hasDailyLoss      bool
	killSwitchDropPct decimalx.Decimal
	hasDropPct        bool
	windowSec         int
	cooldown          time.Duration

	logger *slog.Logger

	mu               sync.RWMutex
	positions        map[string]PositionReport
	totalExposure    decimalx.Decimal
	totalRealizedPnL decimalx.Decimal
	killSwitchActive bool
	killSwitchUntil  time.Time
	priceAnchors     map[string]priceAnchor

	reportCh chan PositionReport
	killCh   chan KillSignal
}

// NewManager builds a risk manager from RiskConfig. Blank threshold
// fields disable that particular check (no implicit zero cap).
func NewManager(cfg config.RiskConfig, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		logger:       logger.With("component", "risk"),
		positions:    make(map[string]PositionReport),
		priceAnchors: make(map[string]priceAnchor),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
		windowSec:    cfg.KillSwitchWindowSec,
		cooldown:     cfg.CooldownAfterKill,
	}
	if cfg.MaxGlobalExposure != "" {
		v, err := decimalx.ParseFinite(cfg.MaxGlobalExposure)
		if err != nil {
			return nil, fmt.Errorf("risk.max_global_exposure: %w", err)
		}
		m.maxGlobalExposure, m.hasGlobalExposure = v, true
	}
	if cfg.MaxDailyLoss != "" {
		v, err := decimalx.ParseFinite(cfg.MaxDailyLoss)
		if err != nil {
			return nil, fmt.Errorf("risk.max_daily_loss: %w", err)
		}
		m.maxDailyLoss, m.hasDailyLoss = v, true
	}
	if cfg.KillSwitchDropPct != "" {
		v, err := decimalx.ParseFinite(cfg.KillSwitchDropPct)
		if err != nil {
			return nil, fmt.Errorf("risk.kill_switch_drop_pct: %w", err)
		}
		m.killSwitchDropPct, m.hasDropPct = v, true
	}
	if m.cooldown == 0 {
		m.cooldown = 30 * time.Second
	}
	if m.windowSec == 0 {
		m.windowSec = 10
	}
	return m, nil
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking; drops under backpressure
// rather than stalling the caller's controller loop).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report", "symbol", report.Symbol)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveSymbol cleans up state for a stopped symbol and recomputes the
// aggregate totals so a later RemainingBudget-style query doesn't still
// count the removed symbol's last reported exposure.
func (rm *Manager) RemoveSymbol(symbol string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	delete(rm.positions, symbol)
	delete(rm.priceAnchors, symbol)

	rm.totalExposure = decimalx.Zero
	rm.totalRealizedPnL = decimalx.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureLiq)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
	}
}

// IsKillSwitchActive returns whether the kill switch is engaged.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// Snapshot is the read-only aggregate risk view exposed to the
// observability server (internal/api).
type Snapshot struct {
	GlobalExposure     decimalx.Decimal
	MaxGlobalExposure  decimalx.Decimal
	KillSwitchActive   bool
	KillSwitchUntil    time.Time
	TotalRealizedPnL   decimalx.Decimal
	TotalUnrealizedPnL decimalx.Decimal
	MaxDailyLoss       decimalx.Decimal
	ActiveSymbols      int
}

// GetSnapshot returns the current aggregate risk metrics.
func (rm *Manager) GetSnapshot() Snapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	totalUnrealized := decimalx.Zero
	for _, pos := range rm.positions {
		totalUnrealized = totalUnrealized.Add(pos.UnrealizedPnL)
	}

	return Snapshot{
		GlobalExposure:     rm.totalExposure,
		MaxGlobalExposure:  rm.maxGlobalExposure,
		KillSwitchActive:   rm.killSwitchActive,
		KillSwitchUntil:    rm.killSwitchUntil,
		TotalRealizedPnL:   rm.totalRealizedPnL,
		TotalUnrealizedPnL: totalUnrealized,
		MaxDailyLoss:       rm.maxDailyLoss,
		ActiveSymbols:      len(rm.positions),
	}
}

func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.positions[report.Symbol] = report

	rm.totalExposure = decimalx.Zero
	rm.totalRealizedPnL = decimalx.Zero
	totalUnrealizedPnL := decimalx.Zero
	for _, pos := range rm.positions {
		rm.totalExposure = rm.totalExposure.Add(pos.ExposureLiq)
		rm.totalRealizedPnL = rm.totalRealizedPnL.Add(pos.RealizedPnL)
		totalUnrealizedPnL = totalUnrealizedPnL.Add(pos.UnrealizedPnL)
	}

	if rm.hasGlobalExposure && rm.totalExposure.GreaterThan(rm.maxGlobalExposure) {
		rm.emitKill("", "global exposure limit breached")
	}

	totalPnL := rm.totalRealizedPnL.Add(totalUnrealizedPnL)
	if rm.hasDailyLoss && totalPnL.LessThan(rm.maxDailyLoss.Neg()) {
		rm.emitKill("", "max daily loss breached")
	}

	rm.checkPriceMovement(report)
}

// checkPriceMovement detects rapid price swings using a rolling anchor.
// On each report, it compares mid-price to the anchor set at the start of
// the window. If the anchor is older than windowSec, it resets.
func (rm *Manager) checkPriceMovement(report PositionReport) {
	if !rm.hasDropPct {
		return
	}
	window := time.Duration(rm.windowSec) * time.Second

	anchor, ok := rm.priceAnchors[report.Symbol]
	if !ok || report.Timestamp.Sub(anchor.timestamp) > window {
		rm.priceAnchors[report.Symbol] = priceAnchor{price: report.MidPrice, timestamp: report.Timestamp}
		return
	}
	if anchor.price.IsZero() {
		return
	}

	pctChange := report.MidPrice.Sub(anchor.price).Div(anchor.price)
	if pctChange.IsNegative() {
		pctChange = pctChange.Neg()
	}

	if pctChange.GreaterThan(rm.killSwitchDropPct) {
		rm.emitKill(report.Symbol, fmt.Sprintf(
			"rapid price movement: %s over %ds", pctChange.String(), rm.windowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the engine. If the kill channel is full, it drains the
// stale signal first so the latest kill reason is always delivered.
func (rm *Manager) emitKill(symbol, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cooldown)

	rm.logger.Error("kill switch engaged", "symbol", symbol, "reason", reason, "cooldown_until", rm.killSwitchUntil)

	sig := KillSignal{Symbol: symbol, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
