package risk

import (
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"trader/internal/config"
	"trader/internal/decimalx"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxGlobalExposure:   "500",
		MaxDailyLoss:        "50",
		KillSwitchDropPct:   "0.10",
		KillSwitchWindowSec: 60,
		CooldownAfterKill:   5 * time.Minute,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	m, err := NewManager(testRiskConfig(), logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func mustRiskDec(t *testing.T, s string) decimalx.Decimal {
	t.Helper()
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		t.Fatalf("ParseFinite(%q): %v", s, err)
	}
	return d
}

func TestProcessReportUnderLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)

	rm.processReport(PositionReport{
		Symbol: "BTCUSDT", ExposureLiq: mustRiskDec(t, "50"),
		MidPrice: mustRiskDec(t, "0.50"), Timestamp: time.Now(),
	})

	if rm.killSwitchActive {
		t.Error("kill switch should not fire for a report under every limit")
	}
	select {
	case sig := <-rm.killCh:
		t.Errorf("unexpected kill signal: %+v", sig)
	default:
	}
}

func TestProcessReportGlobalBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)

	for i := 0; i < 6; i++ {
		rm.processReport(PositionReport{
			Symbol: fmt.Sprintf("SYM%d", i), ExposureLiq: mustRiskDec(t, "90"),
			MidPrice: mustRiskDec(t, "0.50"), Timestamp: time.Now(),
		})
	}

	if !rm.killSwitchActive {
		t.Error("kill switch should fire once accumulated exposure exceeds the global cap")
	}
	select {
	case sig := <-rm.killCh:
		if sig.Symbol != "" {
			t.Errorf("global breach should emit an empty-symbol kill signal, got %q", sig.Symbol)
		}
	default:
		t.Error("expected a kill signal on the channel")
	}
}

func TestProcessReportDailyLossBreach(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)

	rm.processReport(PositionReport{
		Symbol: "BTCUSDT", ExposureLiq: mustRiskDec(t, "10"),
		RealizedPnL: mustRiskDec(t, "-30"), UnrealizedPnL: mustRiskDec(t, "-25"),
		MidPrice: mustRiskDec(t, "0.50"), Timestamp: time.Now(),
	})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire when realized+unrealized PnL breaches the daily loss cap")
	}
}

func TestCheckPriceMovementNormal(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)
	now := time.Now()

	rm.processReport(PositionReport{Symbol: "BTCUSDT", MidPrice: mustRiskDec(t, "0.50"), Timestamp: now})
	rm.processReport(PositionReport{Symbol: "BTCUSDT", MidPrice: mustRiskDec(t, "0.52"), Timestamp: now.Add(10 * time.Second)})

	select {
	case <-rm.killCh:
		t.Error("a 4% move should not trigger the kill switch against a 10% threshold")
	default:
	}
}

func TestCheckPriceMovementSpike(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)
	now := time.Now()

	rm.processReport(PositionReport{Symbol: "BTCUSDT", MidPrice: mustRiskDec(t, "0.50"), Timestamp: now})
	rm.processReport(PositionReport{Symbol: "BTCUSDT", MidPrice: mustRiskDec(t, "0.35"), Timestamp: now.Add(10 * time.Second)})

	if !rm.killSwitchActive {
		t.Error("kill switch should fire for a 30% price spike against a 10% threshold")
	}
}

func TestIsKillSwitchCooldown(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)
	rm.cooldown = 100 * time.Millisecond

	rm.processReport(PositionReport{
		Symbol: "BTCUSDT", ExposureLiq: mustRiskDec(t, "600"),
		MidPrice: mustRiskDec(t, "0.50"), Timestamp: time.Now(),
	})

	if !rm.IsKillSwitchActive() {
		t.Error("kill switch should be active immediately after a breach")
	}

	time.Sleep(150 * time.Millisecond)

	if rm.IsKillSwitchActive() {
		t.Error("kill switch should expire after its cooldown elapses")
	}
}

func TestRemoveSymbolRecomputesTotals(t *testing.T) {
	t.Parallel()
	rm := newTestManager(t)
	now := time.Now()

	rm.processReport(PositionReport{Symbol: "BTCUSDT", ExposureLiq: mustRiskDec(t, "60"), RealizedPnL: mustRiskDec(t, "5"), MidPrice: mustRiskDec(t, "0.50"), Timestamp: now})
	rm.processReport(PositionReport{Symbol: "ETHUSDT", ExposureLiq: mustRiskDec(t, "70"), RealizedPnL: mustRiskDec(t, "3"), MidPrice: mustRiskDec(t, "0.50"), Timestamp: now})

	if got := rm.totalExposure; !got.Equal(mustRiskDec(t, "130")) {
		t.Fatalf("totalExposure before remove = %v, want 130", got)
	}

	rm.RemoveSymbol("ETHUSDT")

	if got := rm.totalExposure; !got.Equal(mustRiskDec(t, "60")) {
		t.Fatalf("totalExposure after remove = %v, want 60", got)
	}
	if got := rm.totalRealizedPnL; !got.Equal(mustRiskDec(t, "5")) {
		t.Fatalf("totalRealizedPnL after remove = %v, want 5", got)
	}
}

func TestNewManagerRejectsMalformedThreshold(t *testing.T) {
	t.Parallel()
	cfg := testRiskConfig()
	cfg.MaxGlobalExposure = "not-a-number"
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	if _, err := NewManager(cfg, logger); err == nil {
		t.Error("expected an error for a malformed max_global_exposure")
	}
}
