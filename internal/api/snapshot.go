package api

import (
	"time"

	"trader/internal/risk"
)

// MarketSnapshotProvider provides read-only snapshot access to engine state.
type MarketSnapshotProvider interface {
	GetSymbolsSnapshot() []SymbolStatus
	GetRiskManager() *risk.Manager
}

// BuildSnapshot aggregates state from all components into a dashboard
// snapshot.
func BuildSnapshot(provider MarketSnapshotProvider) DashboardSnapshot {
	symbols := provider.GetSymbolsSnapshot()

	riskSnap := provider.GetRiskManager().GetSnapshot()

	totalRealized := riskSnap.TotalRealizedPnL
	totalUnrealized := riskSnap.TotalUnrealizedPnL

	return DashboardSnapshot{
		Timestamp:       time.Now(),
		Symbols:         symbols,
		TotalRealized:   totalRealized,
		TotalUnrealized: totalUnrealized,
		TotalPnL:        totalRealized.Add(totalUnrealized),
		Risk:            convertRiskSnapshot(riskSnap),
	}
}

func convertRiskSnapshot(snap risk.Snapshot) RiskSnapshot {
	return RiskSnapshot{
		GlobalExposure:     snap.GlobalExposure,
		MaxGlobalExposure:  snap.MaxGlobalExposure,
		KillSwitchActive:   snap.KillSwitchActive,
		KillSwitchUntil:    snap.KillSwitchUntil,
		TotalRealizedPnL:   snap.TotalRealizedPnL,
		TotalUnrealizedPnL: snap.TotalUnrealizedPnL,
		MaxDailyLoss:       snap.MaxDailyLoss,
		ActiveSymbols:      snap.ActiveSymbols,
	}
}
