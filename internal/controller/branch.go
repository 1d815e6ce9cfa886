// Package controller implements the Strategy Controller: the per-symbol
// decision core that resolves the nine-state StratBranch and drives the
// Portfolio toward the invariant set {NNN, NNS, SNN, SNS, SSS} (spec.md
// §4.6). Grounded on _examples/original_source/src/strategy/bybit/strategy.rs
// (Strategy::strat_branch, Strategy::listen's message match) — the branch
// action bodies there were left as stubs in the source, so the action
// table itself is taken from spec.md §4.6 verbatim.
package controller

import "fmt"

// StratBranch encodes (opens-resting, closes-resting, inventory-present)
// per side. Letter convention follows the source literally: N marks the
// absent/None leg of the triple, S marks the present/Some leg — so NNN is
// the fully-flat state (nothing resting, no inventory) and SSS is the
// fully-loaded steady state (spec.md §3 "StratBranch").
type StratBranch int

const (
	BranchNNN StratBranch = iota
	BranchNNS
	BranchNSN
	BranchNSS
	BranchSNN
	BranchSNS
	BranchSSN
	BranchSSS
)

func (b StratBranch) String() string {
	switch b {
	case BranchNNN:
		return "NNN"
	case BranchNNS:
		return "NNS"
	case BranchNSN:
		return "NSN"
	case BranchNSS:
		return "NSS"
	case BranchSNN:
		return "SNN"
	case BranchSNS:
		return "SNS"
	case BranchSSN:
		return "SSN"
	case BranchSSS:
		return "SSS"
	default:
		return fmt.Sprintf("StratBranch(%d)", int(b))
	}
}

// Invariant reports whether b is one of the two halting states (spec.md
// §3: "NSN and SSN are invariant violations: closing orders resting
// against zero inventory").
func (b StratBranch) Invariant() bool {
	return b == BranchNSN || b == BranchSSN
}

// ResolveBranch computes the StratBranch for one side from the three
// presence booleans (spec.md §4.6 "Branch resolution (per side)"):
//
//	opens     = opens.total_reserved.count > 0
//	closes    = closes.total_reserved.count > 0
//	inventory = opens.filled.liquidity > 0
func ResolveBranch(opensResting, closesResting, inventoryPresent bool) StratBranch {
	switch {
	case !opensResting && !closesResting && !inventoryPresent:
		return BranchNNN
	case !opensResting && !closesResting && inventoryPresent:
		return BranchNNS
	case !opensResting && closesResting && !inventoryPresent:
		return BranchNSN
	case !opensResting && closesResting && inventoryPresent:
		return BranchNSS
	case opensResting && !closesResting && !inventoryPresent:
		return BranchSNN
	case opensResting && !closesResting && inventoryPresent:
		return BranchSNS
	case opensResting && closesResting && !inventoryPresent:
		return BranchSSN
	default: // opens, closes, inventory all present
		return BranchSSS
	}
}
