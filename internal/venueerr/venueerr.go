// Package venueerr classifies every error a Venue Adapter can surface into
// the five-category taxonomy of spec.md §7: Transport, Authentication,
// Business, State, Invariant. Callers can branch on category or sentinel
// (via errors.Is/errors.As) rather than on venue-specific error strings,
// so a second venue adapter only needs to map its wire error codes onto
// these sentinels once. Inside the module only the adapters themselves
// branch on them (an ErrOrderNotFound cancel becomes an unknown-order
// result); the Strategy Controller and Portfolio do not inspect them.
//
// The teacher repo has no equivalent package — it wraps with fmt.Errorf
// and lets callers string-match (see internal/exchange/client.go) — so
// this classification is built directly from spec.md §7 rather than
// adapted from a teacher file; see DESIGN.md.
package venueerr

import (
	"errors"
	"fmt"
)

// Category is one of the five error classes spec.md §7 defines.
type Category int

const (
	Transport Category = iota
	Authentication
	Business
	State
	Invariant
)

func (c Category) String() string {
	switch c {
	case Transport:
		return "transport"
	case Authentication:
		return "authentication"
	case Business:
		return "business"
	case State:
		return "state"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is comparisons at call sites (spec.md §7
// "Propagation").
var (
	ErrConnection       = errors.New("venueerr: connection error")
	ErrUnexpectedClose  = errors.New("venueerr: unexpected stream close")
	ErrDeserialization  = errors.New("venueerr: deserialization mismatch")
	ErrSignatureRejected = errors.New("venueerr: signature rejected")
	ErrTimestampSkew    = errors.New("venueerr: timestamp outside recv_window")
	ErrAPIKeyRejected   = errors.New("venueerr: api key rejected")
	ErrInsufficientMargin = errors.New("venueerr: insufficient balance or margin")
	ErrReduceOnlyViolation = errors.New("venueerr: reduce-only violation")
	ErrFilterViolation  = errors.New("venueerr: quantity or price filter violation")
	ErrMaxOpenOrders    = errors.New("venueerr: max open orders exceeded")
	ErrPostOnlyWouldCross = errors.New("venueerr: post-only order would cross the book")
	ErrUnknownOrder     = errors.New("venueerr: unknown order on cancel")
	ErrOrderNotFound    = errors.New("venueerr: order not found on query")
	ErrDuplicateClientID = errors.New("venueerr: duplicate client-id")
	ErrZeroInventoryClose = errors.New("venueerr: close order resting against zero inventory")
	ErrNegativeReservedCount = errors.New("venueerr: negative reserved count")
	ErrNonPositiveSize  = errors.New("venueerr: size non-positive or non-finite")
)

// VenueError pairs a Category with the sentinel it wraps and any
// venue-supplied diagnostic text, so logging can print both the class and
// the raw wire message (spec.md §4.8 "operator sees structured log output").
type VenueError struct {
	Category Category
	Sentinel error
	Detail   string
}

func (e *VenueError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Sentinel)
	}
	return fmt.Sprintf("%s: %s: %s", e.Category, e.Sentinel, e.Detail)
}

func (e *VenueError) Unwrap() error { return e.Sentinel }

// Wrap constructs a VenueError, attaching detail (typically the venue's raw
// error body) for logging.
func Wrap(category Category, sentinel error, detail string) *VenueError {
	return &VenueError{Category: category, Sentinel: sentinel, Detail: detail}
}

// IsFatal reports whether category is classed as fatal: Transport and
// Invariant are; Business, State and Authentication are not. It only
// classifies: nothing in the module calls it, and the stream adapters
// reconnect on Transport errors rather than halting.
func IsFatal(category Category) bool {
	return category == Transport || category == Invariant
}
