package controller

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"trader/internal/decimalx"
	"trader/internal/portfolio"
)

// fakeVenue is a no-op portfolio.VenueOps so Position's worker goroutines
// have somewhere safe to land without dialing out.
type fakeVenue struct{}

func (fakeVenue) PlaceLimit(ctx context.Context, clientID uuid.UUID, side portfolio.Side, price, size decimalx.Decimal, tif portfolio.TimeInForce) (portfolio.IncomingOrderREST, error) {
	return portfolio.IncomingOrderREST{ClientID: clientID, Status: portfolio.RESTStatusCreated}, nil
}
func (fakeVenue) PlaceMarket(ctx context.Context, clientID uuid.UUID, side portfolio.Side, size decimalx.Decimal) (portfolio.IncomingOrderREST, error) {
	return portfolio.IncomingOrderREST{ClientID: clientID, Status: portfolio.RESTStatusCreated}, nil
}
func (fakeVenue) CancelOrder(ctx context.Context, clientID uuid.UUID, exchangeID string) (bool, bool, error) {
	return true, false, nil
}

func mustCtrlDec(t *testing.T, s string) decimalx.Decimal {
	t.Helper()
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		t.Fatalf("ParseFinite(%q): %v", s, err)
	}
	return d
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c := New("BTCUSDT", nil, mustCtrlDec(t, "1"), mustCtrlDec(t, "0.5"), discardLogger())
	pf := portfolio.NewPortfolio("BTCUSDT",
		mustCtrlDec(t, "1000"), mustCtrlDec(t, "10"), mustCtrlDec(t, "1"), mustCtrlDec(t, "0.5"), mustCtrlDec(t, "0.00025"),
		fakeVenue{}, c)
	c.Portfolio = pf
	return c
}

// Scenario: flat book (NNN) places a Top entry at init size.
func TestHandleTopsFlatPlacesTopEntry(t *testing.T) {
	t.Parallel()
	c := newTestController(t)

	if err := c.HandleTops(context.Background(), TopsEvent{
		BestBid: mustCtrlDec(t, "100"), BestAsk: mustCtrlDec(t, "101"),
	}); err != nil {
		t.Fatalf("HandleTops: %v", err)
	}

	buyTop := c.Portfolio.GetTop(portfolio.SideBuy, portfolio.StageEntry)
	if buyTop == nil {
		t.Fatal("expected a resting Top entry on the Buy side after a flat HandleTops")
	}
	if buyTop.OriginalPrice.String() != "100" {
		t.Errorf("buy Top entry price = %s, want 100 (best bid)", buyTop.OriginalPrice)
	}

	sellTop := c.Portfolio.GetTop(portfolio.SideSell, portfolio.StageEntry)
	if sellTop == nil {
		t.Fatal("expected a resting Top entry on the Sell side after a flat HandleTops")
	}
	if sellTop.OriginalPrice.String() != "101" {
		t.Errorf("sell Top entry price = %s, want 101 (best ask)", sellTop.OriginalPrice)
	}
}

// Scenario: a filled entry with no resting closes (NNS) places a Top exit
// sized at current inventory.
func TestHandleTopsFilledEntryPlacesTopExit(t *testing.T) {
	t.Parallel()
	c := newTestController(t)

	filled := portfolio.NewRebateOrder(uuid.New(), mustCtrlDec(t, "100"), mustCtrlDec(t, "2"), portfolio.ClassTop)
	filled.Progress = portfolio.ProgressFilled
	filled.FilledSize = mustCtrlDec(t, "2")
	filled.FilledLiquidity = mustCtrlDec(t, "200")
	filled.UnfilledSize = decimalx.Zero
	filled.UnfilledLiquidity = decimalx.Zero
	if err := c.Portfolio.Buy.Opens.AddOrder(filled); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	if err := c.HandleTops(context.Background(), TopsEvent{
		BestBid: mustCtrlDec(t, "100"), BestAsk: mustCtrlDec(t, "101"),
	}); err != nil {
		t.Fatalf("HandleTops: %v", err)
	}

	exit := c.Portfolio.GetTop(portfolio.SideBuy, portfolio.StageExit)
	if exit == nil {
		t.Fatal("expected a resting Top exit on the Buy side once inventory is present with no resting closes")
	}
	if exit.OriginalPrice.String() != "101" {
		t.Errorf("buy Top exit price = %s, want 101 (best ask)", exit.OriginalPrice)
	}
}

// Scenario: NSN / SSN (closes resting against zero inventory) halts the
// controller with an invariant error, never silently continuing.
func TestHandleTopsHaltsOnInvariantViolation(t *testing.T) {
	t.Parallel()
	c := newTestController(t)

	closeOrder := portfolio.NewRebateOrder(uuid.New(), mustCtrlDec(t, "101"), mustCtrlDec(t, "1"), portfolio.ClassExit)
	closeOrder.Progress = portfolio.ProgressResting
	if err := c.Portfolio.Buy.Closes.AddOrder(closeOrder); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	err := c.HandleTops(context.Background(), TopsEvent{
		BestBid: mustCtrlDec(t, "100"), BestAsk: mustCtrlDec(t, "101"),
	})
	if err == nil {
		t.Fatal("expected a halt error for closes resting against zero inventory")
	}
}

// A cancel-result race (a cancel ack arriving for an order the Portfolio
// no longer has a matching resting entry for) must not panic; RestCancel's
// orphan-fallback makes this tolerant.
func TestHandleCancelResultToleratesUnknownClientID(t *testing.T) {
	t.Parallel()
	c := newTestController(t)

	c.HandleCancelResult(portfolio.CancelResultEvent{
		ClientID: uuid.New(), Side: portfolio.SideBuy, Stage: portfolio.StageEntry,
		Success: true,
	})
}

func TestHandleOrderResultAppliesFailureAsRESTFailure(t *testing.T) {
	t.Parallel()
	c := newTestController(t)

	id := uuid.New()
	o := portfolio.NewRebateOrder(id, mustCtrlDec(t, "100"), mustCtrlDec(t, "1"), portfolio.ClassTop)
	if err := c.Portfolio.Buy.Opens.AddOrder(o); err != nil {
		t.Fatalf("AddOrder: %v", err)
	}

	c.HandleOrderResult(portfolio.OrderResultEvent{
		ClientID: id, Side: portfolio.SideBuy, Stage: portfolio.StageEntry, Err: errTransportFailure,
	})

	got := c.Portfolio.Buy.Opens.Orders[id]
	if got.Progress != portfolio.ProgressFailed {
		t.Errorf("Progress = %v, want Failed after a transport-error order result", got.Progress)
	}
}

var errTransportFailure = fakeTransportError{}

type fakeTransportError struct{}

func (fakeTransportError) Error() string { return "simulated transport failure" }
