package binance

import (
	"errors"
	"net/http"
	"testing"

	"trader/internal/decimalx"
	"trader/internal/portfolio"
	"trader/internal/venueerr"
)

func mustDec(t *testing.T, s string) decimalx.Decimal {
	t.Helper()
	d, err := decimalx.ParseFinite(s)
	if err != nil {
		t.Fatalf("ParseFinite(%q): %v", s, err)
	}
	return d
}

func TestOrderResponseToIncomingFilled(t *testing.T) {
	t.Parallel()
	r := orderResponse{
		OrderID:       42,
		ClientOrderID: "abc",
		Price:         "100.50",
		OrigQty:       "2",
		ExecutedQty:   "0.5",
		Status:        "PARTIALLY_FILLED",
		Side:          "BUY",
	}
	in, err := r.toIncoming()
	if err != nil {
		t.Fatalf("toIncoming: %v", err)
	}
	if in.ExchangeID != "42" {
		t.Errorf("ExchangeID = %q, want 42", in.ExchangeID)
	}
	if in.Status != portfolio.RESTStatusCreated {
		t.Errorf("Status = %v, want RESTStatusCreated", in.Status)
	}
	if in.Side != portfolio.SideBuy {
		t.Errorf("Side = %v, want SideBuy", in.Side)
	}
	if !in.CumFillSize.Equal(mustDec(t, "0.5")) {
		t.Errorf("CumFillSize = %s, want 0.5", in.CumFillSize)
	}
	if !in.CumRemainingSize.Equal(mustDec(t, "1.5")) {
		t.Errorf("CumRemainingSize = %s, want 1.5", in.CumRemainingSize)
	}
}

func TestOrderResponseToIncomingCancelled(t *testing.T) {
	t.Parallel()
	r := orderResponse{OrderID: 7, Price: "1", OrigQty: "1", ExecutedQty: "0", Status: "CANCELED", Side: "SELL"}
	in, err := r.toIncoming()
	if err != nil {
		t.Fatalf("toIncoming: %v", err)
	}
	if in.Status != portfolio.RESTStatusCancelled {
		t.Errorf("Status = %v, want RESTStatusCancelled", in.Status)
	}
	if in.Side != portfolio.SideSell {
		t.Errorf("Side = %v, want SideSell", in.Side)
	}
}

func TestOrderResponseToIncomingRejectedOnUnknownStatus(t *testing.T) {
	t.Parallel()
	r := orderResponse{OrderID: 1, Price: "1", OrigQty: "1", ExecutedQty: "0", Status: "REJECTED", Side: "BUY"}
	in, err := r.toIncoming()
	if err != nil {
		t.Fatalf("toIncoming: %v", err)
	}
	if in.Status != portfolio.RESTStatusRejected {
		t.Errorf("Status = %v, want RESTStatusRejected", in.Status)
	}
}

func TestClassifyBusinessError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		want    venueerr.Category
		sentinel error
	}{
		{http.StatusBadRequest, venueerr.Business, venueerr.ErrFilterViolation},
		{http.StatusForbidden, venueerr.Business, venueerr.ErrInsufficientMargin},
		{http.StatusNotFound, venueerr.State, venueerr.ErrOrderNotFound},
		{http.StatusTeapot, venueerr.Business, venueerr.ErrFilterViolation},
	}
	for _, tt := range tests {
		err := classifyBusinessError(tt.status, "body")
		var ve *venueerr.VenueError
		if !errors.As(err, &ve) {
			t.Fatalf("status %d: not a VenueError", tt.status)
		}
		if ve.Category != tt.want {
			t.Errorf("status %d: category = %v, want %v", tt.status, ve.Category, tt.want)
		}
		if !errors.Is(err, tt.sentinel) {
			t.Errorf("status %d: expected sentinel %v", tt.status, tt.sentinel)
		}
	}
}

func TestSideWireAndTifWire(t *testing.T) {
	t.Parallel()
	if got := sideWire(portfolio.SideBuy); got != "BUY" {
		t.Errorf("sideWire(Buy) = %q, want BUY", got)
	}
	if got := sideWire(portfolio.SideSell); got != "SELL" {
		t.Errorf("sideWire(Sell) = %q, want SELL", got)
	}
	if got := tifWire(portfolio.TimeInForcePostOnly); got != "GTX" {
		t.Errorf("tifWire(PostOnly) = %q, want GTX", got)
	}
	if got := tifWire(portfolio.TimeInForceGoodTillCancel); got != "GTC" {
		t.Errorf("tifWire(GTC) = %q, want GTC", got)
	}
}

func TestDepthDeltaToLevelsSkipsMalformedPairs(t *testing.T) {
	t.Parallel()
	d := depthDelta{}
	levels := d.toLevels([][]string{{"100", "1"}, {"bad"}, {"101", "2"}})
	if len(levels) != 2 {
		t.Fatalf("len(levels) = %d, want 2", len(levels))
	}
	if levels[0].Price != "100" || levels[0].Size != "1" {
		t.Errorf("levels[0] = %+v", levels[0])
	}
	if levels[1].Price != "101" || levels[1].Size != "2" {
		t.Errorf("levels[1] = %+v", levels[1])
	}
}

func TestValueOr(t *testing.T) {
	t.Parallel()
	if got := valueOr("", "0"); got != "0" {
		t.Errorf("valueOr(\"\", \"0\") = %q, want 0", got)
	}
	if got := valueOr("5", "0"); got != "5" {
		t.Errorf("valueOr(\"5\", \"0\") = %q, want 5", got)
	}
}
