package bybit

import (
	"errors"
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

func TestSideWireAndTifWire(t *testing.T) {
	t.Parallel()
	if got := sideWire(portfolio.SideBuy); got != "Buy" {
		t.Errorf("sideWire(Buy) = %q, want Buy", got)
	}
	if got := sideWire(portfolio.SideSell); got != "Sell" {
		t.Errorf("sideWire(Sell) = %q, want Sell", got)
	}
	if got := tifWire(portfolio.TimeInForcePostOnly); got != "PostOnly" {
		t.Errorf("tifWire(PostOnly) = %q, want PostOnly", got)
	}
	if got := tifWire(portfolio.TimeInForceGoodTillCancel); got != "GTC" {
		t.Errorf("tifWire(GTC) = %q, want GTC", got)
	}
}

func TestToIncoming(t *testing.T) {
	t.Parallel()
	ack := orderAck{OrderID: "99", OrderLinkID: "client-1"}
	in, err := toIncoming(ack, portfolio.SideBuy, mustDec(t, "100"), mustDec(t, "2"))
	if err != nil {
		t.Fatalf("toIncoming: %v", err)
	}
	if in.ExchangeID != "99" {
		t.Errorf("ExchangeID = %q, want 99", in.ExchangeID)
	}
	if in.Status != portfolio.RESTStatusCreated {
		t.Errorf("Status = %v, want RESTStatusCreated", in.Status)
	}
	if !in.CumRemainingSize.Equal(mustDec(t, "2")) {
		t.Errorf("CumRemainingSize = %s, want 2", in.CumRemainingSize)
	}
}

func TestClassifyRetCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		body     string
		want     venueerr.Category
		sentinel error
		wantNil  bool
	}{
		{"success", `{"retCode":0,"retMsg":"OK","result":{}}`, 0, nil, true},
		{"bad signature", `{"retCode":10004,"retMsg":"sig"}`, venueerr.Authentication, venueerr.ErrSignatureRejected, false},
		{"bad api key", `{"retCode":10005,"retMsg":"key"}`, venueerr.Authentication, venueerr.ErrSignatureRejected, false},
		{"timestamp skew", `{"retCode":10002,"retMsg":"skew"}`, venueerr.Authentication, venueerr.ErrTimestampSkew, false},
		{"order not found", `{"retCode":110001,"retMsg":"missing"}`, venueerr.State, venueerr.ErrOrderNotFound, false},
		{"insufficient margin", `{"retCode":110007,"retMsg":"margin"}`, venueerr.Business, venueerr.ErrInsufficientMargin, false},
		{"post only would cross", `{"retCode":110013,"retMsg":"cross"}`, venueerr.Business, venueerr.ErrPostOnlyWouldCross, false},
		{"unknown code", `{"retCode":99999,"retMsg":"???"}`, venueerr.Business, venueerr.ErrFilterViolation, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyRetCode([]byte(tt.body))
			if tt.wantNil {
				if err != nil {
					t.Fatalf("classifyRetCode = %v, want nil", err)
				}
				return
			}
			var ve *venueerr.VenueError
			if !errors.As(err, &ve) {
				t.Fatalf("classifyRetCode(%q): not a VenueError: %v", tt.name, err)
			}
			if ve.Category != tt.want {
				t.Errorf("%s: category = %v, want %v", tt.name, ve.Category, tt.want)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("%s: expected sentinel %v", tt.name, tt.sentinel)
			}
		})
	}
}

func TestExtractQueryValue(t *testing.T) {
	t.Parallel()
	enc := "timestamp=123&recvWindow=5000&apiKey=abc"
	if got := extractQueryValue(enc, "timestamp"); got != "123" {
		t.Errorf("timestamp = %q, want 123", got)
	}
	if got := extractQueryValue(enc, "recvWindow"); got != "5000" {
		t.Errorf("recvWindow = %q, want 5000", got)
	}
	if got := extractQueryValue(enc, "apiKey"); got != "abc" {
		t.Errorf("apiKey = %q, want abc", got)
	}
	if got := extractQueryValue(enc, "missing"); got != "" {
		t.Errorf("missing = %q, want empty", got)
	}
}

func TestDepthFrameToLevels(t *testing.T) {
	t.Parallel()
	f := depthFrame{}
	levels := f.toLevels([]deltaLevel{{"100", "1"}, {"101", "0"}})
	if len(levels) != 2 {
		t.Fatalf("len(levels) = %d, want 2", len(levels))
	}
	if levels[1].Size != "0" {
		t.Errorf("levels[1].Size = %q, want 0 (delete)", levels[1].Size)
	}
}

func TestOrderParamsIncludesCredentials(t *testing.T) {
	t.Parallel()
	p := orderParams(1234, Credentials{Key: "mykey"})
	enc := p.Encode()
	if extractQueryValue(enc, "apiKey") != "mykey" {
		t.Errorf("apiKey not present in %q", enc)
	}
	if extractQueryValue(enc, "timestamp") != "1234" {
		t.Errorf("timestamp not present in %q", enc)
	}
}
