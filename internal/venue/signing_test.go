package venue

import (
	"net/url"
	"testing"

	"trader/internal/oracle"
)

func TestSignIsDeterministicForSameInput(t *testing.T) {
	t.Parallel()
	s := NewSigner("secret", SortedFields, 5000, oracle.New())
	params := url.Values{"symbol": {"BTCUSDT"}, "side": {"BUY"}}

	q1, sig1 := s.Sign(params)
	q2, sig2 := s.Sign(params)
	if q1 != q2 || sig1 != sig2 {
		t.Errorf("Sign is not deterministic: (%s,%s) vs (%s,%s)", q1, sig1, q2, sig2)
	}
}

func TestSignSortedFieldsOrdersAlphabetically(t *testing.T) {
	t.Parallel()
	s := NewSigner("secret", SortedFields, 5000, oracle.New())
	params := url.Values{"symbol": {"BTCUSDT"}, "apiKey": {"abc"}}

	query, _ := s.Sign(params)
	want := "apiKey=abc&symbol=BTCUSDT"
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
}

func TestSignatureChangesWithSecret(t *testing.T) {
	t.Parallel()
	params := url.Values{"symbol": {"BTCUSDT"}}
	_, sig1 := NewSigner("secret-one", SortedFields, 5000, oracle.New()).Sign(params)
	_, sig2 := NewSigner("secret-two", SortedFields, 5000, oracle.New()).Sign(params)
	if sig1 == sig2 {
		t.Error("different secrets should produce different signatures")
	}
}

func TestOrderedParamsPreservesInsertionOrder(t *testing.T) {
	t.Parallel()
	p := NewOrderedParams()
	p.Set("timestamp", "1000")
	p.Set("symbol", "BTCUSDT")
	p.Set("side", "BUY")

	want := "timestamp=1000&symbol=BTCUSDT&side=BUY"
	if got := p.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestOrderedParamsSetOverwritesWithoutReordering(t *testing.T) {
	t.Parallel()
	p := NewOrderedParams()
	p.Set("a", "1")
	p.Set("b", "2")
	p.Set("a", "3")

	want := "a=3&b=2"
	if got := p.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestSignOrderedMatchesSignForSameSecret(t *testing.T) {
	t.Parallel()
	s := NewSigner("secret", InsertionOrder, 5000, oracle.New())
	p := NewOrderedParams()
	p.Set("symbol", "BTCUSDT")

	query, sig := s.SignOrdered(p)
	if query != "symbol=BTCUSDT" {
		t.Errorf("query = %q, want symbol=BTCUSDT", query)
	}
	if sig == "" {
		t.Error("expected a non-empty signature")
	}
}

func TestStampAppliesOracleOffset(t *testing.T) {
	t.Parallel()
	o := oracle.New()
	o.Set(100)
	s := NewSigner("secret", SortedFields, 5000, o)

	params := url.Values{}
	ts := s.Stamp(params, 1000)
	if ts != 1100 {
		t.Errorf("Stamp returned %d, want 1100", ts)
	}
	if params.Get("timestamp") != "1100" {
		t.Errorf("timestamp param = %q, want 1100", params.Get("timestamp"))
	}
	if params.Get("recvWindow") != "5000" {
		t.Errorf("recvWindow param = %q, want 5000", params.Get("recvWindow"))
	}
}
