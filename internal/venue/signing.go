package venue

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"trader/internal/oracle"
)

// QueryOrder picks the canonical ordering a venue signs its query string
// in (spec.md §6: "signed HMAC-SHA256 over the canonical query string
// (sorted by field for one venue, insertion-order for another)").
type QueryOrder int

const (
	SortedFields QueryOrder = iota
	InsertionOrder
)

// Signer computes the HMAC-SHA256 signature over a request's canonical
// query string and stamps it with the Oracle-adjusted timestamp and
// recv_window (spec.md §6 "Request body conveys recv_window and timestamp
// from the Oracle"). One Signer is constructed per venue credential set;
// it holds no mutable state beyond the Oracle reference, matching
// spec.md §5 ("adapters hold no mutable state of their own beyond the
// Oracle reference").
type Signer struct {
	secret     string
	order      QueryOrder
	recvWindow int64
	oracle     *oracle.Oracle
}

// NewSigner constructs a Signer for one venue's credentials.
func NewSigner(secret string, order QueryOrder, recvWindowMs int64, o *oracle.Oracle) *Signer {
	return &Signer{secret: secret, order: order, recvWindow: recvWindowMs, oracle: o}
}

// Stamp appends timestamp and recv_window to params (mutating it) using
// the Oracle's current skew-adjusted clock, returning the timestamp used
// so the caller can echo it into any error-handling path.
func (s *Signer) Stamp(params url.Values, localMs int64) int64 {
	ts := s.oracle.Now(localMs)
	params.Set("recvWindow", strconv.FormatInt(s.recvWindow, 10))
	params.Set("timestamp", strconv.FormatInt(ts, 10))
	return ts
}

// Now returns the Oracle-adjusted timestamp for a venue that signs a body
// string directly (via OrderedParams) rather than a url.Values (for which
// Stamp is the entry point).
func (s *Signer) Now(localMs int64) int64 {
	return s.oracle.Now(localMs)
}

// Sign returns the hex-encoded HMAC-SHA256 signature over params encoded
// per s.order, and the encoded query string it signed (the caller appends
// "&signature=..." to this string to build the final request).
func (s *Signer) Sign(params url.Values) (query, signature string) {
	query = s.encode(params)
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) encode(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	if s.order == SortedFields {
		sort.Strings(keys)
	}
	// url.Values has no stable insertion order once populated (it's a
	// map); callers that need InsertionOrder must pass keys already in
	// the order they were Set, via OrderedParams instead of url.Values.
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params.Get(k)))
	}
	return b.String()
}

// OrderedParams is an insertion-ordered key/value list, used by the venue
// that signs in insertion order rather than sorted-field order (spec.md
// §6). url.Values cannot express this since Go maps have no iteration
// order guarantee.
type OrderedParams struct {
	keys   []string
	values map[string]string
}

// NewOrderedParams returns an empty OrderedParams.
func NewOrderedParams() *OrderedParams {
	return &OrderedParams{values: make(map[string]string)}
}

// Set appends key=value, preserving first-insertion order for repeated keys.
func (p *OrderedParams) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Encode renders the insertion-ordered query string.
func (p *OrderedParams) Encode() string {
	var b strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.values[k]))
	}
	return b.String()
}

// SignOrdered signs an OrderedParams in its insertion order.
func (s *Signer) SignOrdered(params *OrderedParams) (query, signature string) {
	query = params.Encode()
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}
