// Package marketdata holds the order-book replica and trade-flow window:
// the per-symbol, single-owner state the Strategy Controller reads on every
// tick. Grounded on _examples/original_source/src/orderbook/mod.rs (the
// BTreeMap-keyed replica with sequence watermarks) and restyled in the
// teacher's internal/market/book.go idiom (small focused methods,
// table-driven tests). Unlike the teacher's book, the types here hold no
// lock: each instance has a single owning goroutine.
package marketdata

import (
	"fmt"
	"log/slog"

	"trader/internal/decimalx"
)

// WireLevel is a single (price, size) pair as it arrives off the wire,
// still in string form until parsed by decimalx.ParseFinite.
type WireLevel struct {
	Price string
	Size  string
}

// TopsSide enumerates which side(s) a best-ticker tick touched.
type TopsSide int

const (
	TopsNone TopsSide = iota
	TopsBuy
	TopsSell
	TopsBoth
)

// Tops is the best-levels-only summary fed by a higher-frequency
// best-ticker stream when the venue offers one.
type Tops struct {
	BestBid           decimalx.Decimal
	BestBidSize       decimalx.Decimal
	BestAsk           decimalx.Decimal
	BestAskSize       decimalx.Decimal
	Spread            decimalx.Decimal
	SideUpdatedLast   TopsSide
	TransactionTimeMs int64
}

// OrderBook is the sequence-ordered bid/ask replica for one symbol on one
// venue. Single-owner: all mutation happens on the Signal Dispatcher thread
// for that symbol: no locking inside this type (spec.md §5, "single-owner,
// no locking required").
type OrderBook struct {
	Bids *OrderBookSide
	Asks *OrderBookSide

	LastSequence int64
	Initialized  bool
	Tops         Tops
	VenueTag     string

	// GapCount is the implementer-added observability counter spec.md
	// §4.1 calls for ("an implementer should expose a gap counter").
	GapCount int64

	logger *slog.Logger
}

// NewOrderBook constructs an empty, uninitialized replica for venueTag.
func NewOrderBook(venueTag string, logger *slog.Logger) *OrderBook {
	return &OrderBook{
		Bids:     NewOrderBookSide(sideBid),
		Asks:     NewOrderBookSide(sideAsk),
		VenueTag: venueTag,
		logger:   logger,
	}
}

// checkVenue panics if the venue tag is mutated after the book's first
// write, matching the original's exchange_check assertion verbatim (spec.md
// §3: "venue_tag is fixed after the first mutation").
func (b *OrderBook) checkVenue(tag string) {
	if b.VenueTag != "" && b.VenueTag != tag {
		panic(fmt.Sprintf("marketdata: venue tag changed from %q to %q after first mutation", b.VenueTag, tag))
	}
	if b.VenueTag == "" {
		b.VenueTag = tag
	}
}

// ApplySnapshot replaces-or-merges an authoritative snapshot. Per level,
// the write only takes effect if snapshotSeq is newer than the existing
// level's sequence; zero-size entries evict. After the first successful
// call, Initialized flips true.
func (b *OrderBook) ApplySnapshot(venueTag string, bids, asks []WireLevel, snapshotSeq, txTimeMs int64) error {
	b.checkVenue(venueTag)
	for _, lvl := range bids {
		price, size, err := parseLevel(lvl)
		if err != nil {
			return err
		}
		b.Bids.ApplyLevel(price, size, snapshotSeq, txTimeMs, b.LastSequence)
	}
	for _, lvl := range asks {
		price, size, err := parseLevel(lvl)
		if err != nil {
			return err
		}
		b.Asks.ApplyLevel(price, size, snapshotSeq, txTimeMs, b.LastSequence)
	}
	if snapshotSeq > b.LastSequence {
		b.LastSequence = snapshotSeq
	}
	b.Initialized = true
	b.refreshTopsFromSides(txTimeMs)
	return nil
}

// ApplyDelta applies a sequence-ordered incremental patch. Deltas arriving
// with lastUpdateID <= LastSequence are discarded as stale and logged
// (idempotence-on-stale, spec.md §8). A gap (firstUpdateID >
// LastSequence+1) is logged and counted but — faithfully reproducing the
// source's behavior per spec.md §9's Open Question — does NOT trigger a
// resync; the gapped delta is applied like any other. GapCount is exposed
// for observation only: no caller reads it to request a fresh snapshot.
func (b *OrderBook) ApplyDelta(venueTag string, bids, asks []WireLevel, firstUpdateID, lastUpdateID, txTimeMs int64) error {
	b.checkVenue(venueTag)
	if lastUpdateID <= b.LastSequence {
		if b.logger != nil {
			b.logger.Debug("marketdata: dropping stale delta", "last_update_id", lastUpdateID, "last_sequence", b.LastSequence)
		}
		return nil
	}
	if firstUpdateID > b.LastSequence+1 {
		b.GapCount++
		if b.logger != nil {
			b.logger.Warn("marketdata: gap detected in delta stream",
				"first_update_id", firstUpdateID, "last_sequence", b.LastSequence, "gap_count", b.GapCount)
		}
		// Intentionally not resynced here: see doc comment above and
		// SPEC_FULL.md §9.
	}
	for _, lvl := range bids {
		price, size, err := parseLevel(lvl)
		if err != nil {
			return err
		}
		b.Bids.ApplyLevel(price, size, lastUpdateID, txTimeMs, b.LastSequence)
	}
	for _, lvl := range asks {
		price, size, err := parseLevel(lvl)
		if err != nil {
			return err
		}
		b.Asks.ApplyLevel(price, size, lastUpdateID, txTimeMs, b.LastSequence)
	}
	if lastUpdateID > b.LastSequence {
		b.LastSequence = lastUpdateID
	}
	b.refreshTopsFromSides(txTimeMs)
	return nil
}

// ApplyBestTicker updates only the Tops summary — it never touches the
// ladder sides. Tops.SideUpdatedLast records which side(s) changed this tick so
// downstream consumers (flow detection) can react to one-sided pressure.
func (b *OrderBook) ApplyBestTicker(bidPrice, bidSize, askPrice, askSize string, txTimeMs int64) error {
	bp, bs, err := parsePair(bidPrice, bidSize)
	if err != nil {
		return err
	}
	ap, as, err := parsePair(askPrice, askSize)
	if err != nil {
		return err
	}
	var touched TopsSide
	switch {
	case !bp.Equal(b.Tops.BestBid) && !ap.Equal(b.Tops.BestAsk):
		touched = TopsBoth
	case !bp.Equal(b.Tops.BestBid):
		touched = TopsBuy
	case !ap.Equal(b.Tops.BestAsk):
		touched = TopsSell
	default:
		touched = TopsNone
	}
	b.Tops = Tops{
		BestBid:           bp,
		BestBidSize:       bs,
		BestAsk:           ap,
		BestAskSize:       as,
		Spread:            ap.Sub(bp),
		SideUpdatedLast:   touched,
		TransactionTimeMs: txTimeMs,
	}
	return nil
}

// FindBestBid returns the top-of-book bid level.
func (b *OrderBook) FindBestBid() (OrderBookLevel, bool) { return b.Bids.Best() }

// FindBestAsk returns the top-of-book ask level.
func (b *OrderBook) FindBestAsk() (OrderBookLevel, bool) { return b.Asks.Best() }

// FindLastBid returns the far (worst) resting bid level.
func (b *OrderBook) FindLastBid() (OrderBookLevel, bool) { return b.Bids.Worst() }

// FindLastAsk returns the far (worst) resting ask level.
func (b *OrderBook) FindLastAsk() (OrderBookLevel, bool) { return b.Asks.Worst() }

// CheckInvariant verifies best_bid.price < best_ask.price whenever both
// sides are non-empty (spec.md §8 universal invariant). It is not called
// automatically by any apply method or by the dispatcher; the tests call
// it. A violation indicates replica corruption, not a recoverable runtime
// condition.
func (b *OrderBook) CheckInvariant() error {
	bid, hasBid := b.FindBestBid()
	ask, hasAsk := b.FindBestAsk()
	if hasBid && hasAsk && !bid.Price.LessThan(ask.Price) {
		return fmt.Errorf("marketdata: invariant violated: best_bid %s >= best_ask %s", bid.Price, ask.Price)
	}
	return nil
}

func (b *OrderBook) refreshTopsFromSides(txTimeMs int64) {
	bid, hasBid := b.FindBestBid()
	ask, hasAsk := b.FindBestAsk()
	if !hasBid && !hasAsk {
		return
	}
	t := b.Tops
	t.TransactionTimeMs = txTimeMs
	if hasBid {
		t.BestBid, t.BestBidSize = bid.Price, bid.Size
	}
	if hasAsk {
		t.BestAsk, t.BestAskSize = ask.Price, ask.Size
	}
	if hasBid && hasAsk {
		t.Spread = ask.Price.Sub(bid.Price)
	}
	b.Tops = t
}

func parseLevel(lvl WireLevel) (price, size decimalx.Decimal, err error) {
	return parsePair(lvl.Price, lvl.Size)
}

func parsePair(priceStr, sizeStr string) (price, size decimalx.Decimal, err error) {
	price, err = decimalx.ParseFinite(priceStr)
	if err != nil {
		return
	}
	size, err = decimalx.ParseFinite(sizeStr)
	return
}
