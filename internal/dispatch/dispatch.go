// Package dispatch implements the Signal Dispatcher: the single per-symbol
// consumer of every inbound venue event, responsible for the snapshot
// barrier and the fan-out rule of spec.md §4.3. Grounded on the teacher's
// internal/exchange/ws.go (a single reader goroutine demultiplexing one
// venue connection onto typed channels) and on
// _examples/original_source/src/backend/{binance,bybit}/stream.rs's
// dispatch-by-message-kind pattern.
package dispatch

import (
	"context"
	"log/slog"

	"trader/internal/controller"
	"trader/internal/decimalx"
	"trader/internal/marketdata"
	"trader/internal/portfolio"
)

// DepthEvent is a raw venue depth message, either a full snapshot
// (Snapshot set) or an incremental delta.
type DepthEvent struct {
	Snapshot      bool
	Bids, Asks    []marketdata.WireLevel
	FirstUpdateID int64
	LastUpdateID  int64
	TxTimeMs      int64
	VenueTag      string
}

// BestTickerEvent is a raw venue best-bid/best-ask tick.
type BestTickerEvent struct {
	BidPrice, BidSize string
	AskPrice, AskSize string
	TxTimeMs          int64
}

// TradeEvent is a raw venue public trade print.
type TradeEvent struct {
	Price, Size string
	TimestampMs int64
	Aggressor   marketdata.TradeSide
}

// Inbound is the union of everything a venue stream can push onto the
// dispatcher's bounded channel (spec.md §5: "the dispatcher receives from
// venue tasks over a bounded MPSC channel (capacity 1)").
type Inbound struct {
	Depth       *DepthEvent
	BestTicker  *BestTickerEvent
	Trade       *TradeEvent
	OrderUpdate *portfolio.IncomingOrderUpdate
	Position    *portfolio.PositionUpdateEvent
}

// Dispatcher owns the Order-Book Replica and Trade-Flow Window for one
// symbol and forwards derived signals to the Strategy Controller
// (spec.md §4.3).
type Dispatcher struct {
	Symbol string

	book      *marketdata.OrderBook
	tradeFlow *marketdata.TradeFlowWindow

	ctrl *controller.Controller
	out  chan controller.Signal

	logger *slog.Logger
}

// New constructs a Dispatcher for symbol, wired to book/tradeFlow (already
// constructed so the caller can seed tradeFlow from a bootstrap CSV before
// the first event arrives — spec.md §6 "Persisted state") and to the
// Controller's inbound channel.
func New(symbol string, book *marketdata.OrderBook, tradeFlow *marketdata.TradeFlowWindow, ctrl *controller.Controller, out chan controller.Signal, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Symbol:    symbol,
		book:      book,
		tradeFlow: tradeFlow,
		ctrl:      ctrl,
		out:       out,
		logger:    logger.With("component", "dispatcher", "symbol", symbol),
	}
}

// Run is the Dispatcher's blocking receive loop (spec.md §5: "one
// per-symbol Signal Dispatcher blocking receive loop"). It applies every
// event to local replica state unconditionally, but withholds forwarding
// OrderBook-derived signals to the Controller until the book has seen its
// first snapshot (the "snapshot barrier", spec.md §4.3).
func (d *Dispatcher) Run(ctx context.Context, in <-chan Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := d.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Inbound) error {
	switch {
	case ev.Depth != nil:
		return d.handleDepth(ctx, ev.Depth)
	case ev.BestTicker != nil:
		return d.handleBestTicker(ctx, ev.BestTicker)
	case ev.Trade != nil:
		d.handleTrade(ev.Trade)
	case ev.OrderUpdate != nil:
		d.ctrl.HandleAccountOrderUpdate(*ev.OrderUpdate)
	case ev.Position != nil:
		d.ctrl.HandlePositionUpdate(*ev.Position)
	}
	return nil
}

func (d *Dispatcher) handleDepth(ctx context.Context, e *DepthEvent) error {
	var err error
	if e.Snapshot {
		err = d.book.ApplySnapshot(e.VenueTag, e.Bids, e.Asks, e.LastUpdateID, e.TxTimeMs)
	} else {
		err = d.book.ApplyDelta(e.VenueTag, e.Bids, e.Asks, e.FirstUpdateID, e.LastUpdateID, e.TxTimeMs)
	}
	if err != nil {
		d.logger.Error("order book apply failed", "err", err)
		return err
	}
	if !d.book.Initialized {
		// Snapshot barrier: hold OrderBook forwarding until the replica
		// has applied its first snapshot (spec.md §4.3).
		return nil
	}
	return d.forwardBook(ctx)
}

func (d *Dispatcher) handleBestTicker(ctx context.Context, e *BestTickerEvent) error {
	if err := d.book.ApplyBestTicker(e.BidPrice, e.BidSize, e.AskPrice, e.AskSize, e.TxTimeMs); err != nil {
		d.logger.Error("best ticker apply failed", "err", err)
		return err
	}
	if !d.book.Initialized {
		return nil
	}
	sig := controller.TopsEvent{
		BestBid:     d.book.Tops.BestBid,
		BestAsk:     d.book.Tops.BestAsk,
		UpdatedSide: d.book.Tops.SideUpdatedLast,
	}
	return d.send(ctx, sig)
}

func (d *Dispatcher) forwardBook(ctx context.Context) error {
	bestBid, _ := d.book.FindBestBid()
	bestAsk, _ := d.book.FindBestAsk()
	return d.send(ctx, controller.BookEvent{BestBid: bestBid.Price, BestAsk: bestAsk.Price})
}

func (d *Dispatcher) handleTrade(e *TradeEvent) {
	price, err := decimalx.ParseFinite(e.Price)
	if err != nil {
		d.logger.Error("trade price parse failed", "err", err)
		return
	}
	size, err := decimalx.ParseFinite(e.Size)
	if err != nil {
		d.logger.Error("trade size parse failed", "err", err)
		return
	}
	d.tradeFlow.ApplyTrade(price, size, e.TimestampMs, e.Aggressor)
}

func (d *Dispatcher) send(ctx context.Context, sig controller.Signal) error {
	select {
	case d.out <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
