package portfolio

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"trader/internal/decimalx"
)

// FindCancelResult is the three-way outcome of a structural cancellation
// primitive (spec.md §4.6): Found means a candidate existed but matched
// nothing to cancel, Cancelled means at least one cancel was issued,
// NotFound means no candidate of that class existed at all.
type FindCancelResult int

const (
	FindCancelNotFound FindCancelResult = iota
	FindCancelFound
	FindCancelCancelled
)

// FinData is the lightweight {inventory, liquidity, cost_basis} triple used
// for Position.OpenPosition (the original's FinData, distinct from
// OrderData because it carries no rebate bookkeeping).
type FinData struct {
	Inventory decimalx.Decimal
	Liquidity decimalx.Decimal
	CostBasis decimalx.Decimal
}

func finDataFromOrderData(d OrderData) FinData {
	return FinData{Inventory: d.Inventory, Liquidity: d.Liquidity, CostBasis: d.CostBasis}
}

func (f FinData) sub(other FinData) FinData {
	result := FinData{Inventory: f.Inventory.Sub(other.Inventory), Liquidity: f.Liquidity.Sub(other.Liquidity)}
	if !result.Inventory.IsZero() {
		result.CostBasis = result.Liquidity.Div(result.Inventory)
	}
	return result
}

// PositionData is the cached rollup Position.DataRefresh recomputes on
// every mutator (spec.md §4.5).
type PositionData struct {
	OpenLiqs       AllLiqs
	CloseLiqs      AllLiqs
	OpenPosition   FinData
	TotalCount     decimalx.Decimal
	RemainingMargin decimalx.Decimal
	RemainingCount decimalx.Decimal
}

// NeutralCB rounds down for Buy exits, up for Sell exits, matching the
// original's Side-aware rounding in PositionData::neutral_cb. rebate is the
// raw per-fill rebate rate (e.g. config `rebate`); the per-fill rebate
// multiplier r fed into OrderData.NeutralCB is 1-rebate on the buy side and
// 1+rebate on the sell side (original_source/src/strategy/bybit/strategy.rs
// apply_book_result_side; spec.md §4.4).
func (d PositionData) NeutralCB(rebate decimalx.Decimal, side Side) decimalx.Decimal {
	if side == SideBuy {
		r := decimalx.One.Sub(rebate)
		return d.OpenLiqs.NeutralCB(r).Floor()
	}
	r := decimalx.One.Add(rebate)
	return d.OpenLiqs.NeutralCB(r).Ceil()
}

// Position owns one directional view (opens + closes) for one symbol
// (spec.md §3, §4.5). All mutation happens on the owning Strategy
// Controller's goroutine; no locking (spec.md §5 "single-owner").
type Position struct {
	Symbol string
	Side   Side
	Opens  *OrderList
	Closes *OrderList

	MaxOrderCount decimalx.Decimal
	MaxMargin     decimalx.Decimal

	KnownSize        decimalx.Decimal
	KnownEntryPrice  decimalx.Decimal
	KnownLiquidity   decimalx.Decimal
	KnownAvailableLiquidity decimalx.Decimal
	KnownRealizedPnL decimalx.Decimal

	venue VenueOps
	sink  EventSink
}

// NewPosition constructs an empty Position for one side of one symbol.
func NewPosition(symbol string, side Side, maxMargin, maxOrders decimalx.Decimal, venue VenueOps, sink EventSink) *Position {
	return &Position{
		Symbol: symbol, Side: side,
		Opens: NewOrderList(), Closes: NewOrderList(),
		MaxMargin: maxMargin, MaxOrderCount: maxOrders,
		venue: venue, sink: sink,
	}
}

func (p *Position) listFor(stage Stage) *OrderList {
	if stage == StageEntry {
		return p.Opens
	}
	return p.Closes
}

// GetTop returns the resting Top order for stage, if any.
func (p *Position) GetTop(stage Stage) *Order { return p.listFor(stage).GetTop() }

// GetTopData returns the OrderData for the resting Top order, if any.
func (p *Position) GetTopData(stage Stage) (OrderData, bool) { return p.listFor(stage).GetTopData() }

// DataRefresh recomputes PositionData from scratch (spec.md §4.4 "no
// incremental-maintenance shortcut").
func (p *Position) DataRefresh() PositionData {
	openLiqs := p.Opens.AllLiqs()
	closeLiqs := p.Closes.AllLiqs()
	return PositionData{
		OpenLiqs: openLiqs, CloseLiqs: closeLiqs,
		OpenPosition:    finDataFromOrderData(openLiqs.Filled).sub(finDataFromOrderData(closeLiqs.Filled)),
		TotalCount:      openLiqs.TotalCount.Add(closeLiqs.TotalCount),
		RemainingCount:  p.MaxOrderCount.Sub(openLiqs.TotalCount),
		RemainingMargin: p.MaxMargin.Sub(openLiqs.TotalOutstanding.Inventory),
	}
}

// CancelNonTops cancels every resting Top order on stage whose price is
// not equal to best (spec.md §4.6 "cancel non-tops").
func (p *Position) CancelNonTops(ctx context.Context, best decimalx.Decimal, stage Stage) FindCancelResult {
	result := FindCancelNotFound
	for _, o := range p.listFor(stage).Orders {
		if o.Class != ClassTop || !o.CanCancel() {
			continue
		}
		if result == FindCancelNotFound {
			result = FindCancelFound
		}
		if !o.OriginalPrice.Equal(best) {
			result = FindCancelCancelled
			p.cancelOrder(ctx, o, stage)
		}
	}
	return result
}

// CancelAll cancels every cancellable order on stage regardless of class,
// used by the risk kill switch to flatten outstanding exposure on a
// breach (no further quoting decisions are consulted).
func (p *Position) CancelAll(ctx context.Context, stage Stage) FindCancelResult {
	result := FindCancelNotFound
	for _, o := range p.listFor(stage).Orders {
		if !o.CanCancel() {
			continue
		}
		result = FindCancelCancelled
		p.cancelOrder(ctx, o, stage)
	}
	if result == FindCancelNotFound && len(p.listFor(stage).Orders) > 0 {
		result = FindCancelFound
	}
	return result
}

// GetSmallestRebaseSize returns the smallest cancellable Rebase order's
// size on stage, if any.
func (p *Position) GetSmallestRebaseSize(stage Stage) (decimalx.Decimal, bool) {
	var best decimalx.Decimal
	found := false
	for _, o := range p.listFor(stage).Orders {
		if o.Class != ClassRebase || !o.CanCancel() {
			continue
		}
		if !found || o.OriginalSize.LessThan(best) {
			best, found = o.OriginalSize, true
		}
	}
	return best, found
}

// GetBestRebasePrice returns the rebase price closest to the market per
// side/stage direction (spec.md §4.6: buy-entry/sell-exit prefer the
// highest price, the mirror prefers the lowest).
func (p *Position) GetBestRebasePrice(stage Stage) (decimalx.Decimal, bool) {
	preferMax := (p.Side == SideBuy && stage == StageEntry) || (p.Side == SideSell && stage == StageExit)
	var best decimalx.Decimal
	found := false
	for _, o := range p.listFor(stage).Orders {
		if o.Class != ClassRebase || !o.CanCancel() {
			continue
		}
		switch {
		case !found:
			best, found = o.OriginalPrice, true
		case preferMax && o.OriginalPrice.GreaterThan(best):
			best = o.OriginalPrice
		case !preferMax && o.OriginalPrice.LessThan(best):
			best = o.OriginalPrice
		}
	}
	return best, found
}

// CancelDistantRebases cancels every Rebase order on stage if the best
// rebase price has drifted more than limit from top (spec.md §4.6 "cancel
// distant rebases").
func (p *Position) CancelDistantRebases(ctx context.Context, top, limit decimalx.Decimal, stage Stage) FindCancelResult {
	best, found := p.GetBestRebasePrice(stage)
	if !found {
		return FindCancelNotFound
	}
	result := FindCancelFound
	if best.Sub(top).Abs().GreaterThan(limit) {
		for _, o := range p.listFor(stage).Orders {
			if o.Class != ClassRebase || !o.CanCancel() {
				continue
			}
			result = FindCancelCancelled
			p.cancelOrder(ctx, o, stage)
		}
	}
	return result
}

// OrderUpdate applies a normalized account-update to the correct OrderList
// and, on the exit/closes path, checks for position closeout (spec.md
// §4.5 "On position closeout").
func (p *Position) OrderUpdate(u IncomingOrderUpdate) {
	switch u.Stage {
	case StageEntry:
		p.Opens.WSOrder(u.ClientID, u)
	case StageExit:
		p.Closes.WSOrder(u.ClientID, u)
		pd := p.DataRefresh()
		if !pd.OpenPosition.Inventory.GreaterThan(decimalx.Zero) {
			p.closeout(pd)
		}
	}
}

// closeout realizes PnL for a fully offset round trip: realized_pnl =
// opens.filled.liquidity - closes.filled.liquidity - (opens.rebate +
// closes.rebate), then prunes both lists (spec.md §4.5).
func (p *Position) closeout(pd PositionData) {
	prebate := pd.OpenLiqs.Filled.Liquidity.Sub(pd.CloseLiqs.Filled.Liquidity)
	rebate := pd.OpenLiqs.Filled.Rebate.Add(pd.CloseLiqs.Filled.Rebate)
	pnl := prebate.Sub(rebate)
	p.KnownRealizedPnL = p.KnownRealizedPnL.Add(pnl)
	p.Opens.Clean()
	p.Closes.Clean()
}

// RestCancel applies a REST cancel response to the correct list.
func (p *Position) RestCancel(stage Stage, id uuid.UUID, success, unknownOrder bool) {
	p.listFor(stage).RestCancel(id, success, unknownOrder)
}

// OrderRESTResponse applies a REST order-create response to the correct
// list. A nil order represents a transport failure.
func (p *Position) OrderRESTResponse(id uuid.UUID, stage Stage, order *IncomingOrderREST) {
	p.listFor(stage).RestOrder(id, order)
}

// PositionUpdate records the venue's last-reported position attributes.
func (p *Position) PositionUpdate(size, price, liquidity, availableLiquidity, realizedPnL decimalx.Decimal) {
	p.KnownSize = size
	p.KnownEntryPrice = price
	p.KnownLiquidity = liquidity
	p.KnownAvailableLiquidity = availableLiquidity
	p.KnownRealizedPnL = realizedPnL
}

// NewLimit admits and schedules a new Limit order. Admission rule (spec.md
// §4.5): a new entry (stage=Entry, class=Rebase) is admitted iff size <=
// remaining_margin AND remaining_count >= 1. Top and Exit classifications
// bypass margin but must still have count.
func (p *Position) NewLimit(ctx context.Context, id uuid.UUID, price, size decimalx.Decimal, stage Stage, class OrderClassification, remMargin, remCount decimalx.Decimal) (bool, error) {
	if !decimalx.IsPositiveFinite(size) {
		return false, fmt.Errorf("portfolio: NewLimit size must be strictly positive, got %s", size)
	}
	if stage == StageEntry {
		marginOK := class == ClassTop || class == ClassExit || !size.GreaterThan(remMargin)
		if !marginOK || remCount.LessThan(decimalx.One) {
			return false, nil
		}
	}
	o := NewRebateOrder(id, price, size, class)
	list := p.listFor(stage)
	if err := list.AddOrder(o); err != nil {
		return false, err
	}
	p.sendOrder(ctx, o, stage)
	return true, nil
}

// NewMarket admits and schedules a new Market order.
func (p *Position) NewMarket(ctx context.Context, id uuid.UUID, expectedPrice, size decimalx.Decimal, stage Stage, class OrderClassification, remMargin, remCount decimalx.Decimal) (bool, error) {
	if !decimalx.IsPositiveFinite(size) {
		return false, fmt.Errorf("portfolio: NewMarket size must be strictly positive, got %s", size)
	}
	if stage == StageEntry {
		marginOK := class == ClassTop || class == ClassExit || !size.GreaterThan(remMargin)
		if !marginOK || remCount.LessThan(decimalx.One) {
			return false, nil
		}
	}
	o := NewTakerOrder(id, expectedPrice, size, class)
	list := p.listFor(stage)
	if err := list.AddOrder(o); err != nil {
		return false, err
	}
	p.sendOrder(ctx, o, stage)
	return true, nil
}

// sendOrder schedules the outbound REST call on a worker goroutine and
// reports the result back over the EventSink, mirroring the original's
// Position::send_order spawn-and-reply shape (spec.md §9).
func (p *Position) sendOrder(ctx context.Context, o *Order, stage Stage) {
	o.PreFlight()
	clientID, side, class, orderType := o.ClientID, p.Side, o.Class, o.Type
	price, size, tif := o.OriginalPrice, o.OriginalSize, o.TimeInForce
	go func() {
		var resp IncomingOrderREST
		var err error
		if orderType == OrderTypeLimit {
			resp, err = p.venue.PlaceLimit(ctx, clientID, side, price, size, tif)
		} else {
			resp, err = p.venue.PlaceMarket(ctx, clientID, side, size)
		}
		p.sink.PublishOrderResult(OrderResultEvent{
			ClientID: clientID, Side: side, Stage: stage, Class: class, Response: resp, Err: err,
		})
	}()
}

// cancelOrder schedules an outbound cancel call on a worker goroutine.
func (p *Position) cancelOrder(ctx context.Context, o *Order, stage Stage) {
	o.PreCancel()
	clientID, exchangeID, side := o.ClientID, o.ExchangeID, p.Side
	go func() {
		success, unknownOrder, err := p.venue.CancelOrder(ctx, clientID, exchangeID)
		p.sink.PublishCancelResult(CancelResultEvent{
			ClientID: clientID, ExchangeID: exchangeID, Side: side, Stage: stage,
			Success: success, UnknownOrder: unknownOrder, Err: err,
		})
	}()
}
