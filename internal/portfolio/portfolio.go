package portfolio

import (
	"context"

	"github.com/google/uuid"

	"trader/internal/decimalx"
)

// PortfolioData is the cached rollup refreshed after every public mutator
// (spec.md §4.5 "Responsibility (Portfolio)").
type PortfolioData struct {
	Buy             PositionData
	Sell            PositionData
	RemainingMargin decimalx.Decimal
	RemainingCount  decimalx.Decimal
}

// Portfolio owns the Buy and Sell Positions for one symbol and enforces
// port-wide caps across both (spec.md §3, §4.5).
type Portfolio struct {
	Symbol string
	Buy    *Position
	Sell   *Position

	InitSize           decimalx.Decimal
	MaxOpenOrders      decimalx.Decimal
	MaxMargin          decimalx.Decimal
	RebaseDistanceLimit decimalx.Decimal
	Rebate             decimalx.Decimal

	Balance          decimalx.Decimal
	AvailableBalance decimalx.Decimal

	Data PortfolioData
}

// NewPortfolio constructs a Portfolio with both Positions wired to the
// same venue adapter and event sink (spec.md §4.5, §9 "Global mutable
// state" — venue and sink are explicitly-constructed collaborators, not
// process-wide singletons).
func NewPortfolio(symbol string, maxMargin, maxOpenOrders, initSize, rebaseDistanceLimit, rebate decimalx.Decimal, venue VenueOps, sink EventSink) *Portfolio {
	perSideMargin := maxMargin
	perSideOrders := maxOpenOrders.Div(decimalx.Two)
	p := &Portfolio{
		Symbol:              symbol,
		Buy:                 NewPosition(symbol, SideBuy, perSideMargin, perSideOrders, venue, sink),
		Sell:                NewPosition(symbol, SideSell, perSideMargin, perSideOrders, venue, sink),
		InitSize:            initSize,
		MaxOpenOrders:       maxOpenOrders,
		MaxMargin:           maxMargin,
		RebaseDistanceLimit: rebaseDistanceLimit,
		Rebate:              rebate,
	}
	p.DataRefresh()
	return p
}

func (p *Portfolio) positionFor(side Side) *Position {
	if side == SideBuy {
		return p.Buy
	}
	return p.Sell
}

// DataRefresh recomputes PortfolioData, enforcing the Portfolio-wide
// invariant: buy.total_reserved.inv + sell.total_reserved.inv <=
// port_max_margin (checked by callers against RemainingMargin, spec.md
// §8 universal invariant).
func (p *Portfolio) DataRefresh() PortfolioData {
	buy := p.Buy.DataRefresh()
	sell := p.Sell.DataRefresh()
	p.Data = PortfolioData{
		Buy:  buy,
		Sell: sell,
		RemainingMargin: p.MaxMargin.Sub(buy.OpenLiqs.TotalReserved.Inventory.Add(sell.OpenLiqs.TotalReserved.Inventory)),
		RemainingCount:  p.MaxOpenOrders.Sub(buy.OpenLiqs.TotalReserved.Count.Add(sell.OpenLiqs.TotalReserved.Count)),
	}
	return p.Data
}

// NewLimit admits a new Limit order on side/stage, refreshing Data
// afterward regardless of outcome (spec.md §4.5).
func (p *Portfolio) NewLimit(ctx context.Context, id uuid.UUID, price, size decimalx.Decimal, side Side, stage Stage, class OrderClassification) (bool, error) {
	if stage == StageEntry {
		marginOK := class == ClassTop || class == ClassExit || !size.GreaterThan(p.Data.RemainingMargin)
		if !marginOK || p.Data.RemainingCount.LessThan(decimalx.One) {
			return false, nil
		}
	}
	pos := p.positionFor(side)
	var posData PositionData
	if side == SideBuy {
		posData = p.Data.Buy
	} else {
		posData = p.Data.Sell
	}
	ok, err := pos.NewLimit(ctx, id, price, size, stage, class, posData.RemainingMargin, posData.RemainingCount)
	p.DataRefresh()
	return ok, err
}

// NewMarket admits a new Market order on side/stage.
func (p *Portfolio) NewMarket(ctx context.Context, id uuid.UUID, expectedPrice, size decimalx.Decimal, side Side, stage Stage, class OrderClassification) (bool, error) {
	if stage == StageEntry {
		marginOK := class == ClassTop || class == ClassExit || !size.GreaterThan(p.Data.RemainingMargin)
		if !marginOK || p.Data.RemainingCount.LessThan(decimalx.One) {
			return false, nil
		}
	}
	pos := p.positionFor(side)
	var posData PositionData
	if side == SideBuy {
		posData = p.Data.Buy
	} else {
		posData = p.Data.Sell
	}
	ok, err := pos.NewMarket(ctx, id, expectedPrice, size, stage, class, posData.RemainingMargin, posData.RemainingCount)
	p.DataRefresh()
	return ok, err
}

// OrderRESTResponse routes a REST order-create response to the correct
// Position.
func (p *Portfolio) OrderRESTResponse(id uuid.UUID, side Side, stage Stage, order *IncomingOrderREST) {
	p.positionFor(side).OrderRESTResponse(id, stage, order)
}

// CancelResponse routes a REST cancel response to the correct Position.
func (p *Portfolio) CancelResponse(id uuid.UUID, side Side, stage Stage, success, unknownOrder bool) {
	p.positionFor(side).RestCancel(stage, id, success, unknownOrder)
}

// PositionUpdateEvent is the normalized venue position-report (spec.md §6
// "Position-update").
type PositionUpdateEvent struct {
	Side                    Side
	Size                    decimalx.Decimal
	EntryPrice              decimalx.Decimal
	Liquidity               decimalx.Decimal
	AvailableLiquidity      decimalx.Decimal
	RealizedPnL             decimalx.Decimal
}

// PositionUpdate routes a venue position-report to the correct Position.
func (p *Portfolio) PositionUpdate(u PositionUpdateEvent) {
	p.positionFor(u.Side).PositionUpdate(u.Size, u.EntryPrice, u.Liquidity, u.AvailableLiquidity, u.RealizedPnL)
}

// OrderUpdate routes a normalized account-update event. The original
// mirrors exit-stage updates onto the opposite Position (a close on the
// Buy side is booked against Sell's closes list, matching the directional
// convention where closes are the opposite side's order book).
func (p *Portfolio) OrderUpdate(u IncomingOrderUpdate) {
	switch u.Stage {
	case StageEntry:
		p.positionFor(u.Side).OrderUpdate(u)
	case StageExit:
		p.positionFor(u.Side.Opposite()).OrderUpdate(u)
	}
}

// GetTop returns the resting Top order for side/stage, if any.
func (p *Portfolio) GetTop(side Side, stage Stage) *Order {
	return p.positionFor(side).GetTop(stage)
}

// GetTopData returns the OrderData for the resting Top order, if any.
func (p *Portfolio) GetTopData(side Side, stage Stage) (OrderData, bool) {
	return p.positionFor(side).GetTopData(stage)
}

// CancelDistantRebases cancels drifted Rebase orders on side/stage.
func (p *Portfolio) CancelDistantRebases(ctx context.Context, top decimalx.Decimal, side Side, stage Stage) FindCancelResult {
	r := p.positionFor(side).CancelDistantRebases(ctx, top, p.RebaseDistanceLimit, stage)
	p.DataRefresh()
	return r
}

// CancelNonTops cancels non-best Top orders on side/stage.
func (p *Portfolio) CancelNonTops(ctx context.Context, best decimalx.Decimal, side Side, stage Stage) FindCancelResult {
	r := p.positionFor(side).CancelNonTops(ctx, best, stage)
	p.DataRefresh()
	return r
}

// GetSmallestRebaseSize returns the smallest cancellable Rebase order's
// size on side/stage, if any.
func (p *Portfolio) GetSmallestRebaseSize(side Side, stage Stage) (decimalx.Decimal, bool) {
	return p.positionFor(side).GetSmallestRebaseSize(stage)
}

// CancelAll cancels every cancellable order on both sides and both stages.
// The risk manager calls this on a kill-switch breach; it does not replace
// normal quoting decisions, it only flattens outstanding order exposure.
func (p *Portfolio) CancelAll(ctx context.Context) {
	p.Buy.CancelAll(ctx, StageEntry)
	p.Buy.CancelAll(ctx, StageExit)
	p.Sell.CancelAll(ctx, StageEntry)
	p.Sell.CancelAll(ctx, StageExit)
	p.DataRefresh()
}
