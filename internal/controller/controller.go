package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"trader/internal/decimalx"
	"trader/internal/marketdata"
	"trader/internal/portfolio"
)

// TopsEvent is the normalized best-bid/best-ask summary the Signal
// Dispatcher forwards on every tops (best-ticker) tick (spec.md §4.3
// "Fan-out rule").
type TopsEvent struct {
	BestBid     decimalx.Decimal
	BestAsk     decimalx.Decimal
	UpdatedSide marketdata.TopsSide
}

// BookEvent is the normalized order-book-replica summary the Signal
// Dispatcher forwards after applying a depth update, used to drive
// rebase laddering (spec.md §4.6 "On book (not tops) updates").
type BookEvent struct {
	BestBid decimalx.Decimal
	BestAsk decimalx.Decimal
}

// haltErr is returned by the controller's event loop when an invariant
// violation is observed; the caller (internal/engine) treats this as fatal
// (spec.md §4.8 "Invariant violations... halt the process").
type haltErr struct {
	symbol string
	side   portfolio.Side
	branch StratBranch
}

func (e *haltErr) Error() string {
	return fmt.Sprintf("controller: invariant violation on %s/%s: branch %s (closing orders resting against zero inventory)", e.symbol, e.side, e.branch)
}

// Controller is the Strategy Controller for one symbol: one goroutine-bound
// event loop that owns a Portfolio and reacts to market/account signals
// (spec.md §4.6). All mutation happens on the Run goroutine; no locking
// (spec.md §5 "single-owner").
type Controller struct {
	Symbol    string
	Portfolio *portfolio.Portfolio

	initSize            decimalx.Decimal
	rebaseDistanceLimit decimalx.Decimal

	results  chan any // worker responses: OrderResultEvent / CancelResultEvent
	activity chan<- Activity
	logger   *slog.Logger
}

// New constructs a Controller wired to portfolio for symbol.
func New(symbol string, pf *portfolio.Portfolio, initSize, rebaseDistanceLimit decimalx.Decimal, logger *slog.Logger) *Controller {
	return &Controller{
		Symbol:              symbol,
		Portfolio:           pf,
		initSize:            initSize,
		rebaseDistanceLimit: rebaseDistanceLimit,
		results:             make(chan any, 256),
		logger:              logger.With("component", "controller", "symbol", symbol),
	}
}

var _ portfolio.EventSink = (*Controller)(nil)

// PublishOrderResult implements portfolio.EventSink: a worker goroutine
// reports an order-placement outcome back onto the controller's own event
// loop (spec.md §9 "the Controller is the sole mutator").
func (c *Controller) PublishOrderResult(e portfolio.OrderResultEvent) {
	c.results <- e
}

// PublishCancelResult implements portfolio.EventSink.
func (c *Controller) PublishCancelResult(e portfolio.CancelResultEvent) {
	c.results <- e
}

// Results exposes the worker-response channel so Run's caller can select
// on it alongside the dispatcher's inbound signal channel (the "unbounded
// MPMC channel" of spec.md §5).
func (c *Controller) Results() <-chan any { return c.results }

// HandleOrderResult applies a worker's order-placement report to the
// Portfolio and logs terminal failures.
func (c *Controller) HandleOrderResult(e portfolio.OrderResultEvent) {
	if e.Err != nil {
		c.logger.Warn("order placement failed", "client_id", e.ClientID, "side", e.Side, "stage", e.Stage, "err", e.Err)
		c.Portfolio.OrderRESTResponse(e.ClientID, e.Side, e.Stage, nil)
		c.emit(Activity{Kind: ActivityOrderFailed, ClientID: e.ClientID, Side: e.Side, Stage: e.Stage})
		return
	}
	resp := e.Response
	c.Portfolio.OrderRESTResponse(e.ClientID, e.Side, e.Stage, &resp)
	c.emit(Activity{Kind: ActivityOrderPlaced, ClientID: e.ClientID, Side: e.Side, Stage: e.Stage, Price: resp.Price, Size: resp.Size})
}

// HandleCancelResult applies a worker's cancel report to the Portfolio.
func (c *Controller) HandleCancelResult(e portfolio.CancelResultEvent) {
	if e.Err != nil {
		c.logger.Warn("cancel request failed", "client_id", e.ClientID, "side", e.Side, "stage", e.Stage, "err", e.Err)
		return
	}
	c.Portfolio.CancelResponse(e.ClientID, e.Side, e.Stage, e.Success, e.UnknownOrder)
	if e.Success {
		c.emit(Activity{Kind: ActivityCancelled, ClientID: e.ClientID, Side: e.Side, Stage: e.Stage})
	}
}

// HandleAccountOrderUpdate routes a normalized account-update event
// straight to the Portfolio, bypassing the replica (spec.md §4.3 "Account
// events... forward directly to the Controller without replica
// involvement").
func (c *Controller) HandleAccountOrderUpdate(u portfolio.IncomingOrderUpdate) {
	c.Portfolio.OrderUpdate(u)
	if u.Status == portfolio.WireStatusPartiallyFilled || u.Status == portfolio.WireStatusFilled {
		c.emit(Activity{
			Kind: ActivityFill, ClientID: u.ClientID, Side: u.Side, Stage: u.Stage,
			Price: u.Price, Size: u.CumFillSize,
		})
	}
}

// HandlePositionUpdate routes a venue position-report to the Portfolio.
func (c *Controller) HandlePositionUpdate(u portfolio.PositionUpdateEvent) {
	c.Portfolio.PositionUpdate(u)
	c.emit(Activity{Kind: ActivityPositionUpdate, Side: u.Side, Price: u.EntryPrice, Size: u.Size, RealizedPnL: u.RealizedPnL})
}

// entryExitPrices derives the maker's entry/exit quote prices from the
// current tops, per side: a Buy position enters by bidding at best_bid and
// exits by asking at best_ask; Sell mirrors this.
func entryExitPrices(side portfolio.Side, bestBid, bestAsk decimalx.Decimal) (entry, exit decimalx.Decimal) {
	if side == portfolio.SideBuy {
		return bestBid, bestAsk
	}
	return bestAsk, bestBid
}

// HandleTops resolves the StratBranch for each side against the action
// table of spec.md §4.6 and issues the minimal place/cancel set.
func (c *Controller) HandleTops(ctx context.Context, ev TopsEvent) error {
	for _, side := range []portfolio.Side{portfolio.SideBuy, portfolio.SideSell} {
		if err := c.applyTopsSide(ctx, side, ev.BestBid, ev.BestAsk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) applyTopsSide(ctx context.Context, side portfolio.Side, bestBid, bestAsk decimalx.Decimal) error {
	c.Portfolio.DataRefresh()
	pd := positionDataFor(c.Portfolio, side)
	branch := ResolveBranch(
		pd.OpenLiqs.TotalReserved.Count.IsPositive(),
		pd.CloseLiqs.TotalReserved.Count.IsPositive(),
		pd.OpenPosition.Inventory.IsPositive(),
	)
	if branch.Invariant() {
		return &haltErr{symbol: c.Symbol, side: side, branch: branch}
	}

	entryPrice, exitPrice := entryExitPrices(side, bestBid, bestAsk)
	inventory := pd.OpenPosition.Inventory

	switch branch {
	case BranchNNN:
		ok, err := c.Portfolio.NewLimit(ctx, uuid.New(), entryPrice, c.initSize, side, portfolio.StageEntry, portfolio.ClassTop)
		c.logPlace(err, ok, side, portfolio.StageEntry, branch)
	case BranchNNS, BranchSNS:
		ok, err := c.Portfolio.NewLimit(ctx, uuid.New(), exitPrice, inventory, side, portfolio.StageExit, portfolio.ClassTop)
		c.logPlace(err, ok, side, portfolio.StageExit, branch)
	case BranchNSS, BranchSSS:
		c.Portfolio.CancelNonTops(ctx, exitPrice, side, portfolio.StageExit)
	case BranchSNN:
		top := c.Portfolio.GetTop(side, portfolio.StageEntry)
		worse := top != nil && isWorseEntry(side, top.OriginalPrice, entryPrice)
		if worse {
			c.Portfolio.CancelNonTops(ctx, entryPrice, side, portfolio.StageEntry)
		}
		if top == nil {
			ok, err := c.Portfolio.NewLimit(ctx, uuid.New(), entryPrice, c.initSize, side, portfolio.StageEntry, portfolio.ClassTop)
			c.logPlace(err, ok, side, portfolio.StageEntry, branch)
		}
	case BranchNSN, BranchSSN:
		return &haltErr{symbol: c.Symbol, side: side, branch: branch}
	}
	return nil
}

// isWorseEntry reports whether price is a worse resting entry quote than
// current for side: a Buy entry worsens by bidding below the market, a
// Sell entry worsens by asking above it.
func isWorseEntry(side portfolio.Side, price, current decimalx.Decimal) bool {
	if side == portfolio.SideBuy {
		return price.LessThan(current)
	}
	return price.GreaterThan(current)
}

func (c *Controller) logPlace(err error, admitted bool, side portfolio.Side, stage portfolio.Stage, branch StratBranch) {
	if err != nil {
		c.logger.Error("order admission error", "side", side, "stage", stage, "branch", branch, "err", err)
		return
	}
	if !admitted {
		c.logger.Debug("order admission refused", "side", side, "stage", stage, "branch", branch)
	}
}

// HandleBook resolves the StratBranch again on a depth (not tops) update
// and, for sides that are not invariant violations, ladders Rebase entries
// at the computed neutral_cb (spec.md §4.6 "On book (not tops) updates").
func (c *Controller) HandleBook(ctx context.Context, ev BookEvent) error {
	for _, side := range []portfolio.Side{portfolio.SideBuy, portfolio.SideSell} {
		if err := c.ladderRebases(ctx, side, ev.BestBid, ev.BestAsk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) ladderRebases(ctx context.Context, side portfolio.Side, bestBid, bestAsk decimalx.Decimal) error {
	top := bestBid
	if side == portfolio.SideSell {
		top = bestAsk
	}

	// Cancel rebases that have drifted too far from the reference top
	// before considering fresh laddering, on both stages.
	c.Portfolio.CancelDistantRebases(ctx, top, side, portfolio.StageEntry)
	c.Portfolio.CancelDistantRebases(ctx, top, side, portfolio.StageExit)

	pd := positionDataFor(c.Portfolio, side)
	branch := ResolveBranch(
		pd.OpenLiqs.TotalReserved.Count.IsPositive(),
		pd.CloseLiqs.TotalReserved.Count.IsPositive(),
		pd.OpenPosition.Inventory.IsPositive(),
	)
	if branch.Invariant() {
		return &haltErr{symbol: c.Symbol, side: side, branch: branch}
	}

	rebate := c.Portfolio.Rebate
	// Entry-side laddering.
	for {
		pd := positionDataFor(c.Portfolio, side)
		cb := pd.NeutralCB(rebate, side)
		size := pd.OpenLiqs.TotalOutstanding.Inventory
		if size.IsZero() {
			size = c.initSize
		}
		ok, err := c.Portfolio.NewLimit(ctx, uuid.New(), cb, size, side, portfolio.StageEntry, portfolio.ClassRebase)
		if err != nil {
			c.logger.Error("rebase admission error", "side", side, "stage", "entry", "err", err)
			return nil
		}
		if !ok {
			break
		}
	}
	return nil
}

func positionDataFor(pf *portfolio.Portfolio, side portfolio.Side) portfolio.PositionData {
	if side == portfolio.SideBuy {
		return pf.Data.Buy
	}
	return pf.Data.Sell
}
