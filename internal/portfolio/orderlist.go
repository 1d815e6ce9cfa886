package portfolio

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"trader/internal/decimalx"
)

// OrderListErrors, matching the original's OrderListError variants.
var (
	ErrOrderAlreadyExists = errors.New("portfolio: order already exists for client-id")
)

// OrderData is one bucket of the AllLiqs rollup: {inventory, liquidity,
// cost_basis, prebate_cost_basis, rebate, count} (spec.md §3 "OrderList").
type OrderData struct {
	Inventory        decimalx.Decimal
	Liquidity        decimalx.Decimal
	CostBasis        decimalx.Decimal
	PrebateCostBasis decimalx.Decimal
	Rebate           decimalx.Decimal
	Count            decimalx.Decimal
}

// NewOrderData returns a zeroed OrderData.
func NewOrderData() OrderData {
	return OrderData{
		Inventory: decimalx.Zero, Liquidity: decimalx.Zero, CostBasis: decimalx.Zero,
		PrebateCostBasis: decimalx.Zero, Rebate: decimalx.Zero, Count: decimalx.Zero,
	}
}

// Patch accumulates one order's contribution without recomputing the
// derived cost-basis fields; call Process afterward (or use Update, which
// does both).
func (d *OrderData) Patch(inv, liq, rebate decimalx.Decimal) {
	d.Inventory = d.Inventory.Add(inv)
	d.Liquidity = d.Liquidity.Add(liq)
	d.Rebate = d.Rebate.Add(rebate)
	d.Count = d.Count.Add(decimalx.One)
}

// Process recomputes PrebateCostBasis and CostBasis from the accumulated
// totals: cost_basis = (liquidity + signed_rebate)/inventory;
// prebate_cost_basis = liquidity/inventory (spec.md §3).
func (d *OrderData) Process() {
	if d.Inventory.IsZero() {
		return
	}
	d.PrebateCostBasis = d.Liquidity.Div(d.Inventory)
	d.CostBasis = d.Liquidity.Add(d.Rebate).Div(d.Inventory)
}

// Update patches then processes in one call.
func (d *OrderData) Update(inv, liq, rebate decimalx.Decimal) {
	d.Patch(inv, liq, rebate)
	d.Process()
}

// NeutralCB computes the exit price that makes prebate PnL exactly offset
// the expected rebate over a round trip (spec.md §4.4):
// neutral_cb = (I*P*r) / (2*I - I*r). r is the per-fill rebate multiplier
// (1-rebate on the buy side, 1+rebate on the sell side), not the raw
// rebate rate — callers derive r before reaching this far (see
// PositionData.NeutralCB).
func (d OrderData) NeutralCB(r decimalx.Decimal) decimalx.Decimal {
	numerator := d.Inventory.Mul(d.PrebateCostBasis).Mul(r)
	denominator := decimalx.Two.Mul(d.Inventory).Sub(d.Inventory.Mul(r))
	if denominator.IsZero() {
		return decimalx.Zero
	}
	return numerator.Div(denominator)
}

// Sub implements the original's Sub impl for OrderData, used to compute
// the open-inventory delta (opens.filled - closes.filled).
func (d OrderData) Sub(other OrderData) OrderData {
	result := NewOrderData()
	result.Update(d.Inventory.Sub(other.Inventory), d.Liquidity.Sub(other.Liquidity),
		d.CostBasis.Sub(d.PrebateCostBasis).Sub(other.CostBasis.Sub(other.PrebateCostBasis)))
	return result
}

// AllLiqs is the derived rollup over an OrderList: {flight, active, filled,
// total_reserved, total_outstanding, uncancelled_outstanding, total_count}
// (spec.md §3, §4.4).
type AllLiqs struct {
	Flight                 OrderData
	Active                 OrderData
	Filled                 OrderData
	TotalReserved          OrderData
	TotalOutstanding       OrderData
	UncancelledOutstanding OrderData
	TotalCount             decimalx.Decimal
}

// NeutralCB returns the neutral cost basis of total_outstanding.
func (a AllLiqs) NeutralCB(rebate decimalx.Decimal) decimalx.Decimal {
	return a.TotalOutstanding.NeutralCB(rebate)
}

// UncancelledNeutralCB returns the neutral cost basis restricted to orders
// without a cancel in flight.
func (a AllLiqs) UncancelledNeutralCB(rebate decimalx.Decimal) decimalx.Decimal {
	return a.UncancelledOutstanding.NeutralCB(rebate)
}

// OrderList is a keyed collection (client-id -> Order) plus the AllLiqs
// rollup, computed on demand by iterating and classifying every order by
// Progress and CancelInFlight (spec.md §4.4: "There is no incremental-
// maintenance shortcut").
type OrderList struct {
	Orders map[uuid.UUID]*Order
}

// NewOrderList returns an empty OrderList.
func NewOrderList() *OrderList {
	return &OrderList{Orders: make(map[uuid.UUID]*Order)}
}

// AllLiqs recomputes the full rollup by iterating every order in the list
// (spec.md §4.4 derived buckets).
func (l *OrderList) AllLiqs() AllLiqs {
	flight := NewOrderData()
	active := NewOrderData()
	filled := NewOrderData()
	totalReserved := NewOrderData()
	totalOutstanding := NewOrderData()
	uncancelledOutstanding := NewOrderData()
	totalCount := decimalx.Zero

	for _, o := range l.Orders {
		switch o.Progress {
		case ProgressInit:
			totalCount = totalCount.Add(decimalx.One)
			totalReserved.Patch(o.UnfilledSize, o.UnfilledLiquidity, o.ExpectedFee)
			flight.Patch(o.UnfilledSize, o.UnfilledLiquidity, o.ExpectedFee)
			totalOutstanding.Patch(o.OriginalSize, o.UnfilledLiquidity.Add(o.FilledLiquidity), o.ExpectedFee)
			if !o.CancelInFlight {
				uncancelledOutstanding.Patch(o.OriginalSize, o.UnfilledLiquidity.Add(o.FilledLiquidity), o.ExpectedFee)
			}
		case ProgressResting:
			totalCount = totalCount.Add(decimalx.One)
			totalReserved.Patch(o.UnfilledSize, o.UnfilledLiquidity, o.ExpectedFee)
			active.Patch(o.UnfilledSize, o.UnfilledLiquidity, o.ExpectedFee)
			totalOutstanding.Patch(o.OriginalSize, o.UnfilledLiquidity.Add(o.FilledLiquidity), o.ExpectedFee)
			if !o.CancelInFlight {
				uncancelledOutstanding.Patch(o.OriginalSize, o.UnfilledLiquidity.Add(o.FilledLiquidity), o.ExpectedFee)
			}
		case ProgressPartiallyFilled:
			totalCount = totalCount.Add(decimalx.One)
			remainingFee := o.ExpectedFee.Sub(o.AccumulatedFee)
			active.Patch(o.UnfilledSize, o.UnfilledLiquidity, remainingFee)
			totalReserved.Patch(o.UnfilledSize, o.UnfilledLiquidity, remainingFee)
			filled.Patch(o.FilledSize, o.FilledLiquidity, o.AccumulatedFee)
			totalOutstanding.Patch(o.OriginalSize, o.UnfilledLiquidity.Add(o.FilledLiquidity), o.AccumulatedFee)
			if !o.CancelInFlight {
				uncancelledOutstanding.Patch(o.OriginalSize, o.UnfilledLiquidity.Add(o.FilledLiquidity), o.AccumulatedFee)
			}
		case ProgressFilled:
			totalCount = totalCount.Add(decimalx.One)
			filled.Patch(o.FilledSize, o.FilledLiquidity, o.AccumulatedFee)
			totalOutstanding.Patch(o.FilledSize, o.FilledLiquidity, o.AccumulatedFee)
			if !o.CancelInFlight {
				uncancelledOutstanding.Patch(o.FilledSize, o.FilledLiquidity, o.AccumulatedFee)
			}
		case ProgressUntracked:
			// contributes nothing to derived aggregates
		default:
		}
	}

	flight.Process()
	active.Process()
	filled.Process()
	totalReserved.Process()
	totalOutstanding.Process()
	uncancelledOutstanding.Process()

	return AllLiqs{
		Flight: flight, Active: active, Filled: filled,
		TotalReserved: totalReserved, TotalOutstanding: totalOutstanding,
		UncancelledOutstanding: uncancelledOutstanding, TotalCount: totalCount,
	}
}

// RestOrder applies a REST order-create response keyed by client-id. A
// nil order argument represents a REST failure (transport error). An
// unknown client-id creates an Untracked orphan placeholder rather than
// panicking (spec.md §8 boundary behavior).
func (l *OrderList) RestOrder(id uuid.UUID, order *IncomingOrderREST) {
	existing, ok := l.Orders[id]
	if order != nil {
		if ok {
			existing.ApplyRESTResponse(*order)
			return
		}
		o := NewOrphanOrder(id, &order.Price, order.Size)
		l.Orders[id] = o
		return
	}
	if ok {
		existing.ApplyRESTFailure()
		return
	}
	l.Orders[id] = NewOrphanOrder(id, nil, decimalx.Zero)
}

// RestCancel applies a REST cancel response keyed by client-id.
func (l *OrderList) RestCancel(id uuid.UUID, success, unknownOrder bool) {
	existing, ok := l.Orders[id]
	if !ok {
		l.Orders[id] = NewOrphanOrder(id, nil, decimalx.Zero)
		return
	}
	if success {
		existing.ApplyCancelAck()
		return
	}
	existing.ApplyCancelFailure(unknownOrder)
}

// WSOrder applies a normalized account-update event keyed by client-id.
func (l *OrderList) WSOrder(id uuid.UUID, update IncomingOrderUpdate) {
	existing, ok := l.Orders[id]
	if !ok {
		o := NewOrphanOrder(id, &update.Price, update.Size)
		o.ApplyAccountUpdate(update)
		l.Orders[id] = o
		return
	}
	existing.ApplyAccountUpdate(update)
}

// AddOrder inserts a freshly created order, returning ErrOrderAlreadyExists
// if the client-id is already present — a duplicate client-id is an
// invariant violation (spec.md §7 "Invariant" taxonomy), callers should
// treat this error as fatal.
func (l *OrderList) AddOrder(o *Order) error {
	if _, ok := l.Orders[o.ClientID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderAlreadyExists, o.ClientID)
	}
	l.Orders[o.ClientID] = o
	return nil
}

// Clean drops every order whose progress is terminal, retaining only
// those that still contribute to open position math (spec.md §3
// "Lifecycle").
func (l *OrderList) Clean() {
	for id, o := range l.Orders {
		if !o.Progress.IncompleteUnfailed() {
			delete(l.Orders, id)
		}
	}
}

// GetTop returns the resting Top-classified order, if any.
func (l *OrderList) GetTop() *Order {
	for _, o := range l.Orders {
		if o.Class == ClassTop && o.CanCancel() {
			return o
		}
	}
	return nil
}

// GetTopData returns an OrderData summarizing the Top order, if any.
func (l *OrderList) GetTopData() (OrderData, bool) {
	top := l.GetTop()
	if top == nil {
		return OrderData{}, false
	}
	od := NewOrderData()
	od.Update(top.OriginalSize, top.OriginalSize.Mul(top.OriginalPrice), top.ExpectedFee)
	return od, true
}
