package portfolio

import (
	"github.com/google/uuid"

	"trader/internal/decimalx"
)

// IncomingOrderUpdate is a normalized account-update (WS) event, venue
// payloads converted into this shape by the venue adapter before reaching
// the Position (spec.md §6 "Inbound private stream").
type IncomingOrderUpdate struct {
	ClientID        uuid.UUID
	ExchangeID      string
	Price           decimalx.Decimal
	Size            decimalx.Decimal
	Side            Side
	Stage           Stage
	OrderType       OrderType
	TimeInForce     TimeInForce
	Status          OrderWireStatus
	CumRemainingSize decimalx.Decimal
	CumFillSize     decimalx.Decimal
	CumFillLiq      decimalx.Decimal
	CumFillFee      decimalx.Decimal
}

// IncomingOrderREST is a normalized REST order-ack/response.
type IncomingOrderREST struct {
	ClientID         uuid.UUID
	ExchangeID       string
	Price            decimalx.Decimal
	Size             decimalx.Decimal
	Side             Side
	Stage            Stage
	OrderType        OrderType
	Status           RESTOrderStatus
	CumRemainingSize decimalx.Decimal
	CumFillSize      decimalx.Decimal
	CumFillLiq       decimalx.Decimal
	CumFillFee       decimalx.Decimal
}

// OrderWireStatus is the venue's reported order status on the
// account-update (WS) stream.
type OrderWireStatus int

const (
	WireStatusNew OrderWireStatus = iota
	WireStatusPartiallyFilled
	WireStatusFilled
	WireStatusCancelled
	WireStatusExpired
	WireStatusRejected
)

// RESTOrderStatus is the venue's reported status on a REST order-create
// response.
type RESTOrderStatus int

const (
	RESTStatusCreated RESTOrderStatus = iota
	RESTStatusRejected
	RESTStatusCancelled
)

// Order is the unit the whole lifecycle state machine revolves around
// (spec.md §3 "Order"). Identity: ClientID is assigned locally and is
// stable for the process lifetime; ExchangeID is learned from the venue
// after the first response.
type Order struct {
	ClientID   uuid.UUID
	ExchangeID string
	AutoGen    bool // true if this Order was reconstructed from a venue event with no local predecessor

	OriginalPrice decimalx.Decimal
	OriginalSize  decimalx.Decimal

	FilledSize      decimalx.Decimal
	FilledLiquidity decimalx.Decimal
	UnfilledSize    decimalx.Decimal
	UnfilledLiquidity decimalx.Decimal

	AccumulatedFee decimalx.Decimal
	ExpectedFee    decimalx.Decimal // signed: negative for maker rebate

	Type        OrderType
	TimeInForce TimeInForce
	Class       OrderClassification
	Progress    OrderProgress

	InFlight           bool
	CancelInFlight     bool
	UnknownCancelCount int
}

// CanCancel reports whether this order may be cancelled right now.
func (o *Order) CanCancel() bool {
	return o.Progress.CanCancel() && !o.CancelInFlight
}

// NewTakerOrder builds a Market order (the original's Order::new_taker).
func NewTakerOrder(id uuid.UUID, expectedPrice, size decimalx.Decimal, class OrderClassification) *Order {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Order{
		ClientID:        id,
		OriginalPrice:   expectedPrice,
		OriginalSize:    size,
		ExpectedFee:     expectedPrice.Mul(size).Mul(TakerFee),
		UnfilledSize:    size,
		FilledSize:      decimalx.Zero,
		TimeInForce:     TimeInForceGoodTillCancel,
		Type:            OrderTypeMarket,
		UnfilledLiquidity: decimalx.Zero,
		FilledLiquidity: decimalx.Zero,
		AccumulatedFee:  decimalx.Zero,
		Progress:        ProgressInit,
		Class:           class,
	}
}

// NewRebateOrder builds a post-only Limit order eligible for a maker
// rebate (the original's Order::new_rebate). The expected rebate is
// negative whichever side the order is on (a rebate is a credit, expressed
// as a negative fee).
func NewRebateOrder(id uuid.UUID, price, size decimalx.Decimal, class OrderClassification) *Order {
	o := NewTakerOrder(id, price, size, class)
	o.ExpectedFee = price.Mul(size).Mul(MakerRebate).Neg()
	o.TimeInForce = TimeInForcePostOnly
	o.Type = OrderTypeLimit
	o.UnfilledLiquidity = o.OriginalPrice.Mul(o.OriginalSize)
	return o
}

// NewOrphanOrder constructs an Untracked reconciliation placeholder for an
// order this process never placed (spec.md §3 "Untracked").
func NewOrphanOrder(id uuid.UUID, price *decimalx.Decimal, size decimalx.Decimal) *Order {
	var o *Order
	if price != nil {
		o = NewRebateOrder(id, *price, size, ClassNone)
	} else {
		o = NewTakerOrder(id, decimalx.Zero, size, ClassNone)
	}
	o.Progress = ProgressUntracked
	return o
}

func (o *Order) patchFromFill(remaining, fillSize, fillLiq, fillFee, price decimalx.Decimal) {
	o.FilledSize = fillSize
	o.FilledLiquidity = fillLiq
	o.UnfilledSize = remaining
	o.UnfilledLiquidity = remaining.Mul(price)
	o.AccumulatedFee = fillFee
}

// PreFlight marks the order as sent-but-unacknowledged.
func (o *Order) PreFlight() { o.InFlight = true }

// PreCancel marks a cancel request as in flight.
func (o *Order) PreCancel() { o.CancelInFlight = true }

// ApplyAccountUpdate applies a normalized WS account-update event,
// implementing the order-progress transition table of spec.md §3 plus the
// reconciliation rules of §4.5 (an account-update may arrive before the
// REST ack; never regress progress).
func (o *Order) ApplyAccountUpdate(u IncomingOrderUpdate) {
	o.InFlight = false
	switch u.Status {
	case WireStatusNew:
		if o.Progress == ProgressInit || o.Progress == ProgressResting {
			o.Progress = ProgressResting
		}
		o.patchFromFill(u.CumRemainingSize, u.CumFillSize, u.CumFillLiq, u.CumFillFee, u.Price)
	case WireStatusPartiallyFilled:
		if o.Progress == ProgressInit || o.Progress == ProgressResting || o.Progress == ProgressPartiallyFilled {
			o.Progress = ProgressPartiallyFilled
		}
		o.patchFromFill(u.CumRemainingSize, u.CumFillSize, u.CumFillLiq, u.CumFillFee, u.Price)
	case WireStatusFilled:
		if !o.Progress.IsTerminal() || o.Progress == ProgressFilled {
			o.Progress = ProgressFilled
		}
		o.patchFromFill(u.CumRemainingSize, u.CumFillSize, u.CumFillLiq, u.CumFillFee, u.Price)
	case WireStatusCancelled, WireStatusExpired:
		// Account-update "cancelled"/"expired" after REST success
		// transitions to Cancelled regardless of REST outcome
		// (spec.md §4.5 event reconciliation).
		o.Progress = ProgressCancelled
	case WireStatusRejected:
		o.Progress = ProgressFailed
	}
}

// ApplyRESTResponse applies a normalized REST order-create response,
// implementing the "REST success after an account-update has already
// progressed the order" reconciliation rule: update ExchangeID only, never
// regress Progress.
func (o *Order) ApplyRESTResponse(r IncomingOrderREST) {
	o.InFlight = false
	o.ExchangeID = r.ExchangeID
	o.AutoGen = true
	switch o.Progress {
	case ProgressInit:
		switch r.Status {
		case RESTStatusCreated:
			o.Progress = ProgressResting
			o.patchFromFill(r.CumRemainingSize, r.CumFillSize, r.CumFillLiq, r.CumFillFee, r.Price)
		case RESTStatusRejected:
			o.Progress = ProgressFailed
		case RESTStatusCancelled:
			o.Progress = ProgressCancelled
		}
	case ProgressResting, ProgressPartiallyFilled, ProgressFilled:
		// An account-update already advanced this order; REST success
		// arriving late must not regress it (spec.md §4.5).
	case ProgressCancelled, ProgressFailed:
		// It's fine for a REST success to arrive after WS already
		// terminated the order.
	case ProgressUntracked:
	}
}

// ApplyRESTFailure handles a REST transport/business failure for a place
// request (spec.md §4.8: "Transport errors on REST: treated as order-
// response failure; Order transitions to Failed").
func (o *Order) ApplyRESTFailure() {
	o.InFlight = false
	o.Progress = ProgressFailed
}

// ApplyCancelAck handles a successful cancel acknowledgement.
func (o *Order) ApplyCancelAck() {
	o.CancelInFlight = false
	o.Progress = ProgressCancelled
}

// ApplyCancelFailure handles a REST cancel rejection. A repeated "unknown
// order" rejection on the same client-id is tracked via
// UnknownCancelCount; after 3 such failures DesyncSuspected reports true.
// No caller reads DesyncSuspected: the process is not halted on a
// suspected desync.
func (o *Order) ApplyCancelFailure(unknownOrder bool) {
	o.CancelInFlight = false
	if unknownOrder {
		o.UnknownCancelCount++
	}
}

// DesyncSuspected reports whether this order has crossed the
// unknown-cancel threshold that indicates a broken reconciliation model.
func (o *Order) DesyncSuspected() bool {
	return o.UnknownCancelCount >= 3
}
