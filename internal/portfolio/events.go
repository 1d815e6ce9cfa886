package portfolio

import (
	"context"

	"github.com/google/uuid"

	"trader/internal/decimalx"
)

// VenueOps is the subset of the Venue Adapter contract (spec.md §2) that
// Position needs to place and cancel orders. Position holds no transport
// state of its own; it only schedules calls through this interface on a
// worker pool and reports results back over an event channel, mirroring
// the original's Position::send_order/cancel_order (spawn + channel-send).
type VenueOps interface {
	PlaceLimit(ctx context.Context, clientID uuid.UUID, side Side, price, size decimalx.Decimal, tif TimeInForce) (IncomingOrderREST, error)
	PlaceMarket(ctx context.Context, clientID uuid.UUID, side Side, size decimalx.Decimal) (IncomingOrderREST, error)
	CancelOrder(ctx context.Context, clientID uuid.UUID, exchangeID string) (success bool, unknownOrder bool, err error)
}

// OrderResultEvent reports the outcome of a place-order worker call back
// to the Strategy Controller's event loop.
type OrderResultEvent struct {
	ClientID uuid.UUID
	Side     Side
	Stage    Stage
	Class    OrderClassification
	Response IncomingOrderREST
	Err      error
}

// CancelResultEvent reports the outcome of a cancel-order worker call.
type CancelResultEvent struct {
	ClientID     uuid.UUID
	ExchangeID   string
	Side         Side
	Stage        Stage
	Success      bool
	UnknownOrder bool
	Err          error
}

// EventSink is the one-way message bus workers push results onto; the
// Strategy Controller is its sole consumer (spec.md §9 "the Controller is
// the sole mutator").
type EventSink interface {
	PublishOrderResult(OrderResultEvent)
	PublishCancelResult(CancelResultEvent)
}
