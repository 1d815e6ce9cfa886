package controller

import (
	"github.com/google/uuid"

	"trader/internal/decimalx"
	"trader/internal/portfolio"
)

// ActivityKind classifies an Activity notification.
type ActivityKind int

const (
	ActivityOrderPlaced ActivityKind = iota
	ActivityOrderFailed
	ActivityCancelled
	ActivityFill
	ActivityPositionUpdate
)

// Activity is a best-effort observability notification emitted by the
// controller's event loop as it processes order results, account
// updates, and position reports. It exists purely for external consumers
// (e.g. a dashboard); nothing in the controller reads it back, and a nil
// sink (the default) makes emission a no-op.
type Activity struct {
	Kind        ActivityKind
	ClientID    uuid.UUID
	Side        portfolio.Side
	Stage       portfolio.Stage
	Price       decimalx.Decimal
	Size        decimalx.Decimal
	RealizedPnL decimalx.Decimal
}

// SetActivitySink wires ch as the destination for every Activity the
// controller emits from here on. The channel is never closed by the
// controller and sends are non-blocking: a slow or absent consumer never
// stalls the event loop (spec.md §5 "no other blocking allowed on the
// controller thread").
func (c *Controller) SetActivitySink(ch chan<- Activity) {
	c.activity = ch
}

func (c *Controller) emit(a Activity) {
	if c.activity == nil {
		return
	}
	select {
	case c.activity <- a:
	default:
	}
}
