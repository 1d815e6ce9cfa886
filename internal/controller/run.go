package controller

import (
	"context"

	"trader/internal/portfolio"
)

// Signal is the union of event shapes the Signal Dispatcher forwards to
// the Controller's inbound channel (spec.md §4.3 "Fan-out rule"). Each
// concrete type below is a variant; Run type-switches on it.
type Signal interface{ isSignal() }

func (TopsEvent) isSignal()                     {}
func (BookEvent) isSignal()                     {}
func (portfolio.IncomingOrderUpdate) isSignal() {}
func (portfolio.PositionUpdateEvent) isSignal() {}

// Run is the Controller's blocking receive loop: one OS thread per symbol
// (spec.md §5 "one per-symbol Strategy Controller blocking receive loop").
// It selects between the dispatcher's inbound signal channel and the
// worker-response channel fed by PublishOrderResult/PublishCancelResult,
// so that all Portfolio mutation happens on this single goroutine.
func (c *Controller) Run(ctx context.Context, in <-chan Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-in:
			if !ok {
				return nil
			}
			if err := c.dispatch(ctx, sig); err != nil {
				return err
			}
		case r := <-c.results:
			switch e := r.(type) {
			case portfolio.OrderResultEvent:
				c.HandleOrderResult(e)
			case portfolio.CancelResultEvent:
				c.HandleCancelResult(e)
			}
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, sig Signal) error {
	switch e := sig.(type) {
	case TopsEvent:
		return c.HandleTops(ctx, e)
	case BookEvent:
		return c.HandleBook(ctx, e)
	case portfolio.IncomingOrderUpdate:
		c.HandleAccountOrderUpdate(e)
	case portfolio.PositionUpdateEvent:
		c.HandlePositionUpdate(e)
	}
	return nil
}
