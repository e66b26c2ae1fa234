package exchange

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"kestrel/domain/orderbook"
)

// Resting is what a snapshot keeps of a working order.
type Resting struct {
	ID          uuid.UUID
	Side        orderbook.Side
	TimeInForce TimeInForce
	Price       int64
	Quantity    int64
	Remaining   int64
	Filled      int64
	Value       int64
	Timestamp   int64
}

// RestingOrders lists working orders in admission order. Restoring them
// in that order gives every price level its original queue.
func (e *Exchange) RestingOrders() []Resting {
	orders := make([]*Order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.entry != nil && o.entry.Active() {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].entry.Seq() < orders[j].entry.Seq()
	})

	out := make([]Resting, 0, len(orders))
	for _, o := range orders {
		r := Resting{
			ID:        o.id,
			Side:      o.side,
			Price:     o.entry.Price(),
			Quantity:  o.quantity,
			Remaining: o.entry.Remaining(),
			Filled:    o.filledQty,
			Value:     o.filledValue,
			Timestamp: o.timestamp,
		}
		if l, ok := o.details.(Limit); ok {
			r.TimeInForce = l.TimeInForce
		}
		out = append(out, r)
	}
	return out
}

// Restore puts a snapshotted order back on the book with its fill
// totals. The book must not already cross it.
func (e *Exchange) Restore(r Resting, cb orderbook.Callback, closure any) (*Order, error) {
	switch {
	case r.ID == uuid.Nil:
		return nil, errors.Wrap(orderbook.ErrInvalidRequest, "restore: missing order id")
	case r.Price <= 0:
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "restore %s: price %d", r.ID, r.Price)
	case r.Remaining <= 0 || r.Filled < 0 || r.Filled+r.Remaining != r.Quantity:
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest,
			"restore %s: quantity %d, filled %d, remaining %d", r.ID, r.Quantity, r.Filled, r.Remaining)
	case cb == nil:
		return nil, errors.Wrap(orderbook.ErrInvalidRequest, "restore: missing callback")
	}
	if _, dup := e.orders[r.ID]; dup {
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "restore %s: already working", r.ID)
	}

	o := e.newOrder(r.ID, r.Timestamp, r.Side, r.Quantity, Limit{Price: r.Price, TimeInForce: r.TimeInForce}, cb, closure)
	o.filledQty = r.Filled
	o.filledValue = r.Value

	entry, err := e.book.Place(r.Timestamp, r.Side, r.Remaining, r.Price, o, closure)
	if entry == nil {
		return nil, err
	}
	o.entry = entry
	if !o.state.Terminal() {
		o.state = StateWorking
	}
	if entry.Active() {
		e.orders[o.id] = o
	}
	return o, err
}
