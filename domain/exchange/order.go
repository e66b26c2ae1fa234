package exchange

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"kestrel/domain/orderbook"
	"kestrel/domain/safemath"
)

type State uint8

const (
	StateNew State = iota
	StateWorking
	StateFilled
	StateCanceled
)

func (s State) Terminal() bool {
	return s == StateFilled || s == StateCanceled
}

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateWorking:
		return "working"
	case StateFilled:
		return "filled"
	case StateCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Order is the business view of one request. It is the book callback for
// its own entry: every book event updates the order and is then passed
// on to the caller's callback with the caller's closure.
type Order struct {
	ex *Exchange

	id        uuid.UUID
	side      orderbook.Side
	quantity  int64
	details   Details
	timestamp int64

	entry *orderbook.Entry
	state State

	filledQty   int64
	filledValue int64

	callback orderbook.Callback
	closure  any
}

var _ orderbook.Callback = (*Order)(nil)

func (o *Order) ID() uuid.UUID           { return o.id }
func (o *Order) Side() orderbook.Side    { return o.side }
func (o *Order) Quantity() int64         { return o.quantity }
func (o *Order) Details() Details        { return o.details }
func (o *Order) Kind() Kind              { return o.details.Kind() }
func (o *Order) Timestamp() int64        { return o.timestamp }
func (o *Order) State() State            { return o.state }
func (o *Order) FilledQuantity() int64   { return o.filledQty }
func (o *Order) FilledValue() int64      { return o.filledValue }
func (o *Order) Closure() any            { return o.closure }
func (o *Order) Entry() *orderbook.Entry { return o.entry }

// Remaining is the quantity not yet filled. It stays positive after a
// cancel.
func (o *Order) Remaining() int64 { return o.quantity - o.filledQty }

// Cancel pulls the order's resting entry from the book.
func (o *Order) Cancel(timestamp int64) error {
	if o.state.Terminal() || o.entry == nil || !o.entry.Active() {
		return errors.Wrapf(orderbook.ErrInvalidState, "cancel order %s: %s", o.id, o.state)
	}
	return o.entry.Cancel(timestamp)
}

func (o *Order) OnFill(_ any, timestamp, quantity, price int64) error {
	qty, err := safemath.Add(o.filledQty, quantity)
	if err != nil {
		return errors.Wrapf(err, "order %s filled quantity", o.id)
	}
	value, err := safemath.MulAdd(o.filledValue, quantity, price)
	if err != nil {
		return errors.Wrapf(err, "order %s filled value", o.id)
	}
	o.filledQty = qty
	o.filledValue = value
	return o.callback.OnFill(o.closure, timestamp, quantity, price)
}

func (o *Order) OnFilled(_ any, timestamp int64) error {
	o.finish(StateFilled)
	return o.callback.OnFilled(o.closure, timestamp)
}

func (o *Order) OnCanceled(_ any, timestamp int64) error {
	o.finish(StateCanceled)
	return o.callback.OnCanceled(o.closure, timestamp)
}

func (o *Order) finish(s State) {
	o.state = s
	delete(o.ex.orders, o.id)
}
