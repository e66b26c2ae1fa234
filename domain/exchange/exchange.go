package exchange

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"kestrel/domain/depth"
	"kestrel/domain/orderbook"
)

// Exchange applies order kind and time-in-force rules on top of one book.
// Like the book it is single-writer.
type Exchange struct {
	book    *orderbook.Book
	tracker *depth.Tracker

	orders map[uuid.UUID]*Order
	newID  func() uuid.UUID
}

type Option func(*Exchange)

// WithIDGenerator replaces uuid.New for order ids.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(e *Exchange) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// New subscribes tracker to book. Fill-or-kill admission reads the
// tracker, so it must see every quote the book emits.
func New(book *orderbook.Book, tracker *depth.Tracker, opts ...Option) *Exchange {
	e := &Exchange{
		book:    book,
		tracker: tracker,
		orders:  make(map[uuid.UUID]*Order),
		newID:   uuid.New,
	}
	book.AddListener(tracker)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Exchange) Book() *orderbook.Book   { return e.book }
func (e *Exchange) Tracker() *depth.Tracker { return e.tracker }

func (e *Exchange) CreateMarketOrder(
	timestamp int64,
	side orderbook.Side,
	quantity int64,
	cb orderbook.Callback,
	closure any,
) (*Order, error) {
	return e.CreateOrder(timestamp, side, quantity, Market{}, cb, closure)
}

func (e *Exchange) CreateLimitOrder(
	timestamp int64,
	side orderbook.Side,
	quantity int64,
	price int64,
	tif TimeInForce,
	cb orderbook.Callback,
	closure any,
) (*Order, error) {
	return e.CreateOrder(timestamp, side, quantity, Limit{Price: price, TimeInForce: tif}, cb, closure)
}

func (e *Exchange) CreateStopOrder(int64, orderbook.Side, int64, int64, orderbook.Callback, any) (*Order, error) {
	return nil, errors.Wrap(ErrUnsupported, "stop orders")
}

func (e *Exchange) CreateStopLimitOrder(int64, orderbook.Side, int64, int64, int64, TimeInForce, orderbook.Callback, any) (*Order, error) {
	return nil, errors.Wrap(ErrUnsupported, "stop-limit orders")
}

func (e *Exchange) CreateIcebergOrder(int64, orderbook.Side, int64, int64, int64, TimeInForce, orderbook.Callback, any) (*Order, error) {
	return nil, errors.Wrap(ErrUnsupported, "iceberg orders")
}

// ReplaceOrder is declared for protocol completeness.
func (e *Exchange) ReplaceOrder(uuid.UUID, int64, int64, int64) error {
	return errors.Wrap(ErrUnsupported, "order replace")
}

// CreateOrder validates the request and places it according to its kind.
// The returned order is non-nil whenever the request was accepted, even
// if a callback failed; callers check both.
func (e *Exchange) CreateOrder(
	timestamp int64,
	side orderbook.Side,
	quantity int64,
	details Details,
	cb orderbook.Callback,
	closure any,
) (*Order, error) {
	return e.CreateOrderWithID(e.newID(), timestamp, side, quantity, details, cb, closure)
}

// CreateOrderWithID is CreateOrder with a caller-chosen id, used when
// commands are replayed and ids must come out the same.
func (e *Exchange) CreateOrderWithID(
	id uuid.UUID,
	timestamp int64,
	side orderbook.Side,
	quantity int64,
	details Details,
	cb orderbook.Callback,
	closure any,
) (*Order, error) {
	switch {
	case id == uuid.Nil:
		return nil, errors.Wrap(orderbook.ErrInvalidRequest, "missing order id")
	case !side.Valid():
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown side %d", side)
	case quantity <= 0:
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "quantity %d must be positive", quantity)
	case cb == nil:
		return nil, errors.Wrap(orderbook.ErrInvalidRequest, "missing callback")
	case details == nil:
		return nil, errors.Wrap(orderbook.ErrInvalidRequest, "missing order details")
	}
	if _, dup := e.orders[id]; dup {
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "order %s is already working", id)
	}

	switch d := details.(type) {
	case Market:
		return e.placePlain(e.newOrder(id, timestamp, side, quantity, d, cb, closure), 0)
	case Limit:
		if d.Price <= 0 {
			return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "limit price %d must be positive", d.Price)
		}
		if !d.TimeInForce.Valid() {
			return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown time in force %d", d.TimeInForce)
		}
		o := e.newOrder(id, timestamp, side, quantity, d, cb, closure)
		switch d.TimeInForce {
		case ImmediateOrCancel:
			return e.placeIOC(o, d.Price)
		case FillOrKill:
			return e.placeFOK(o, d.Price)
		default:
			return e.placePlain(o, d.Price)
		}
	case Stop, StopLimit, Iceberg:
		return nil, errors.Wrapf(ErrUnsupported, "%s orders", d.Kind())
	default:
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown order details %T", details)
	}
}

// Order looks up a working order.
func (e *Exchange) Order(id uuid.UUID) (*Order, bool) {
	o, ok := e.orders[id]
	return o, ok
}

func (e *Exchange) CancelOrder(id uuid.UUID, timestamp int64) error {
	o, ok := e.orders[id]
	if !ok {
		return errors.Wrapf(ErrOrderNotFound, "order %s", id)
	}
	return o.Cancel(timestamp)
}

// Working returns the number of orders resting on the book.
func (e *Exchange) Working() int {
	return len(e.orders)
}

func (e *Exchange) newOrder(
	id uuid.UUID,
	timestamp int64,
	side orderbook.Side,
	quantity int64,
	details Details,
	cb orderbook.Callback,
	closure any,
) *Order {
	return &Order{
		ex:        e,
		id:        id,
		side:      side,
		quantity:  quantity,
		details:   details,
		timestamp: timestamp,
		state:     StateNew,
		callback:  cb,
		closure:   closure,
	}
}

// place hands the order to the book. An order whose entry is still
// active afterwards is tracked until its terminal callback.
func (e *Exchange) place(o *Order, price int64) error {
	entry, err := e.book.Place(o.timestamp, o.side, o.quantity, price, o, o.closure)
	if entry == nil {
		return err
	}
	o.entry = entry
	if !o.state.Terminal() {
		o.state = StateWorking
	}
	if entry.Active() {
		e.orders[o.id] = o
	}
	return err
}

// placePlain is used by market and day orders: the book alone decides
// what rests.
func (e *Exchange) placePlain(o *Order, price int64) (*Order, error) {
	err := e.place(o, price)
	if o.entry == nil {
		return nil, err
	}
	return o, err
}

// placeIOC cancels whatever did not match immediately. The remainder
// rests before it is canceled, so quote listeners see +N then -N at the
// same price and timestamp.
func (e *Exchange) placeIOC(o *Order, price int64) (*Order, error) {
	err := e.place(o, price)
	if o.entry == nil {
		return nil, err
	}
	if o.entry.Active() {
		err = errors.CombineErrors(err, o.entry.Cancel(o.timestamp))
	}
	return o, err
}

// placeFOK admits the order only if the opposite side holds enough
// quantity at or better than price. A refused order is canceled without
// reaching the book.
func (e *Exchange) placeFOK(o *Order, price int64) (*Order, error) {
	available, err := e.tracker.Cumulative(o.side.Opposite(), price)
	if err != nil {
		return nil, err
	}
	if available < o.quantity {
		return o, o.OnCanceled(o.closure, o.timestamp)
	}

	err = e.place(o, price)
	if o.entry == nil {
		return nil, err
	}
	if o.entry.Active() {
		remaining := o.entry.Remaining()
		cancelErr := o.entry.Cancel(o.timestamp)
		violation := errors.Wrapf(orderbook.ErrInvalidState,
			"fill-or-kill order %s left %d of %d resting with %d available",
			o.id, remaining, o.quantity, available)
		// the assertion marker is only seen on the outermost error
		err = errors.WithAssertionFailure(
			errors.CombineErrors(errors.CombineErrors(violation, cancelErr), err))
	}
	return o, err
}
