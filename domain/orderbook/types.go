package orderbook

import "fmt"

type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

// Callback receives the lifecycle of one entry: zero or more OnFill,
// then exactly one of OnFilled or OnCanceled. The closure given at
// placement is echoed back unchanged.
//
// A returned error does not undo the book mutation; it is reported to
// the caller of the Place or Cancel that produced the event.
type Callback interface {
	OnFill(closure any, timestamp, quantity, price int64) error
	OnFilled(closure any, timestamp int64) error
	OnCanceled(closure any, timestamp int64) error
}

// Funcs adapts plain functions to Callback. Nil fields are ignored.
type Funcs struct {
	Fill     func(closure any, timestamp, quantity, price int64) error
	Filled   func(closure any, timestamp int64) error
	Canceled func(closure any, timestamp int64) error
}

func (f Funcs) OnFill(closure any, timestamp, quantity, price int64) error {
	if f.Fill == nil {
		return nil
	}
	return f.Fill(closure, timestamp, quantity, price)
}

func (f Funcs) OnFilled(closure any, timestamp int64) error {
	if f.Filled == nil {
		return nil
	}
	return f.Filled(closure, timestamp)
}

func (f Funcs) OnCanceled(closure any, timestamp int64) error {
	if f.Canceled == nil {
		return nil
	}
	return f.Canceled(closure, timestamp)
}

// Trade is one match between an aggressor and a resting entry. Price is
// always the resting entry's price.
type Trade struct {
	Timestamp int64
	Price     int64
	Quantity  int64
	TakerSide Side
	MakerSeq  uint64
	TakerSeq  uint64
}

// Quote is a signed change of resting quantity at one price level.
type Quote struct {
	Timestamp int64
	Side      Side
	Price     int64
	Delta     int64
}

// Listener observes the trade and quote feed of a book.
type Listener interface {
	OnTrade(Trade) error
	OnQuote(Quote) error
}
