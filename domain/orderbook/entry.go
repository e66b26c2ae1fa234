package orderbook

import "github.com/cockroachdb/errors"

// Entry is the handle of a placed order. It stays valid after the entry
// becomes inactive so callers can still read its final state.
type Entry struct {
	book *Book

	seq       uint64
	side      Side
	price     int64
	remaining int64
	active    bool
	rested    bool

	callback Callback
	closure  any
}

func (e *Entry) Seq() uint64      { return e.seq }
func (e *Entry) Side() Side       { return e.side }
func (e *Entry) Price() int64     { return e.price }
func (e *Entry) Remaining() int64 { return e.remaining }
func (e *Entry) Active() bool     { return e.active }
func (e *Entry) Closure() any     { return e.closure }

// IsMarket reports whether the entry was placed without a limit price.
func (e *Entry) IsMarket() bool { return e.price == 0 }

// Cancel deactivates a resting entry. Canceling an inactive entry
// returns ErrInvalidState.
func (e *Entry) Cancel(timestamp int64) error {
	return e.book.cancel(timestamp, e)
}

func (e *Entry) fill(qty int64) error {
	if !e.active {
		return errors.Wrapf(ErrInvalidState, "fill entry %d: not active", e.seq)
	}
	if qty <= 0 || qty > e.remaining {
		return errors.Wrapf(ErrInvalidState, "fill entry %d: quantity %d, remaining %d", e.seq, qty, e.remaining)
	}
	e.remaining -= qty
	if e.remaining == 0 {
		e.active = false
	}
	return nil
}

// crosses reports whether a resting price on the other side satisfies
// this entry's limit.
func (e *Entry) crosses(price int64) bool {
	if e.price == 0 {
		return true
	}
	if e.side == Bid {
		return price <= e.price
	}
	return price >= e.price
}

// bidLess orders bids by price descending then sequence ascending.
func bidLess(a, b *Entry) bool {
	if a == b {
		return false
	}
	if a.price != b.price {
		return a.price > b.price
	}
	return a.seq < b.seq
}

// askLess orders asks by price ascending then sequence ascending.
func askLess(a, b *Entry) bool {
	if a == b {
		return false
	}
	if a.price != b.price {
		return a.price < b.price
	}
	return a.seq < b.seq
}
