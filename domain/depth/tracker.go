package depth

import (
	"github.com/cockroachdb/errors"

	"kestrel/domain/orderbook"
	"kestrel/domain/safemath"
)

// Level is an aggregated price level.
type Level struct {
	Price    int64
	Quantity int64
}

// LastTrade holds the most recent trade seen by the tracker.
type LastTrade struct {
	Price     int64
	Quantity  int64
	Timestamp int64
	Valid     bool
}

// Tracker is driven by one book and shares its single writer.
type Tracker struct {
	bids *rbTree
	asks *rbTree
	last LastTrade
}

var _ orderbook.Listener = (*Tracker)(nil)

func New() *Tracker {
	return &Tracker{
		bids: newRBTree(),
		asks: newRBTree(),
	}
}

func (t *Tracker) OnQuote(q orderbook.Quote) error {
	return t.ApplyQuote(q.Side, q.Price, q.Delta)
}

func (t *Tracker) OnTrade(tr orderbook.Trade) error {
	t.ApplyTrade(tr.Price, tr.Quantity, tr.Timestamp)
	return nil
}

// ApplyQuote adds delta to the level at price. A level is removed once it
// reaches exactly zero; a delta that would take it below zero is refused.
func (t *Tracker) ApplyQuote(side orderbook.Side, price, delta int64) error {
	if !side.Valid() {
		return errors.Wrapf(orderbook.ErrInvalidRequest, "unknown side %d", side)
	}
	if price <= 0 {
		return errors.Wrapf(orderbook.ErrInvalidRequest, "quote price %d must be positive", price)
	}
	if delta == 0 {
		return nil
	}

	tree := t.tree(side)
	var current int64
	if lvl := tree.find(price); lvl != nil {
		current = lvl.Quantity
	}
	next, err := safemath.Add(current, delta)
	if err != nil {
		return errors.Wrapf(err, "%s level %d", side, price)
	}
	switch {
	case next < 0:
		return errors.Wrapf(orderbook.ErrInvalidState,
			"%s level %d would go negative: %d%+d", side, price, current, delta)
	case next == 0:
		tree.remove(price)
	default:
		tree.upsert(price).Quantity = next
	}
	return nil
}

func (t *Tracker) ApplyTrade(price, quantity, timestamp int64) {
	t.last = LastTrade{Price: price, Quantity: quantity, Timestamp: timestamp, Valid: true}
}

func (t *Tracker) LastTrade() LastTrade {
	return t.last
}

// Best returns the highest bid or the lowest ask.
func (t *Tracker) Best(side orderbook.Side) (Level, bool) {
	var lvl *Level
	if side == orderbook.Bid {
		lvl = t.bids.max()
	} else {
		lvl = t.asks.min()
	}
	if lvl == nil {
		return Level{}, false
	}
	return *lvl, true
}

func (t *Tracker) BestBid() (Level, bool) { return t.Best(orderbook.Bid) }
func (t *Tracker) BestAsk() (Level, bool) { return t.Best(orderbook.Ask) }

// Levels returns up to n levels from the best price outward. n <= 0
// returns every level.
func (t *Tracker) Levels(side orderbook.Side, n int) []Level {
	tree := t.tree(side)
	size := tree.Len()
	if n > 0 && n < size {
		size = n
	}
	out := make([]Level, 0, size)
	t.walk(side, func(l *Level) bool {
		if n > 0 && len(out) == n {
			return false
		}
		out = append(out, *l)
		return true
	})
	return out
}

// Cumulative sums the quantity at or better than threshold: asks priced
// at or below it, bids priced at or above it.
func (t *Tracker) Cumulative(side orderbook.Side, threshold int64) (int64, error) {
	var (
		total int64
		err   error
	)
	t.walk(side, func(l *Level) bool {
		if side == orderbook.Ask && l.Price > threshold {
			return false
		}
		if side == orderbook.Bid && l.Price < threshold {
			return false
		}
		total, err = safemath.Add(total, l.Quantity)
		return err == nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "cumulative %s depth at %d", side, threshold)
	}
	return total, nil
}

func (t *Tracker) LevelCount(side orderbook.Side) int {
	return t.tree(side).Len()
}

func (t *Tracker) walk(side orderbook.Side, fn func(*Level) bool) {
	if side == orderbook.Bid {
		t.bids.descend(fn)
		return
	}
	t.asks.ascend(fn)
}

func (t *Tracker) tree(side orderbook.Side) *rbTree {
	if side == orderbook.Bid {
		return t.bids
	}
	return t.asks
}
