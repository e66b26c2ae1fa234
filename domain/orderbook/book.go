package orderbook

import (
	"github.com/cockroachdb/errors"
	"github.com/tidwall/btree"
)

// Book is single-writer and deterministic.
type Book struct {
	bids *btree.BTreeG[*Entry]
	asks *btree.BTreeG[*Entry]

	lastSeq   uint64
	listeners []Listener

	pending     []event
	dispatching bool
}

type Option func(*Book)

// WithListener registers a listener at construction time.
func WithListener(l Listener) Option {
	return func(b *Book) {
		b.AddListener(l)
	}
}

func New(opts ...Option) *Book {
	b := &Book{
		bids: btree.NewBTreeGOptions(bidLess, btree.Options{NoLocks: true}),
		asks: btree.NewBTreeGOptions(askLess, btree.Options{NoLocks: true}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) AddListener(l Listener) {
	if l != nil {
		b.listeners = append(b.listeners, l)
	}
}

// LastSeq returns the sequence number of the most recently admitted entry.
func (b *Book) LastSeq() uint64 {
	return b.lastSeq
}

// Place admits a new entry and matches it against the opposite side.
// A limitPrice of 0 places a market entry: whatever does not match is
// canceled and never rests.
func (b *Book) Place(
	timestamp int64,
	side Side,
	quantity int64,
	limitPrice int64,
	cb Callback,
	closure any,
) (*Entry, error) {
	switch {
	case !side.Valid():
		return nil, errors.Wrapf(ErrInvalidRequest, "unknown side %d", side)
	case quantity <= 0:
		return nil, errors.Wrapf(ErrInvalidRequest, "quantity %d must be positive", quantity)
	case limitPrice < 0:
		return nil, errors.Wrapf(ErrInvalidRequest, "price %d must not be negative", limitPrice)
	case cb == nil:
		return nil, errors.Wrap(ErrInvalidRequest, "missing callback")
	}

	b.lastSeq++
	e := &Entry{
		book:      b,
		seq:       b.lastSeq,
		side:      side,
		price:     limitPrice,
		remaining: quantity,
		active:    true,
		callback:  cb,
		closure:   closure,
	}

	matchErr := b.match(timestamp, e)

	switch {
	case matchErr != nil:
		e.active = false
		b.pending = append(b.pending, event{kind: evCanceled, entry: e, timestamp: timestamp})
	case e.remaining == 0:
		b.pending = append(b.pending, event{kind: evFilled, entry: e, timestamp: timestamp})
	case e.price > 0:
		b.queue(side).Set(e)
		e.rested = true
		b.pending = append(b.pending, event{
			kind:  evQuote,
			quote: Quote{Timestamp: timestamp, Side: side, Price: e.price, Delta: e.remaining},
		})
	default:
		e.active = false
		b.pending = append(b.pending, event{kind: evCanceled, entry: e, timestamp: timestamp})
	}

	b.cleanup(side.Opposite())
	b.cleanup(side)

	return e, errors.CombineErrors(matchErr, b.flush())
}

// match walks the opposite queue from its front. Inactive entries that
// have not been cleaned up yet are skipped, so a cancel deep in the
// queue never stops an aggressor from reaching the entries behind it.
func (b *Book) match(timestamp int64, aggressor *Entry) error {
	var err error
	b.queue(aggressor.side.Opposite()).Scan(func(resting *Entry) bool {
		if aggressor.remaining == 0 {
			return false
		}
		if !resting.active {
			return true
		}
		if !aggressor.crosses(resting.price) {
			return false
		}

		qty := min(aggressor.remaining, resting.remaining)
		price := resting.price
		if err = resting.fill(qty); err != nil {
			return false
		}
		if err = aggressor.fill(qty); err != nil {
			return false
		}

		b.pending = append(b.pending,
			event{kind: evTrade, trade: Trade{
				Timestamp: timestamp,
				Price:     price,
				Quantity:  qty,
				TakerSide: aggressor.side,
				MakerSeq:  resting.seq,
				TakerSeq:  aggressor.seq,
			}},
			event{kind: evQuote, quote: Quote{
				Timestamp: timestamp,
				Side:      resting.side,
				Price:     price,
				Delta:     -qty,
			}},
			event{kind: evFill, entry: resting, timestamp: timestamp, quantity: qty, price: price},
			event{kind: evFill, entry: aggressor, timestamp: timestamp, quantity: qty, price: price},
		)
		if resting.remaining == 0 {
			b.pending = append(b.pending, event{kind: evFilled, entry: resting, timestamp: timestamp})
		}
		return true
	})
	return err
}

func (b *Book) cancel(timestamp int64, e *Entry) error {
	if e.book != b {
		return errors.Wrapf(ErrInvalidState, "entry %d belongs to another book", e.seq)
	}
	if !e.active {
		return errors.Wrapf(ErrInvalidState, "cancel entry %d: not active", e.seq)
	}
	e.active = false
	if e.rested {
		b.pending = append(b.pending, event{
			kind:  evQuote,
			quote: Quote{Timestamp: timestamp, Side: e.side, Price: e.price, Delta: -e.remaining},
		})
	}
	b.pending = append(b.pending, event{kind: evCanceled, entry: e, timestamp: timestamp})
	b.cleanup(e.side)
	return b.flush()
}

// cleanup drops the leading run of inactive entries and stops at the
// first active one.
func (b *Book) cleanup(side Side) {
	q := b.queue(side)
	for {
		front, ok := q.Min()
		if !ok || front.active {
			return
		}
		q.PopMin()
	}
}

func (b *Book) queue(side Side) *btree.BTreeG[*Entry] {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

// ---- read surface ----

// Best returns the first active entry of a side.
func (b *Book) Best(side Side) (*Entry, bool) {
	var best *Entry
	b.Walk(side, func(e *Entry) bool {
		best = e
		return false
	})
	return best, best != nil
}

// Walk visits active entries of a side in priority order until fn
// returns false.
func (b *Book) Walk(side Side, fn func(*Entry) bool) {
	b.queue(side).Scan(func(e *Entry) bool {
		if !e.active {
			return true
		}
		return fn(e)
	})
}

// Len returns the number of entries physically held by a side, including
// canceled entries that are not yet at the front.
func (b *Book) Len(side Side) int {
	return b.queue(side).Len()
}
