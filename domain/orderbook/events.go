package orderbook

import "github.com/cockroachdb/errors"

type eventKind uint8

const (
	evFill eventKind = iota
	evFilled
	evCanceled
	evTrade
	evQuote
)

type event struct {
	kind      eventKind
	entry     *Entry
	timestamp int64
	quantity  int64
	price     int64
	trade     Trade
	quote     Quote
}

// flush delivers queued events. A Place or Cancel issued from inside a
// callback only queues its events; the outermost flush drains them, so
// every listener sees a single order for the book.
func (b *Book) flush() error {
	if b.dispatching {
		return nil
	}
	b.dispatching = true
	defer func() {
		clear(b.pending)
		b.pending = b.pending[:0]
		b.dispatching = false
	}()

	var errs error
	for i := 0; i < len(b.pending); i++ {
		ev := b.pending[i]
		if err := b.dispatch(ev); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

func (b *Book) dispatch(ev event) error {
	switch ev.kind {
	case evFill:
		return ev.entry.callback.OnFill(ev.entry.closure, ev.timestamp, ev.quantity, ev.price)
	case evFilled:
		return ev.entry.callback.OnFilled(ev.entry.closure, ev.timestamp)
	case evCanceled:
		return ev.entry.callback.OnCanceled(ev.entry.closure, ev.timestamp)
	case evTrade:
		var errs error
		for _, l := range b.listeners {
			errs = errors.CombineErrors(errs, l.OnTrade(ev.trade))
		}
		return errs
	case evQuote:
		var errs error
		for _, l := range b.listeners {
			errs = errors.CombineErrors(errs, l.OnQuote(ev.quote))
		}
		return errs
	default:
		return errors.AssertionFailedf("unknown event kind %d", ev.kind)
	}
}
