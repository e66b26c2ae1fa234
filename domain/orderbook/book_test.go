package orderbook

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is both a Callback and a Listener and keeps one ordered log.
type recorder struct {
	log    []string
	trades []Trade
	quotes []Quote
}

func (r *recorder) OnFill(c any, ts, qty, price int64) error {
	r.log = append(r.log, fmt.Sprintf("%v fill %d@%d", c, qty, price))
	return nil
}

func (r *recorder) OnFilled(c any, ts int64) error {
	r.log = append(r.log, fmt.Sprintf("%v filled", c))
	return nil
}

func (r *recorder) OnCanceled(c any, ts int64) error {
	r.log = append(r.log, fmt.Sprintf("%v canceled", c))
	return nil
}

func (r *recorder) OnTrade(t Trade) error {
	r.trades = append(r.trades, t)
	r.log = append(r.log, fmt.Sprintf("trade %d@%d", t.Quantity, t.Price))
	return nil
}

func (r *recorder) OnQuote(q Quote) error {
	r.quotes = append(r.quotes, q)
	r.log = append(r.log, fmt.Sprintf("quote %s %d %+d", q.Side, q.Price, q.Delta))
	return nil
}

func newTestBook() (*Book, *recorder) {
	rec := &recorder{}
	return New(WithListener(rec)), rec
}

func place(t *testing.T, b *Book, rec *recorder, side Side, qty, price int64, name string) *Entry {
	t.Helper()
	e, err := b.Place(1, side, qty, price, rec, name)
	require.NoError(t, err)
	return e
}

func TestPriceTimePriority(t *testing.T) {
	book, rec := newTestBook()
	a1 := place(t, book, rec, Ask, 100, 10, "a1")
	a2 := place(t, book, rec, Ask, 200, 10, "a2")
	a3 := place(t, book, rec, Ask, 300, 11, "a3")
	rec.log = nil

	m := place(t, book, rec, Bid, 250, 0, "m")

	assert.Equal(t, []string{
		"trade 100@10", "quote ask 10 -100", "a1 fill 100@10", "m fill 100@10", "a1 filled",
		"trade 150@10", "quote ask 10 -150", "a2 fill 150@10", "m fill 150@10",
		"m filled",
	}, rec.log)

	assert.False(t, a1.Active())
	assert.True(t, a2.Active())
	assert.Equal(t, int64(50), a2.Remaining())
	assert.True(t, a3.Active())
	assert.Equal(t, int64(300), a3.Remaining())
	assert.False(t, m.Active())

	best, ok := book.Best(Ask)
	require.True(t, ok)
	assert.Same(t, a2, best)
	assert.Equal(t, 2, book.Len(Ask))
}

func TestBetterPriceWinsOverEarlierTime(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Bid, 5, 99, "early")
	place(t, book, rec, Bid, 5, 101, "better")
	place(t, book, rec, Bid, 5, 101, "later")
	rec.log = nil

	place(t, book, rec, Ask, 7, 99, "agg")

	require.Len(t, rec.trades, 2)
	assert.Equal(t, int64(101), rec.trades[0].Price)
	assert.Equal(t, int64(5), rec.trades[0].Quantity)
	assert.Equal(t, int64(101), rec.trades[1].Price)
	assert.Equal(t, int64(2), rec.trades[1].Quantity)
	assert.Contains(t, rec.log, "better filled")
	assert.Contains(t, rec.log, "later fill 2@101")
	assert.NotContains(t, rec.log, "early fill 5@99")
}

func TestLimitRestsAndTradesAtRestingPrice(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Ask, 10, 100, "ask")
	rec.log = nil

	bid := place(t, book, rec, Bid, 15, 105, "bid")

	require.Len(t, rec.trades, 1)
	assert.Equal(t, int64(100), rec.trades[0].Price)
	assert.Equal(t, Bid, rec.trades[0].TakerSide)
	assert.True(t, bid.Active())
	assert.Equal(t, int64(5), bid.Remaining())
	assert.Equal(t, Quote{Timestamp: 1, Side: Bid, Price: 105, Delta: 5}, rec.quotes[len(rec.quotes)-1])

	best, ok := book.Best(Bid)
	require.True(t, ok)
	assert.Equal(t, int64(105), best.Price())
	_, ok = book.Best(Ask)
	assert.False(t, ok)
}

func TestNonCrossingLimitDoesNotTrade(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Ask, 10, 101, "ask")
	place(t, book, rec, Bid, 10, 100, "bid")

	assert.Empty(t, rec.trades)
	assert.Equal(t, 1, book.Len(Bid))
	assert.Equal(t, 1, book.Len(Ask))
}

func TestMarketOrderAgainstEmptyBookIsCanceled(t *testing.T) {
	book, rec := newTestBook()

	m := place(t, book, rec, Bid, 1000, 0, "m")

	assert.Equal(t, []string{"m canceled"}, rec.log)
	assert.False(t, m.Active())
	assert.True(t, m.IsMarket())
	assert.Equal(t, int64(1000), m.Remaining())
	assert.Equal(t, 0, book.Len(Bid))
	assert.Empty(t, rec.quotes)
}

func TestMarketOrderRemainderIsCanceled(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Bid, 40, 50, "b")
	rec.log = nil

	m := place(t, book, rec, Ask, 100, 0, "m")

	assert.Equal(t, []string{
		"trade 40@50", "quote bid 50 -40", "b fill 40@50", "m fill 40@50", "b filled",
		"m canceled",
	}, rec.log)
	assert.Equal(t, int64(60), m.Remaining())
	assert.Equal(t, 0, book.Len(Ask))
	assert.Equal(t, 0, book.Len(Bid))
}

func TestCancelEmitsQuoteAndCallback(t *testing.T) {
	book, rec := newTestBook()
	e := place(t, book, rec, Bid, 30, 10, "b")
	rec.log = nil

	require.NoError(t, e.Cancel(2))

	assert.Equal(t, []string{"quote bid 10 -30", "b canceled"}, rec.log)
	assert.False(t, e.Active())
	assert.Equal(t, 0, book.Len(Bid))
}

func TestCancelInactiveEntryIsInvalidState(t *testing.T) {
	book, rec := newTestBook()
	e := place(t, book, rec, Bid, 30, 10, "b")
	require.NoError(t, e.Cancel(2))

	err := e.Cancel(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrInvalidRequest))

	m := place(t, book, rec, Ask, 5, 0, "m")
	err = m.Cancel(4)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestCancelNonFrontEntryStaysUntilFront(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Ask, 10, 100, "a1")
	a2 := place(t, book, rec, Ask, 10, 100, "a2")
	place(t, book, rec, Ask, 10, 101, "a3")

	require.NoError(t, a2.Cancel(2))
	assert.Equal(t, 3, book.Len(Ask), "canceled entry behind an active one is kept lazily")

	place(t, book, rec, Bid, 10, 100, "b")
	assert.Equal(t, 1, book.Len(Ask), "front run of inactive entries is removed")
}

func TestCancelNonFrontEntryIsSkippedByAggressor(t *testing.T) {
	book, rec := newTestBook()
	a1 := place(t, book, rec, Ask, 10, 100, "a1")
	a2 := place(t, book, rec, Ask, 10, 100, "a2")
	a3 := place(t, book, rec, Ask, 10, 101, "a3")
	require.NoError(t, a2.Cancel(2))
	rec.log = nil

	b, err := book.Place(3, Bid, 25, 101, rec, "b")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"trade 10@100", "quote ask 100 -10", "a1 fill 10@100", "b fill 10@100", "a1 filled",
		"trade 10@101", "quote ask 101 -10", "a3 fill 10@101", "b fill 10@101", "a3 filled",
		"quote bid 101 +5",
	}, rec.log)
	assert.NotContains(t, rec.log, "a2 fill 10@100")
	assert.False(t, a1.Active())
	assert.False(t, a3.Active())
	assert.True(t, b.Active())
	assert.Equal(t, int64(5), b.Remaining())
	assert.Equal(t, 0, book.Len(Ask))
	assert.Equal(t, 1, book.Len(Bid))
}

func TestInvalidRequestsDoNotMutate(t *testing.T) {
	book, rec := newTestBook()
	cases := []struct {
		name  string
		side  Side
		qty   int64
		price int64
		cb    Callback
	}{
		{"zero quantity", Bid, 0, 10, rec},
		{"negative quantity", Ask, -5, 10, rec},
		{"negative price", Bid, 5, -1, rec},
		{"unknown side", Side(7), 5, 10, rec},
		{"nil callback", Bid, 5, 10, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := book.Place(1, tc.side, tc.qty, tc.price, tc.cb, nil)
			require.Error(t, err)
			assert.Nil(t, e)
			assert.True(t, errors.Is(err, ErrInvalidRequest))
		})
	}
	assert.Equal(t, uint64(0), book.LastSeq())
	assert.Empty(t, rec.log)
}

func TestSequenceNumbersAreMonotonic(t *testing.T) {
	book, rec := newTestBook()
	e1 := place(t, book, rec, Bid, 1, 10, "e1")
	e2 := place(t, book, rec, Bid, 1, 0, "e2")
	e3 := place(t, book, rec, Ask, 1, 11, "e3")

	assert.Equal(t, uint64(1), e1.Seq())
	assert.Equal(t, uint64(2), e2.Seq())
	assert.Equal(t, uint64(3), e3.Seq())
	assert.Equal(t, uint64(3), book.LastSeq())
}

func TestCallbackErrorIsReturnedAfterBookSettles(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Ask, 10, 100, "a")

	boom := errors.New("boom")
	_, err := book.Place(2, Bid, 10, 100, Funcs{
		Fill: func(any, int64, int64, int64) error { return boom },
	}, "b")

	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, book.Len(Ask))
	assert.Contains(t, rec.log, "a filled")
}

func TestMatchFailureCancelsAggressor(t *testing.T) {
	book, rec := newTestBook()
	a := place(t, book, rec, Ask, 10, 100, "a")
	// active with nothing left to fill
	a.remaining = 0
	rec.log = nil

	b, err := book.Place(2, Bid, 10, 100, rec, "b")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidState))
	require.NotNil(t, b)
	assert.False(t, b.Active())
	assert.Equal(t, []string{"b canceled"}, rec.log)
	assert.Equal(t, 0, book.Len(Bid))
}

func TestReentrantPlaceKeepsSingleEventOrder(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Ask, 10, 100, "a")

	var inner *Entry
	cb := Funcs{
		Filled: func(c any, ts int64) error {
			var err error
			inner, err = book.Place(ts, Ask, 3, 105, rec, "inner")
			return err
		},
	}
	_, err := book.Place(2, Bid, 10, 100, cb, "outer")
	require.NoError(t, err)

	require.NotNil(t, inner)
	assert.True(t, inner.Active())
	assert.Equal(t, "quote ask 105 +3", rec.log[len(rec.log)-1])
}

func TestWalkSkipsInactiveEntries(t *testing.T) {
	book, rec := newTestBook()
	place(t, book, rec, Bid, 1, 10, "b1")
	b2 := place(t, book, rec, Bid, 1, 9, "b2")
	place(t, book, rec, Bid, 1, 8, "b3")
	require.NoError(t, b2.Cancel(2))

	var seen []any
	book.Walk(Bid, func(e *Entry) bool {
		seen = append(seen, e.Closure())
		return true
	})
	assert.Equal(t, []any{"b1", "b3"}, seen)
}

func TestQuantityIsConserved(t *testing.T) {
	book, rec := newTestBook()
	rng := rand.New(rand.NewSource(7))

	var entries []*Entry
	for i := 0; i < 2000; i++ {
		side := Side(rng.Intn(2))
		price := int64(95 + rng.Intn(11))
		if rng.Intn(6) == 0 {
			price = 0
		}
		qty := int64(1 + rng.Intn(20))

		before := len(rec.trades)
		e, err := book.Place(int64(i), side, qty, price, rec, i)
		require.NoError(t, err)
		entries = append(entries, e)

		var traded int64
		for _, tr := range rec.trades[before:] {
			traded += tr.Quantity
			assert.Equal(t, e.Seq(), tr.TakerSeq)
		}
		assert.Equal(t, qty-e.Remaining(), traded)

		if rng.Intn(5) == 0 {
			victim := entries[rng.Intn(len(entries))]
			if victim.Active() {
				require.NoError(t, victim.Cancel(int64(i)))
			}
		}
	}

	// resting quantity reported through quotes equals what the book holds
	resting := map[Side]int64{}
	for _, q := range rec.quotes {
		resting[q.Side] += q.Delta
	}
	for _, side := range []Side{Bid, Ask} {
		var held int64
		book.Walk(side, func(e *Entry) bool {
			held += e.Remaining()
			return true
		})
		assert.Equal(t, held, resting[side], side.String())
	}

	if bid, ok := book.Best(Bid); ok {
		if ask, ok := book.Best(Ask); ok {
			assert.Less(t, bid.Price(), ask.Price(), "book must not stay crossed")
		}
	}
}
