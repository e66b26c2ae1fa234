package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"kestrel/domain/exchange"
	"kestrel/domain/orderbook"
	"kestrel/infra/metrics"
)

func newTestHost(t *testing.T, opts ...HostOption) *Host {
	t.Helper()
	h := NewHost(zaptest.NewLogger(t), opts...)
	t.Cleanup(h.Close)
	return h
}

func TestHostRunsTasksInSubmissionOrder(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.AddSymbol("BTC-USD"))

	var seen []string
	for _, name := range []string{"A", "B", "C"} {
		name := name
		require.NoError(t, h.Submit(context.Background(), "BTC-USD", func(context.Context, *exchange.Exchange) error {
			seen = append(seen, name)
			return nil
		}))
	}
	require.NoError(t, h.Do(context.Background(), "BTC-USD", func(context.Context, *exchange.Exchange) error {
		seen = append(seen, "done")
		return nil
	}))
	assert.Equal(t, []string{"A", "B", "C", "done"}, seen)
}

func TestHostSymbolsDoNotBlockEachOther(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.AddSymbol("SLOW"))
	require.NoError(t, h.AddSymbol("FAST"))

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, h.Submit(context.Background(), "SLOW", func(context.Context, *exchange.Exchange) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Do(ctx, "FAST", func(context.Context, *exchange.Exchange) error { return nil }))

	close(release)
	require.NoError(t, h.Do(ctx, "SLOW", func(context.Context, *exchange.Exchange) error { return nil }))
}

func TestHostIsolatesFailingAndPanickingTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	h := newTestHost(t, WithMetrics(m))
	require.NoError(t, h.AddSymbol("X"))
	ctx := context.Background()

	boom := errors.New("boom")
	err := h.Do(ctx, "X", func(context.Context, *exchange.Exchange) error { return boom })
	assert.True(t, errors.Is(err, boom))

	err = h.Do(ctx, "X", func(context.Context, *exchange.Exchange) error { panic("bad task") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad task")

	ran := false
	require.NoError(t, h.Do(ctx, "X", func(context.Context, *exchange.Exchange) error {
		ran = true
		return nil
	}))
	assert.True(t, ran, "worker keeps running after a panic")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("X", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("X", "panic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tasks.WithLabelValues("X", "ok")))
}

func TestHostRemoveDropsQueuedTasks(t *testing.T) {
	h := newTestHost(t)
	require.NoError(t, h.AddSymbol("X"))
	ctx := context.Background()

	started := make(chan struct{})
	require.NoError(t, h.Submit(ctx, "X", func(ctx context.Context, _ *exchange.Exchange) error {
		close(started)
		<-ctx.Done()
		return nil
	}))
	<-started

	var mu sync.Mutex
	ran := false
	require.NoError(t, h.Submit(ctx, "X", func(context.Context, *exchange.Exchange) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}))
	p, err := h.enqueue(ctx, "X", func(context.Context, *exchange.Exchange) error { return nil }, true)
	require.NoError(t, err)

	require.NoError(t, h.RemoveSymbol("X"))
	assert.True(t, errors.Is(p.wait(ctx), ErrSymbolStopped))

	mu.Lock()
	assert.False(t, ran)
	mu.Unlock()

	assert.True(t, errors.Is(h.Submit(ctx, "X", func(context.Context, *exchange.Exchange) error { return nil }), ErrSymbolNotFound))
	assert.True(t, errors.Is(h.RemoveSymbol("X"), ErrSymbolNotFound))
}

func TestHostSubmitHonoursContextWhenQueueIsFull(t *testing.T) {
	h := newTestHost(t, WithQueueSize(1))
	require.NoError(t, h.AddSymbol("X"))

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, h.Submit(context.Background(), "X", func(context.Context, *exchange.Exchange) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, h.Submit(context.Background(), "X", func(context.Context, *exchange.Exchange) error { return nil }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.Submit(ctx, "X", func(context.Context, *exchange.Exchange) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHostRegistry(t *testing.T) {
	h := NewHost(nil)
	require.NoError(t, h.AddSymbol("ETH-USD"))
	require.NoError(t, h.AddSymbol("BTC-USD"))
	assert.True(t, errors.Is(h.AddSymbol("BTC-USD"), ErrSymbolExists))
	assert.True(t, errors.Is(h.AddSymbol(""), orderbook.ErrInvalidRequest))
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, h.Symbols())

	ex, err := h.Exchange("BTC-USD")
	require.NoError(t, err)
	assert.NotNil(t, ex)
	_, err = h.Exchange("DOGE")
	assert.True(t, errors.Is(err, ErrSymbolNotFound))

	h.Close()
	h.Close()
	assert.True(t, errors.Is(h.AddSymbol("SOL"), ErrHostClosed))
	assert.True(t, errors.Is(h.Do(context.Background(), "BTC-USD", func(context.Context, *exchange.Exchange) error { return nil }), ErrHostClosed))
}

type tradeCounter struct {
	trades []orderbook.Trade
}

func (c *tradeCounter) OnTrade(tr orderbook.Trade) error {
	c.trades = append(c.trades, tr)
	return nil
}

func (c *tradeCounter) OnQuote(orderbook.Quote) error { return nil }

func TestHostAttachesListeners(t *testing.T) {
	counters := map[string]*tradeCounter{}
	h := newTestHost(t, WithListeners(func(symbol string) []orderbook.Listener {
		c := &tradeCounter{}
		counters[symbol] = c
		return []orderbook.Listener{c}
	}))
	require.NoError(t, h.AddSymbol("X"))

	require.NoError(t, h.Do(context.Background(), "X", func(_ context.Context, ex *exchange.Exchange) error {
		if _, err := ex.CreateLimitOrder(1, orderbook.Ask, 5, 100, exchange.Day, orderbook.Funcs{}, nil); err != nil {
			return err
		}
		_, err := ex.CreateMarketOrder(2, orderbook.Bid, 5, orderbook.Funcs{}, nil)
		return err
	}))
	require.Len(t, counters["X"].trades, 1)
	assert.Equal(t, int64(100), counters["X"].trades[0].Price)
}
