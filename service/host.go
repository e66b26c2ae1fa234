package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"kestrel/domain/depth"
	"kestrel/domain/exchange"
	"kestrel/domain/orderbook"
	"kestrel/infra/logging"
	"kestrel/infra/metrics"
)

var (
	ErrSymbolExists   = errors.New("symbol already hosted")
	ErrSymbolNotFound = errors.New("symbol not hosted")
	ErrSymbolStopped  = errors.New("symbol worker stopped")
	ErrHostClosed     = errors.New("host closed")
)

// Task runs on a symbol's worker and has exclusive use of its exchange.
type Task func(ctx context.Context, ex *exchange.Exchange) error

// ListenerFactory supplies extra book listeners for a new symbol.
type ListenerFactory func(symbol string) []orderbook.Listener

type HostOption func(*Host)

func WithQueueSize(n int) HostOption {
	return func(h *Host) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) HostOption {
	return func(h *Host) {
		if m != nil {
			h.metrics = m
		}
	}
}

func WithListeners(f ListenerFactory) HostOption {
	return func(h *Host) {
		h.listeners = f
	}
}

func WithExchangeOptions(opts ...exchange.Option) HostOption {
	return func(h *Host) {
		h.exchangeOpts = append(h.exchangeOpts, opts...)
	}
}

// Host owns one book and exchange per symbol. Every operation on a
// symbol runs on that symbol's worker goroutine, in submission order, so
// the domain types need no locks.
type Host struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	queueSize int

	listeners    ListenerFactory
	exchangeOpts []exchange.Option

	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool
}

func NewHost(logger *zap.Logger, opts ...HostOption) *Host {
	h := &Host{
		logger:    logging.OrNop(logger).Named("host"),
		queueSize: 1024,
		workers:   make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = metrics.Discard()
	}
	return h
}

func (h *Host) AddSymbol(symbol string) error {
	if symbol == "" {
		return errors.Wrap(orderbook.ErrInvalidRequest, "empty symbol")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHostClosed
	}
	if _, ok := h.workers[symbol]; ok {
		return errors.Wrapf(ErrSymbolExists, "%s", symbol)
	}

	book := orderbook.New()
	ex := exchange.New(book, depth.New(), h.exchangeOpts...)
	if h.listeners != nil {
		for _, l := range h.listeners(symbol) {
			book.AddListener(l)
		}
	}

	w := newWorker(symbol, ex, h.queueSize, h.logger.With(zap.String("symbol", symbol)), h.metrics)
	h.workers[symbol] = w
	go w.run()

	h.logger.Info("symbol added", zap.String("symbol", symbol))
	return nil
}

// RemoveSymbol stops the worker. Queued tasks are dropped and waiters
// get ErrSymbolStopped. It must not be called from a task of the same
// symbol.
func (h *Host) RemoveSymbol(symbol string) error {
	h.mu.Lock()
	w, ok := h.workers[symbol]
	if ok {
		delete(h.workers, symbol)
	}
	h.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrSymbolNotFound, "%s", symbol)
	}

	w.stop()
	h.metrics.Forget(symbol)
	h.logger.Info("symbol removed", zap.String("symbol", symbol))
	return nil
}

func (h *Host) Symbols() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.workers))
	for s := range h.workers {
		out = append(out, s)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (h *Host) HasSymbol(symbol string) bool {
	h.mu.RLock()
	_, ok := h.workers[symbol]
	h.mu.RUnlock()
	return ok
}

// Exchange returns the symbol's exchange. It may only be used from a
// task running on that symbol, or before any task has been submitted.
func (h *Host) Exchange(symbol string) (*exchange.Exchange, error) {
	w, err := h.worker(symbol)
	if err != nil {
		return nil, err
	}
	return w.ex, nil
}

// Submit enqueues task and returns once it is queued. Its error is only
// logged.
func (h *Host) Submit(ctx context.Context, symbol string, task Task) error {
	_, err := h.enqueue(ctx, symbol, task, false)
	return err
}

// Do enqueues task and waits for its result.
func (h *Host) Do(ctx context.Context, symbol string, task Task) error {
	p, err := h.enqueue(ctx, symbol, task, true)
	if err != nil {
		return err
	}
	return p.wait(ctx)
}

// enqueue returns a pending result when wait is set. Callers that need
// several submissions to land in a fixed order enqueue under their own
// lock and wait outside it.
func (h *Host) enqueue(ctx context.Context, symbol string, task Task, wait bool) (*pending, error) {
	if task == nil {
		return nil, errors.Wrap(orderbook.ErrInvalidRequest, "nil task")
	}
	w, err := h.worker(symbol)
	if err != nil {
		return nil, err
	}

	j := job{task: task}
	var p *pending
	if wait {
		j.result = make(chan error, 1)
		p = &pending{result: j.result, done: w.done}
	}

	select {
	case w.tasks <- j:
		w.metrics.QueueDepth.WithLabelValues(symbol).Set(float64(len(w.tasks)))
		return p, nil
	case <-w.ctx.Done():
		return nil, errors.Wrapf(ErrSymbolStopped, "%s", symbol)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Host) worker(symbol string) (*worker, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	w, ok := h.workers[symbol]
	if !ok {
		return nil, errors.Wrapf(ErrSymbolNotFound, "%s", symbol)
	}
	return w, nil
}

// Close stops every worker and waits for them to exit.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	workers := h.workers
	h.workers = make(map[string]*worker)
	h.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	for _, w := range workers {
		<-w.done
	}
	h.logger.Info("host closed", zap.Int("symbols", len(workers)))
}

// -------------------- worker --------------------

type job struct {
	task   Task
	result chan error
}

type pending struct {
	result chan error
	done   <-chan struct{}
}

func (p *pending) wait(ctx context.Context) error {
	select {
	case err := <-p.result:
		return err
	case <-p.done:
		// the worker may have finished this job just before exiting
		select {
		case err := <-p.result:
			return err
		default:
			return ErrSymbolStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type worker struct {
	symbol  string
	ex      *exchange.Exchange
	tasks   chan job
	logger  *zap.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newWorker(symbol string, ex *exchange.Exchange, queueSize int, logger *zap.Logger, m *metrics.Metrics) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &worker{
		symbol:  symbol,
		ex:      ex,
		tasks:   make(chan job, queueSize),
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (w *worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case j := <-w.tasks:
			if w.ctx.Err() != nil {
				return
			}
			w.execute(j)
		}
	}
}

func (w *worker) execute(j job) {
	start := time.Now()
	panicked, err := w.call(j.task)

	result := "ok"
	switch {
	case panicked:
		result = "panic"
		w.logger.Error("task panicked", zap.Error(err))
	case err != nil:
		result = "error"
		w.logger.Warn("task failed", zap.Error(err))
	}
	w.metrics.ObserveTask(w.symbol, result, time.Since(start))
	w.metrics.QueueDepth.WithLabelValues(w.symbol).Set(float64(len(w.tasks)))

	if j.result != nil {
		j.result <- err
	}
}

func (w *worker) call(task Task) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("task panicked: %s", fmt.Sprint(r))
			panicked = true
		}
	}()
	return false, task(w.ctx, w.ex)
}

func (w *worker) stop() {
	w.cancel()
	<-w.done
}
