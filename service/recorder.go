package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"kestrel/domain/orderbook"
	"kestrel/infra/codec"
	"kestrel/infra/logging"
	"kestrel/infra/metrics"
	"kestrel/infra/sequence"
	exitwal "kestrel/infra/wal/exit"
)

// EventStore is the durable side of the recorder.
type EventStore interface {
	PutBatch([]exitwal.Record) error
}

// EventSink receives every recorded event after it is stored.
type EventSink func(codec.Event)

type RecorderOption func(*Recorder)

func WithEventStore(s EventStore) RecorderOption {
	return func(r *Recorder) { r.store = s }
}

func WithEventSink(s EventSink) RecorderOption {
	return func(r *Recorder) { r.sinks = append(r.sinks, s) }
}

func WithRecorderMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

func WithEventBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// Recorder turns book trades and quotes into sequenced events. The
// listeners only hand events to a channel; Run does the I/O on its own
// goroutine.
type Recorder struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	seq     *sequence.Sequencer
	store   EventStore
	sinks   []EventSink
	buffer  int

	events chan codec.Event
	muted  atomic.Bool

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewRecorder(logger *zap.Logger, seq *sequence.Sequencer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		logger:  logging.OrNop(logger).Named("recorder"),
		seq:     seq,
		buffer:  4096,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.Discard()
	}
	r.events = make(chan codec.Event, r.buffer)
	return r
}

// Listener returns the book listener for symbol.
func (r *Recorder) Listener(symbol string) orderbook.Listener {
	return &symbolRecorder{r: r, symbol: symbol}
}

// Mute drops events while set. Recovery mutes the recorder so replayed
// commands do not publish twice.
func (r *Recorder) Mute(muted bool) {
	r.muted.Store(muted)
}

func (r *Recorder) Sequencer() *sequence.Sequencer {
	return r.seq
}

func (r *Recorder) emit(ev codec.Event) {
	if r.muted.Load() {
		return
	}
	ev.Seq = r.seq.Next()
	select {
	case r.events <- ev:
	case <-r.stopped:
		r.logger.Warn("event dropped after stop", zap.Uint64("seq", ev.Seq), zap.String("symbol", ev.Symbol))
	}
}

// Run stores and fans out events until ctx is done, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.stopped) })

	batch := make([]codec.Event, 0, 256)
	for {
		select {
		case <-ctx.Done():
			for {
				batch = r.collect(batch[:0])
				if len(batch) == 0 {
					return nil
				}
				r.flush(batch)
			}
		case ev := <-r.events:
			batch = append(batch[:0], ev)
			batch = r.collect(batch)
			r.flush(batch)
		}
	}
}

// collect appends queued events without blocking.
func (r *Recorder) collect(batch []codec.Event) []codec.Event {
	for len(batch) < cap(batch) {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (r *Recorder) flush(batch []codec.Event) {
	if r.store != nil {
		recs := make([]exitwal.Record, len(batch))
		for i := range batch {
			recs[i] = exitwal.Record{Seq: batch[i].Seq, Payload: batch[i].Marshal()}
		}
		if err := r.store.PutBatch(recs); err != nil {
			r.logger.Error("outbox write failed",
				zap.Uint64("first_seq", batch[0].Seq),
				zap.Int("events", len(batch)),
				zap.Error(err))
		}
	}
	for _, ev := range batch {
		for _, sink := range r.sinks {
			sink(ev)
		}
	}
}

type symbolRecorder struct {
	r      *Recorder
	symbol string
}

func (s *symbolRecorder) OnTrade(t orderbook.Trade) error {
	if !s.r.muted.Load() {
		s.r.metrics.Trade(s.symbol, t.Quantity)
	}
	s.r.emit(codec.Event{
		Kind:      codec.EventTrade,
		Symbol:    s.symbol,
		Timestamp: t.Timestamp,
		Side:      uint8(t.TakerSide),
		Price:     t.Price,
		Quantity:  t.Quantity,
		MakerSeq:  t.MakerSeq,
		TakerSeq:  t.TakerSeq,
	})
	return nil
}

func (s *symbolRecorder) OnQuote(q orderbook.Quote) error {
	s.r.emit(codec.Event{
		Kind:      codec.EventQuote,
		Symbol:    s.symbol,
		Timestamp: q.Timestamp,
		Side:      uint8(q.Side),
		Price:     q.Price,
		Quantity:  q.Delta,
	})
	return nil
}
