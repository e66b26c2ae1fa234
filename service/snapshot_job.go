package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kestrel/domain/exchange"
	"kestrel/domain/orderbook"
	"kestrel/snapshot"
)

// Truncater drops journal records already covered by a snapshot.
type Truncater interface {
	TruncateBefore(seq uint64) (int, error)
}

type SnapshotJob struct {
	svc      *OrderService
	writer   *snapshot.Writer
	wal      Truncater
	interval time.Duration
	depth    int
}

// NewSnapshotJob writes snapshots every interval. wal may be nil. depth
// limits the stored levels per side; zero stores all.
func (s *OrderService) NewSnapshotJob(writer *snapshot.Writer, wal Truncater, interval time.Duration, depth int) *SnapshotJob {
	return &SnapshotJob{svc: s, writer: writer, wal: wal, interval: interval, depth: depth}
}

func (j *SnapshotJob) Run(ctx context.Context) error {
	if j.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
				j.svc.logger.Warn("snapshot failed", zap.Error(err))
			}
		}
	}
}

// RunOnce writes one snapshot and truncates the journal behind it.
func (j *SnapshotJob) RunOnce(ctx context.Context) (*snapshot.Snapshot, error) {
	snap, err := j.svc.Capture(ctx, j.depth)
	if err != nil {
		return nil, err
	}
	path, err := j.writer.Write(snap)
	if err != nil {
		return nil, err
	}

	removed := 0
	if j.wal != nil {
		if removed, err = j.wal.TruncateBefore(snap.Seq); err != nil {
			j.svc.logger.Warn("wal truncation failed", zap.Uint64("seq", snap.Seq), zap.Error(err))
		}
	}
	j.svc.logger.Info("snapshot written",
		zap.String("path", path),
		zap.Uint64("seq", snap.Seq),
		zap.Int("segments_removed", removed))
	return snap, nil
}

// Capture copies every book at one journal position. Capture tasks are
// queued under the journal lock, so each book reflects exactly the
// commands up to the returned sequence.
func (s *OrderService) Capture(ctx context.Context, depth int) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	seq := s.seq.Current()
	symbols := s.host.Symbols()
	books := make([]snapshot.Book, len(symbols))
	waits := make([]*pending, 0, len(symbols))
	for i, symbol := range symbols {
		b := &books[i]
		b.Symbol = symbol
		p, err := s.host.enqueue(ctx, symbol, func(_ context.Context, ex *exchange.Exchange) error {
			captureBook(ex, b, depth)
			return nil
		}, true)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		waits = append(waits, p)
	}
	s.mu.Unlock()

	for _, p := range waits {
		if err := p.wait(ctx); err != nil {
			return nil, err
		}
	}

	snap := &snapshot.Snapshot{Seq: seq, Created: time.Now(), Books: books}
	if s.recorder != nil {
		snap.EventSeq = s.recorder.Sequencer().Current()
	}
	return snap, nil
}

func captureBook(ex *exchange.Exchange, b *snapshot.Book, depth int) {
	for _, r := range ex.RestingOrders() {
		b.Orders = append(b.Orders, snapshot.OrderEntry{
			ID:          r.ID,
			Side:        int8(r.Side),
			TimeInForce: uint8(r.TimeInForce),
			Price:       r.Price,
			Quantity:    r.Quantity,
			Remaining:   r.Remaining,
			Filled:      r.Filled,
			Value:       r.Value,
			Timestamp:   r.Timestamp,
		})
	}
	t := ex.Tracker()
	for _, l := range t.Levels(orderbook.Bid, depth) {
		b.Bids = append(b.Bids, snapshot.Level{Price: l.Price, Quantity: l.Quantity})
	}
	for _, l := range t.Levels(orderbook.Ask, depth) {
		b.Asks = append(b.Asks, snapshot.Level{Price: l.Price, Quantity: l.Quantity})
	}
	if lt := t.LastTrade(); lt.Valid {
		b.LastTradePrice = lt.Price
		b.LastTradeQuantity = lt.Quantity
		b.LastTradeTime = lt.Timestamp
	}
}
