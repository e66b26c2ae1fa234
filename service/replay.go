package service

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kestrel/domain/exchange"
	"kestrel/domain/orderbook"
	"kestrel/infra/codec"
	entrywal "kestrel/infra/wal/entry"
	"kestrel/snapshot"
)

/*
Recover rebuilds in-memory state from the latest snapshot and the
entry WAL.

IMPORTANT:
- This MUST run before accepting traffic
- Records at or below the snapshot sequence are skipped
- The outbox is NOT replayed; the recorder is muted meanwhile
*/
func (s *OrderService) Recover(ctx context.Context, snap *snapshot.Snapshot, walDir string) error {
	if s.recorder != nil {
		s.recorder.Mute(true)
		defer s.recorder.Mute(false)
	}

	var after uint64
	if snap != nil {
		if err := s.RestoreSnapshot(ctx, snap); err != nil {
			return err
		}
		after = snap.Seq
	}

	last, err := s.ReplayFromWAL(ctx, walDir, after)
	if err != nil {
		return err
	}
	s.seq.Advance(max(last, after))
	return nil
}

// RestoreSnapshot re-creates every book in snap.
func (s *OrderService) RestoreSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	for _, b := range snap.Books {
		if !s.host.HasSymbol(b.Symbol) {
			if err := s.host.AddSymbol(b.Symbol); err != nil {
				return err
			}
		}
		book := b
		err := s.host.Do(ctx, book.Symbol, func(_ context.Context, ex *exchange.Exchange) error {
			for _, o := range book.Orders {
				_, err := ex.Restore(exchange.Resting{
					ID:          o.ID,
					Side:        orderbook.Side(o.Side),
					TimeInForce: exchange.TimeInForce(o.TimeInForce),
					Price:       o.Price,
					Quantity:    o.Quantity,
					Remaining:   o.Remaining,
					Filled:      o.Filled,
					Value:       o.Value,
					Timestamp:   o.Timestamp,
				}, s.orderEvents(book.Symbol, o.ID), book.Symbol)
				if err != nil {
					return errors.Wrapf(err, "restore %s order %s", book.Symbol, o.ID)
				}
			}
			if book.LastTradeTime != 0 || book.LastTradeQuantity != 0 {
				ex.Tracker().ApplyTrade(book.LastTradePrice, book.LastTradeQuantity, book.LastTradeTime)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	s.seq.Advance(snap.Seq)
	if s.recorder != nil {
		s.recorder.Sequencer().Advance(snap.EventSeq)
	}
	s.logger.Info("snapshot restored",
		zap.Uint64("seq", snap.Seq),
		zap.Int("books", len(snap.Books)))
	return nil
}

// ReplayFromWAL applies journaled commands newer than after without
// journaling them again. A command that failed when it was first run
// fails the same way here and is skipped.
func (s *OrderService) ReplayFromWAL(ctx context.Context, walDir string, after uint64) (uint64, error) {
	applied, skipped := 0, 0
	lastSeq, err := entrywal.Replay(walDir, func(rec *entrywal.Record) error {
		if rec.Seq <= after {
			return nil
		}
		var cmd codec.Command
		if err := cmd.Unmarshal(rec.Data); err != nil {
			return errors.Wrapf(err, "wal seq %d", rec.Seq)
		}
		if err := s.apply(ctx, rec.Type, cmd); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			skipped++
			s.logger.Debug("replayed command failed",
				zap.Uint64("seq", rec.Seq),
				zap.Stringer("type", rec.Type),
				zap.Error(err))
			return nil
		}
		applied++
		return nil
	})
	if err != nil {
		return lastSeq, err
	}

	s.logger.Info("WAL replay completed",
		zap.Uint64("last_seq", lastSeq),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped))
	return lastSeq, nil
}

func (s *OrderService) apply(ctx context.Context, typ entrywal.RecordType, cmd codec.Command) error {
	switch typ {
	case entrywal.RecordAddSymbol:
		return s.host.AddSymbol(cmd.Symbol)
	case entrywal.RecordRemoveSymbol:
		return s.host.RemoveSymbol(cmd.Symbol)
	case entrywal.RecordCancel:
		return s.host.Do(ctx, cmd.Symbol, func(_ context.Context, ex *exchange.Exchange) error {
			return ex.CancelOrder(cmd.OrderID, cmd.Timestamp)
		})
	case entrywal.RecordPlace:
		kind := exchange.Kind(cmd.OrderKind)
		details, err := detailsFor(kind, cmd.Price, exchange.TimeInForce(cmd.TimeInForce))
		if err != nil {
			return err
		}
		id := cmd.OrderID
		if id == uuid.Nil {
			return errors.Wrap(orderbook.ErrInvalidRequest, "replayed place without order id")
		}
		return s.host.Do(ctx, cmd.Symbol, func(_ context.Context, ex *exchange.Exchange) error {
			_, err := s.place(ex, cmd.Symbol, id, cmd.Timestamp, orderbook.Side(cmd.Side), cmd.Quantity, details)
			return err
		})
	default:
		return errors.Newf("unknown record type %s", typ)
	}
}
