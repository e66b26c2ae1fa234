package broadcaster

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"kestrel/infra/codec"
	"kestrel/infra/kafka"
	"kestrel/infra/logging"
	"kestrel/infra/metrics"
	exitwal "kestrel/infra/wal/exit"
)

// Outbox is the part of the exit WAL the broadcaster drives.
type Outbox interface {
	ScanStates(states []exitwal.State, limit int, fn func(exitwal.Record) error) error
	Mark(seq uint64, state exitwal.State, retries uint32) error
	DeleteAcked() (int, error)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries parks a record as FAILED once reached. Zero retries
	// forever.
	MaxRetries uint32
	// CleanupEvery deletes ACKED records every n polls.
	CleanupEvery int
}

// Broadcaster publishes outbox records in sequence order. A record is
// marked SENT before publishing and ACKED after the broker confirms, so
// a crash in between republishes it: delivery is at-least-once.
type Broadcaster struct {
	outbox    Outbox
	publisher kafka.Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cfg       Config

	polls int
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

func New(outbox Outbox, publisher kafka.Publisher, logger *zap.Logger, m *metrics.Metrics, cfg Config) *Broadcaster {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 512
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = 40
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Broadcaster{
		outbox:    outbox,
		publisher: publisher,
		logger:    logging.OrNop(logger).Named("broadcaster"),
		metrics:   m,
		cfg:       cfg,
	}
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("started", zap.Duration("poll_interval", b.cfg.PollInterval))

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopped")
			return nil
		case <-ticker.C:
			if _, err := b.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("publish round failed", zap.Error(err))
			}
		}
	}
}

var errStopRound = errors.New("stop round")

// PublishOnce publishes one batch. It stops at the first failure so
// records of a symbol never overtake each other.
func (b *Broadcaster) PublishOnce(ctx context.Context) (int, error) {
	published, pending := 0, 0
	var failure error

	err := b.outbox.ScanStates(
		[]exitwal.State{exitwal.StateNew, exitwal.StateSent, exitwal.StateFailed},
		b.cfg.BatchSize,
		func(rec exitwal.Record) error {
			if rec.State == exitwal.StateFailed && b.cfg.MaxRetries > 0 && rec.Retries >= b.cfg.MaxRetries {
				return nil
			}
			pending++

			// 1️⃣ Mark SENT (idempotent)
			if err := b.outbox.Mark(rec.Seq, exitwal.StateSent, rec.Retries); err != nil {
				return err
			}

			// 2️⃣ Publish
			if err := b.publish(ctx, rec); err != nil {
				b.metrics.OutboxPublished.WithLabelValues("failed").Inc()
				retries := rec.Retries + 1
				if markErr := b.outbox.Mark(rec.Seq, exitwal.StateFailed, retries); markErr != nil {
					return errors.CombineErrors(err, markErr)
				}
				if b.cfg.MaxRetries > 0 && retries >= b.cfg.MaxRetries {
					b.logger.Error("record parked after max retries",
						zap.Uint64("seq", rec.Seq), zap.Uint32("retries", retries), zap.Error(err))
					return nil
				}
				failure = errors.Wrapf(err, "publish seq %d", rec.Seq)
				return errStopRound
			}

			// 3️⃣ Mark ACKED
			if err := b.outbox.Mark(rec.Seq, exitwal.StateAcked, rec.Retries); err != nil {
				return err
			}
			b.metrics.OutboxPublished.WithLabelValues("ok").Inc()
			published++
			return nil
		})
	b.metrics.OutboxPending.Set(float64(pending - published))
	if errors.Is(err, errStopRound) {
		err = failure
	}

	b.polls++
	if b.polls%b.cfg.CleanupEvery == 0 {
		if n, cerr := b.outbox.DeleteAcked(); cerr != nil {
			b.logger.Warn("outbox cleanup failed", zap.Error(cerr))
		} else if n > 0 {
			b.logger.Debug("outbox cleaned", zap.Int("deleted", n))
		}
	}
	return published, err
}

// publish keys every message by symbol so a partition keeps one
// symbol's events in order.
func (b *Broadcaster) publish(ctx context.Context, rec exitwal.Record) error {
	var ev codec.Event
	if err := ev.Unmarshal(rec.Payload); err != nil {
		return err
	}
	return b.publisher.Publish(ctx, []byte(ev.Symbol), rec.Payload)
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
