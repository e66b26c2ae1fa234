package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kestrel/api/grpcserver"
	"kestrel/api/stream"
	"kestrel/config"
	"kestrel/domain/orderbook"
	"kestrel/infra/codec"
	"kestrel/infra/kafka"
	"kestrel/infra/logging"
	"kestrel/infra/metrics"
	"kestrel/infra/sequence"
	entrywal "kestrel/infra/wal/entry"
	exitwal "kestrel/infra/wal/exit"
	"kestrel/jobs/broadcaster"
	"kestrel/service"
	"kestrel/snapshot"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("engine exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---------------- Entry WAL ----------------

	entryWAL, err := entrywal.Open(entrywal.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SegmentDuration: cfg.WAL.SegmentDuration,
		SyncEveryWrite:  cfg.WAL.Sync,
	})
	if err != nil {
		return errors.Wrap(err, "entry wal")
	}
	defer entryWAL.Close()

	// ---------------- Exit WAL ----------------

	outbox, err := exitwal.Open(cfg.Outbox.Dir, exitwal.WithSync(cfg.Outbox.Sync))
	if err != nil {
		return errors.Wrap(err, "outbox")
	}
	defer outbox.Close()

	// ---------------- Snapshot ----------------

	snap, err := snapshot.LoadLatest(cfg.Snapshot.Dir)
	if err != nil {
		return errors.Wrap(err, "load snapshot")
	}

	// ---------------- Sequencers ----------------

	lastEvent, err := outbox.LastSeq()
	if err != nil {
		return errors.Wrap(err, "outbox last seq")
	}
	if snap != nil {
		lastEvent = max(lastEvent, snap.EventSeq)
	}
	eventSeq := sequence.New(lastEvent)

	// ---------------- Service ----------------

	// hub is set before the recorder runs; recovery is muted
	var hub *stream.Server
	recorder := service.NewRecorder(logger, eventSeq,
		service.WithEventStore(outbox),
		service.WithEventSink(func(ev codec.Event) { hub.Publish(ev) }),
		service.WithRecorderMetrics(m),
	)

	host := service.NewHost(logger,
		service.WithQueueSize(cfg.Engine.QueueSize),
		service.WithMetrics(m),
		service.WithListeners(func(symbol string) []orderbook.Listener {
			return []orderbook.Listener{recorder.Listener(symbol)}
		}),
	)
	defer host.Close()

	svc := service.NewOrderService(logger, host,
		service.WithJournal(entryWAL),
		service.WithRecorder(recorder),
		service.WithServiceMetrics(m),
	)
	hub = stream.NewServer(svc, reg, logger)

	// ---------------- Recovery ----------------

	start := time.Now()
	if err := svc.Recover(context.Background(), snap, cfg.WAL.Dir); err != nil {
		return errors.Wrap(err, "recover")
	}
	for _, symbol := range cfg.Engine.Symbols {
		if host.HasSymbol(symbol) {
			continue
		}
		if err := svc.AddSymbol(symbol); err != nil {
			return errors.Wrapf(err, "add symbol %s", symbol)
		}
	}
	logger.Info("recovered",
		zap.Uint64("seq", svc.Sequencer().Current()),
		zap.Uint64("event_seq", eventSeq.Current()),
		zap.Strings("symbols", svc.Symbols()),
		zap.Duration("took", time.Since(start)))

	// ---------------- Event pipeline ----------------

	// the pipeline outlives the servers so in-flight requests still
	// record their events during shutdown
	pipeCtx, stopPipe := context.WithCancel(context.Background())
	pipe, pipeCtx := errgroup.WithContext(pipeCtx)
	pipe.Go(func() error { return recorder.Run(pipeCtx) })

	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(cfg.Kafka.Driver, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			stopPipe()
			_ = pipe.Wait()
			return errors.Wrap(err, "kafka publisher")
		}
		bc := broadcaster.New(outbox, pub, logger, m, broadcaster.Config{
			PollInterval: cfg.Kafka.PollInterval,
			BatchSize:    cfg.Kafka.BatchSize,
			MaxRetries:   cfg.Kafka.MaxRetries,
		})
		defer bc.Close()
		pipe.Go(func() error { return bc.Run(pipeCtx) })
	}

	// ---------------- Servers ----------------

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	job := svc.NewSnapshotJob(&snapshot.Writer{Dir: cfg.Snapshot.Dir, Keep: 3}, entryWAL, cfg.Snapshot.Interval, cfg.Snapshot.Depth)
	g.Go(func() error { return job.Run(ctx) })

	grpcSrv := grpcserver.NewGRPCServer(grpcserver.NewServer(svc, logger))
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
		}
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		return grpcSrv.Serve(lis)
	})

	httpSrv := &http.Server{Addr: cfg.HTTP.Addr, Handler: hub.Routes(), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		grpcSrv.GracefulStop()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// final snapshot so the next start replays as little as possible
	if _, serr := job.RunOnce(context.Background()); serr != nil {
		logger.Warn("final snapshot failed", zap.Error(serr))
	}
	stopPipe()
	return errors.CombineErrors(err, pipe.Wait())
}
