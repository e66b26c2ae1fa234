package service

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"kestrel/domain/depth"
	"kestrel/domain/exchange"
	"kestrel/domain/orderbook"
	"kestrel/infra/codec"
	"kestrel/infra/logging"
	"kestrel/infra/metrics"
	"kestrel/infra/sequence"
	entrywal "kestrel/infra/wal/entry"
)

// Journal is where commands are written before they run.
type Journal interface {
	Append(*entrywal.Record) error
}

/*
OrderService is the ONLY write entry point into the engine.

Every command is given a sequence, journaled, and queued on its
symbol's worker while holding one lock, so the journal order is the
execution order on every symbol. Replaying the journal therefore
rebuilds the same books and the same order ids.
*/
type OrderService struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	host     *Host
	seq      *sequence.Sequencer
	journal  Journal
	recorder *Recorder

	// mu orders sequence, journal and queue.
	mu sync.Mutex
}

type ServiceOption func(*OrderService)

func WithJournal(j Journal) ServiceOption {
	return func(s *OrderService) { s.journal = j }
}

func WithSequencer(seq *sequence.Sequencer) ServiceOption {
	return func(s *OrderService) { s.seq = seq }
}

func WithRecorder(r *Recorder) ServiceOption {
	return func(s *OrderService) { s.recorder = r }
}

func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *OrderService) { s.metrics = m }
}

func NewOrderService(logger *zap.Logger, host *Host, opts ...ServiceOption) *OrderService {
	s := &OrderService{
		logger: logging.OrNop(logger).Named("orders"),
		host:   host,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seq == nil {
		s.seq = sequence.New(0)
	}
	if s.metrics == nil {
		s.metrics = metrics.Discard()
	}
	return s
}

func (s *OrderService) Host() *Host                    { return s.host }
func (s *OrderService) Sequencer() *sequence.Sequencer { return s.seq }

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

type PlaceRequest struct {
	Symbol string
	// OrderID is generated when zero.
	OrderID     uuid.UUID
	Side        orderbook.Side
	Kind        exchange.Kind
	TimeInForce exchange.TimeInForce
	Price       int64
	Quantity    int64
	Timestamp   int64
}

type PlaceResult struct {
	OrderID   uuid.UUID
	State     exchange.State
	Filled    int64
	Value     int64
	Remaining int64
}

// PlaceOrder runs one order request on its symbol's worker and reports
// the order's state once the request has been fully applied.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceRequest) (PlaceResult, error) {
	if req.OrderID == uuid.Nil {
		req.OrderID = uuid.New()
	}
	details, err := detailsFor(req.Kind, req.Price, req.TimeInForce)
	if err == nil {
		err = validatePlace(req)
	}
	if err != nil {
		s.metrics.Order(req.Symbol, req.Kind.String(), "rejected")
		return PlaceResult{}, err
	}

	cmd := codec.Command{
		Kind:        codec.CommandPlace,
		Symbol:      req.Symbol,
		OrderID:     req.OrderID,
		Side:        uint8(req.Side),
		OrderKind:   uint8(req.Kind),
		TimeInForce: uint8(req.TimeInForce),
		Price:       req.Price,
		Quantity:    req.Quantity,
		Timestamp:   req.Timestamp,
	}

	var res PlaceResult
	err = s.dispatch(ctx, entrywal.RecordPlace, cmd, func(_ context.Context, ex *exchange.Exchange) error {
		o, err := s.place(ex, req.Symbol, req.OrderID, req.Timestamp, req.Side, req.Quantity, details)
		if o != nil {
			res = PlaceResult{
				OrderID:   o.ID(),
				State:     o.State(),
				Filled:    o.FilledQuantity(),
				Value:     o.FilledValue(),
				Remaining: o.Remaining(),
			}
		}
		return err
	})

	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	s.metrics.Order(req.Symbol, req.Kind.String(), result)
	return res, err
}

func (s *OrderService) place(
	ex *exchange.Exchange,
	symbol string,
	id uuid.UUID,
	ts int64,
	side orderbook.Side,
	qty int64,
	details exchange.Details,
) (*exchange.Order, error) {
	return ex.CreateOrderWithID(id, ts, side, qty, details, s.orderEvents(symbol, id), symbol)
}

func (s *OrderService) CancelOrder(ctx context.Context, symbol string, id uuid.UUID, ts int64) error {
	cmd := codec.Command{Kind: codec.CommandCancel, Symbol: symbol, OrderID: id, Timestamp: ts}
	return s.dispatch(ctx, entrywal.RecordCancel, cmd, func(_ context.Context, ex *exchange.Exchange) error {
		return ex.CancelOrder(id, ts)
	})
}

func (s *OrderService) AddSymbol(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host.HasSymbol(symbol) {
		return errors.Wrapf(ErrSymbolExists, "%s", symbol)
	}
	cmd := codec.Command{Kind: codec.CommandAddSymbol, Symbol: symbol}
	if err := s.journalLocked(entrywal.RecordAddSymbol, cmd); err != nil {
		return err
	}
	return s.host.AddSymbol(symbol)
}

func (s *OrderService) RemoveSymbol(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.host.HasSymbol(symbol) {
		return errors.Wrapf(ErrSymbolNotFound, "%s", symbol)
	}
	cmd := codec.Command{Kind: codec.CommandRemoveSymbol, Symbol: symbol}
	if err := s.journalLocked(entrywal.RecordRemoveSymbol, cmd); err != nil {
		return err
	}
	return s.host.RemoveSymbol(symbol)
}

func (s *OrderService) Symbols() []string {
	return s.host.Symbols()
}

// dispatch journals cmd and queues task, then waits for the task. The
// symbol is checked first so a command for an unknown symbol is never
// journaled.
func (s *OrderService) dispatch(ctx context.Context, typ entrywal.RecordType, cmd codec.Command, task Task) error {
	s.mu.Lock()
	if !s.host.HasSymbol(cmd.Symbol) {
		s.mu.Unlock()
		return errors.Wrapf(ErrSymbolNotFound, "%s", cmd.Symbol)
	}
	if err := s.journalLocked(typ, cmd); err != nil {
		s.mu.Unlock()
		return err
	}
	// queued without the caller's context: a journaled command must run
	p, err := s.host.enqueue(context.Background(), cmd.Symbol, task, true)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return p.wait(ctx)
}

func (s *OrderService) journalLocked(typ entrywal.RecordType, cmd codec.Command) error {
	seq := s.seq.Next()
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Append(entrywal.NewRecord(typ, seq, cmd.Marshal())); err != nil {
		return errors.Wrapf(err, "journal %s seq %d", typ, seq)
	}
	return nil
}

// orderEvents is the callback given to the exchange for service orders.
func (s *OrderService) orderEvents(symbol string, id uuid.UUID) orderbook.Callback {
	if !s.logger.Core().Enabled(zap.DebugLevel) {
		return orderbook.Funcs{}
	}
	log := s.logger.With(zap.String("symbol", symbol), zap.Stringer("order", id))
	return orderbook.Funcs{
		Fill: func(_ any, ts, qty, price int64) error {
			log.Debug("fill", zap.Int64("ts", ts), zap.Int64("qty", qty), zap.Int64("price", price))
			return nil
		},
		Filled: func(_ any, ts int64) error {
			log.Debug("filled", zap.Int64("ts", ts))
			return nil
		},
		Canceled: func(_ any, ts int64) error {
			log.Debug("canceled", zap.Int64("ts", ts))
			return nil
		},
	}
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

type DepthView struct {
	Symbol    string
	Bids      []depth.Level
	Asks      []depth.Level
	LastTrade depth.LastTrade
}

// Depth reads the aggregated book on the symbol's worker.
func (s *OrderService) Depth(ctx context.Context, symbol string, levels int) (DepthView, error) {
	view := DepthView{Symbol: symbol}
	err := s.host.Do(ctx, symbol, func(_ context.Context, ex *exchange.Exchange) error {
		t := ex.Tracker()
		view.Bids = t.Levels(orderbook.Bid, levels)
		view.Asks = t.Levels(orderbook.Ask, levels)
		view.LastTrade = t.LastTrade()
		return nil
	})
	return view, err
}

type OrderView struct {
	OrderID   uuid.UUID
	Side      orderbook.Side
	Kind      exchange.Kind
	State     exchange.State
	Quantity  int64
	Filled    int64
	Value     int64
	Remaining int64
}

// Order looks up a working order.
func (s *OrderService) Order(ctx context.Context, symbol string, id uuid.UUID) (OrderView, error) {
	var view OrderView
	err := s.host.Do(ctx, symbol, func(_ context.Context, ex *exchange.Exchange) error {
		o, ok := ex.Order(id)
		if !ok {
			return errors.Wrapf(exchange.ErrOrderNotFound, "order %s", id)
		}
		view = OrderView{
			OrderID:   o.ID(),
			Side:      o.Side(),
			Kind:      o.Kind(),
			State:     o.State(),
			Quantity:  o.Quantity(),
			Filled:    o.FilledQuantity(),
			Value:     o.FilledValue(),
			Remaining: o.Remaining(),
		}
		return nil
	})
	return view, err
}

//
// ──────────────────────────────────────────────────────────
// Validation
// ──────────────────────────────────────────────────────────
//

func detailsFor(kind exchange.Kind, price int64, tif exchange.TimeInForce) (exchange.Details, error) {
	switch kind {
	case exchange.KindMarket:
		return exchange.Market{}, nil
	case exchange.KindLimit:
		return exchange.Limit{Price: price, TimeInForce: tif}, nil
	case exchange.KindStop, exchange.KindStopLimit, exchange.KindIceberg:
		return nil, errors.Wrapf(exchange.ErrUnsupported, "%s orders", kind)
	default:
		return nil, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown order kind %d", kind)
	}
}

// validatePlace repeats the exchange's request checks so that invalid
// requests are refused before they reach the journal.
func validatePlace(req PlaceRequest) error {
	switch {
	case !req.Side.Valid():
		return errors.Wrapf(orderbook.ErrInvalidRequest, "unknown side %d", req.Side)
	case req.Quantity <= 0:
		return errors.Wrapf(orderbook.ErrInvalidRequest, "quantity %d must be positive", req.Quantity)
	case req.Kind == exchange.KindLimit && req.Price <= 0:
		return errors.Wrapf(orderbook.ErrInvalidRequest, "limit price %d must be positive", req.Price)
	case req.Kind == exchange.KindLimit && !req.TimeInForce.Valid():
		return errors.Wrapf(orderbook.ErrInvalidRequest, "unknown time in force %d", req.TimeInForce)
	}
	return nil
}
