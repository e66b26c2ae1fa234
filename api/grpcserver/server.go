package grpcserver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"kestrel/domain/exchange"
	"kestrel/domain/orderbook"
	"kestrel/domain/safemath"
	"kestrel/infra/logging"
	"kestrel/service"
)

// Engine is the part of service.OrderService the adapter calls.
type Engine interface {
	PlaceOrder(ctx context.Context, req service.PlaceRequest) (service.PlaceResult, error)
	CancelOrder(ctx context.Context, symbol string, id uuid.UUID, ts int64) error
	Order(ctx context.Context, symbol string, id uuid.UUID) (service.OrderView, error)
	Depth(ctx context.Context, symbol string, levels int) (service.DepthView, error)
	Symbols() []string
}

var _ Engine = (*service.OrderService)(nil)

// Server adapts the order service to gRPC.
type Server struct {
	svc    Engine
	logger *zap.Logger
	now    func() time.Time
}

var _ OrderServiceServer = (*Server)(nil)

func NewServer(svc Engine, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		logger: logging.OrNop(logger).Named("grpc"),
		now:    time.Now,
	}
}

// NewGRPCServer returns a grpc.Server with the service registered and
// the logging and recovery interceptors installed.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.recoveryInterceptor, srv.loggingInterceptor))
	g := grpc.NewServer(opts...)
	RegisterOrderServiceServer(g, srv)
	return g
}

// -------------------- Commands --------------------

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	preq, err := s.toPlaceRequest(req)
	if err != nil {
		return nil, toStatus(err)
	}

	res, err := s.svc.PlaceOrder(ctx, preq)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlaceOrderResponse{
		OrderID:   res.OrderID.String(),
		State:     res.State.String(),
		Filled:    res.Filled,
		Value:     res.Value,
		Remaining: res.Remaining,
	}, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	id, err := parseOrderID(req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.svc.CancelOrder(ctx, req.Symbol, id, s.now().UnixNano()); err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderResponse{Status: "ok"}, nil
}

// -------------------- Queries --------------------

func (s *Server) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	id, err := parseOrderID(req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.svc.Order(ctx, req.Symbol, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetOrderResponse{
		OrderID:   o.OrderID.String(),
		Side:      o.Side.String(),
		Type:      o.Kind.String(),
		State:     o.State.String(),
		Quantity:  o.Quantity,
		Filled:    o.Filled,
		Value:     o.Value,
		Remaining: o.Remaining,
	}, nil
}

func (s *Server) GetDepth(ctx context.Context, req *GetDepthRequest) (*GetDepthResponse, error) {
	view, err := s.svc.Depth(ctx, req.Symbol, req.Levels)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &GetDepthResponse{
		Symbol: view.Symbol,
		Bids:   make([]Level, 0, len(view.Bids)),
		Asks:   make([]Level, 0, len(view.Asks)),
	}
	for _, l := range view.Bids {
		resp.Bids = append(resp.Bids, Level{Price: l.Price, Quantity: l.Quantity})
	}
	for _, l := range view.Asks {
		resp.Asks = append(resp.Asks, Level{Price: l.Price, Quantity: l.Quantity})
	}
	if lt := view.LastTrade; lt.Valid {
		resp.LastTrade = &Trade{Price: lt.Price, Quantity: lt.Quantity, Timestamp: lt.Timestamp}
	}
	return resp, nil
}

func (s *Server) ListSymbols(context.Context, *ListSymbolsRequest) (*ListSymbolsResponse, error) {
	return &ListSymbolsResponse{Symbols: s.svc.Symbols()}, nil
}

// -------------------- Converters --------------------

func (s *Server) toPlaceRequest(req *PlaceOrderRequest) (service.PlaceRequest, error) {
	side, err := ParseSide(req.Side)
	if err != nil {
		return service.PlaceRequest{}, err
	}
	kind, err := ParseKind(req.Type)
	if err != nil {
		return service.PlaceRequest{}, err
	}
	tif, ok := exchange.ParseTimeInForce(req.TimeInForce)
	if !ok {
		return service.PlaceRequest{}, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown time in force %q", req.TimeInForce)
	}
	var id uuid.UUID
	if req.OrderID != "" {
		if id, err = parseOrderID(req.OrderID); err != nil {
			return service.PlaceRequest{}, err
		}
	}
	return service.PlaceRequest{
		Symbol:      req.Symbol,
		OrderID:     id,
		Side:        side,
		Kind:        kind,
		TimeInForce: tif,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Timestamp:   s.now().UnixNano(),
	}, nil
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell" in lower or upper case.
func ParseSide(v string) (orderbook.Side, error) {
	switch v {
	case "bid", "BID", "buy", "BUY":
		return orderbook.Bid, nil
	case "ask", "ASK", "sell", "SELL":
		return orderbook.Ask, nil
	}
	return 0, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown side %q", v)
}

var kinds = []exchange.Kind{
	exchange.KindMarket,
	exchange.KindLimit,
	exchange.KindStop,
	exchange.KindStopLimit,
	exchange.KindIceberg,
}

// ParseKind accepts the names returned by exchange.Kind.String.
func ParseKind(v string) (exchange.Kind, error) {
	for _, k := range kinds {
		if k.String() == v {
			return k, nil
		}
	}
	return 0, errors.Wrapf(orderbook.ErrInvalidRequest, "unknown order type %q", v)
}

func parseOrderID(v string) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, errors.Mark(errors.Wrapf(err, "order id %q", v), orderbook.ErrInvalidRequest)
	}
	return id, nil
}

// toStatus maps engine errors onto gRPC codes. The message keeps the
// full error chain.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, orderbook.ErrInvalidRequest), errors.Is(err, safemath.ErrOverflow):
		code = codes.InvalidArgument
	case errors.Is(err, exchange.ErrUnsupported):
		code = codes.Unimplemented
	case errors.Is(err, exchange.ErrOrderNotFound), errors.Is(err, service.ErrSymbolNotFound):
		code = codes.NotFound
	case errors.Is(err, service.ErrSymbolExists):
		code = codes.AlreadyExists
	case errors.Is(err, orderbook.ErrInvalidState):
		code = codes.FailedPrecondition
	case errors.Is(err, service.ErrSymbolStopped), errors.Is(err, service.ErrHostClosed):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// -------------------- Interceptors --------------------

func (s *Server) loggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		st, _ := status.FromError(err)
		fields = append(fields, zap.String("grpc_code", st.Code().String()), zap.Error(err))
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			s.logger.Error("call failed", fields...)
		} else {
			s.logger.Info("call rejected", fields...)
		}
		return resp, err
	}
	s.logger.Debug("call completed", fields...)
	return resp, nil
}

func (s *Server) recoveryInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered", zap.String("method", info.FullMethod), zap.Any("panic", r))
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}
