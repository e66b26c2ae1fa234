// Package stream serves the engine's read side over HTTP: a websocket
// feed of trades and quotes, aggregated depth as JSON, and Prometheus
// metrics.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kestrel/domain/orderbook"
	"kestrel/infra/codec"
	"kestrel/infra/logging"
	"kestrel/service"
)

const (
	subscriberBuffer = 256
	writeWait        = 5 * time.Second
)

// DepthReader is the part of service.OrderService the depth endpoint uses.
type DepthReader interface {
	Depth(ctx context.Context, symbol string, levels int) (service.DepthView, error)
}

type Server struct {
	depth    DepthReader
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	events   *hub[codec.Event]
	upgrader websocket.Upgrader
}

func NewServer(depth DepthReader, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		depth:    depth,
		gatherer: gatherer,
		logger:   logging.OrNop(logger).Named("stream"),
		events:   newHub[codec.Event](),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Publish hands an event to every websocket subscriber. It is a
// service.EventSink.
func (s *Server) Publish(ev codec.Event) {
	s.events.Broadcast(ev)
}

// Close disconnects every websocket subscriber.
func (s *Server) Close() {
	s.events.Close()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", s.handleEvents)
	mux.HandleFunc("/depth", s.handleDepth)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// -------------------- Messages --------------------

type eventMessage struct {
	Type      string `json:"type"`
	Symbol    string `json:"symbol"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	MakerSeq  uint64 `json:"maker_seq,omitempty"`
	TakerSeq  uint64 `json:"taker_seq,omitempty"`
}

func toMessage(ev codec.Event) eventMessage {
	return eventMessage{
		Type:      ev.Kind.String(),
		Symbol:    ev.Symbol,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Side:      orderbook.Side(ev.Side).String(),
		Price:     ev.Price,
		Quantity:  ev.Quantity,
		MakerSeq:  ev.MakerSeq,
		TakerSeq:  ev.TakerSeq,
	}
}

type level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

type lastTrade struct {
	Price     int64 `json:"price"`
	Quantity  int64 `json:"quantity"`
	Timestamp int64 `json:"timestamp"`
}

type depthResponse struct {
	Symbol    string     `json:"symbol"`
	Bids      []level    `json:"bids"`
	Asks      []level    `json:"asks"`
	LastTrade *lastTrade `json:"last_trade,omitempty"`
}

// -------------------- Handlers --------------------

// handleEvents streams events as JSON text frames. ?symbol= narrows the
// feed to one symbol.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.events.Subscribe(subscriberBuffer)
	defer s.events.Unsubscribe(sub)

	// the read loop only notices the peer going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if symbol != "" && ev.Symbol != symbol {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(toMessage(ev)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, errors.New("symbol is required"))
		return
	}
	levels := 0
	if v := q.Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.Newf("invalid levels %q", v))
			return
		}
		levels = n
	}

	view, err := s.depth.Depth(r.Context(), symbol, levels)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := depthResponse{
		Symbol: view.Symbol,
		Bids:   make([]level, 0, len(view.Bids)),
		Asks:   make([]level, 0, len(view.Asks)),
	}
	for _, l := range view.Bids {
		resp.Bids = append(resp.Bids, level{Price: l.Price, Quantity: l.Quantity})
	}
	for _, l := range view.Asks {
		resp.Asks = append(resp.Asks, level{Price: l.Price, Quantity: l.Quantity})
	}
	if lt := view.LastTrade; lt.Valid {
		resp.LastTrade = &lastTrade{Price: lt.Price, Quantity: lt.Quantity, Timestamp: lt.Timestamp}
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSymbolStopped), errors.Is(err, service.ErrHostClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
