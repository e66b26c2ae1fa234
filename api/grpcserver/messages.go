package grpcserver

// Prices and quantities are integer ticks and lots.

type PlaceOrderRequest struct {
	Symbol string `json:"symbol"`
	// OrderID is optional; the engine assigns one when empty.
	OrderID     string `json:"order_id,omitempty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force,omitempty"`
	Price       int64  `json:"price,omitempty"`
	Quantity    int64  `json:"quantity"`
}

type PlaceOrderResponse struct {
	OrderID   string `json:"order_id"`
	State     string `json:"state"`
	Filled    int64  `json:"filled"`
	Value     int64  `json:"value"`
	Remaining int64  `json:"remaining"`
}

type CancelOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}

type CancelOrderResponse struct {
	Status string `json:"status"`
}

type GetOrderRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	OrderID   string `json:"order_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	State     string `json:"state"`
	Quantity  int64  `json:"quantity"`
	Filled    int64  `json:"filled"`
	Value     int64  `json:"value"`
	Remaining int64  `json:"remaining"`
}

type GetDepthRequest struct {
	Symbol string `json:"symbol"`
	// Levels <= 0 returns every level.
	Levels int `json:"levels,omitempty"`
}

type Level struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

type Trade struct {
	Price     int64 `json:"price"`
	Quantity  int64 `json:"quantity"`
	Timestamp int64 `json:"timestamp"`
}

type GetDepthResponse struct {
	Symbol    string  `json:"symbol"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	LastTrade *Trade  `json:"last_trade,omitempty"`
}

type ListSymbolsRequest struct{}

type ListSymbolsResponse struct {
	Symbols []string `json:"symbols"`
}
