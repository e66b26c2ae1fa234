package snapshot

import (
	"time"

	"github.com/google/uuid"
)

type Snapshot struct {
	// Seq is the last command sequence reflected in the books.
	Seq uint64
	// EventSeq is the last event sequence handed to the outbox.
	EventSeq uint64
	Created  time.Time
	Books    []Book
}

type Book struct {
	Symbol string
	Orders []OrderEntry
	Bids   []Level
	Asks   []Level

	LastTradePrice    int64
	LastTradeQuantity int64
	LastTradeTime     int64
}

// OrderEntry is a working order in book priority order.
type OrderEntry struct {
	ID          uuid.UUID
	Side        int8
	TimeInForce uint8
	Price       int64
	Quantity    int64
	Remaining   int64
	Filled      int64
	Value       int64
	Timestamp   int64
}

type Level struct {
	Price    int64
	Quantity int64
}

// Book returns the book for symbol.
func (s *Snapshot) Book(symbol string) (Book, bool) {
	for _, b := range s.Books {
		if b.Symbol == symbol {
			return b, true
		}
	}
	return Book{}, false
}
