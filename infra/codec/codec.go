// Package codec encodes engine commands and events with the protobuf
// wire format. Messages are hand-laid so the journal and the outbox do
// not depend on generated code; field numbers are stable.
package codec

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("malformed message")

type CommandKind uint8

const (
	CommandPlace CommandKind = iota + 1
	CommandCancel
	CommandAddSymbol
	CommandRemoveSymbol
)

// Command is one journaled write.
type Command struct {
	Kind        CommandKind
	Symbol      string
	OrderID     uuid.UUID
	Side        uint8
	OrderKind   uint8
	TimeInForce uint8
	Price       int64
	Quantity    int64
	Timestamp   int64
}

const (
	cmdKind protowire.Number = iota + 1
	cmdSymbol
	cmdOrderID
	cmdSide
	cmdOrderKind
	cmdTimeInForce
	cmdPrice
	cmdQuantity
	cmdTimestamp
)

func (c *Command) Marshal() []byte {
	b := make([]byte, 0, 64+len(c.Symbol))
	b = appendVarint(b, cmdKind, uint64(c.Kind))
	b = appendString(b, cmdSymbol, c.Symbol)
	if c.OrderID != uuid.Nil {
		b = protowire.AppendTag(b, cmdOrderID, protowire.BytesType)
		b = protowire.AppendBytes(b, c.OrderID[:])
	}
	b = appendVarint(b, cmdSide, uint64(c.Side))
	b = appendVarint(b, cmdOrderKind, uint64(c.OrderKind))
	b = appendVarint(b, cmdTimeInForce, uint64(c.TimeInForce))
	b = appendVarint(b, cmdPrice, uint64(c.Price))
	b = appendVarint(b, cmdQuantity, uint64(c.Quantity))
	b = appendVarint(b, cmdTimestamp, uint64(c.Timestamp))
	return b
}

func (c *Command) Unmarshal(b []byte) error {
	*c = Command{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == cmdSymbol && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			c.Symbol = v
			return n, nil
		case num == cmdOrderID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return 0, errors.Wrap(ErrMalformed, err.Error())
			}
			c.OrderID = id
			return n, nil
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case cmdKind:
				c.Kind = CommandKind(v)
			case cmdSide:
				c.Side = uint8(v)
			case cmdOrderKind:
				c.OrderKind = uint8(v)
			case cmdTimeInForce:
				c.TimeInForce = uint8(v)
			case cmdPrice:
				c.Price = int64(v)
			case cmdQuantity:
				c.Quantity = int64(v)
			case cmdTimestamp:
				c.Timestamp = int64(v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

type EventKind uint8

const (
	EventTrade EventKind = iota + 1
	EventQuote
)

func (k EventKind) String() string {
	switch k {
	case EventTrade:
		return "trade"
	case EventQuote:
		return "quote"
	default:
		return "unknown"
	}
}

// Event is one trade or quote leaving the engine. For quotes Quantity is
// the signed change at Price; for trades it is the traded size and Side
// is the aggressor's side.
type Event struct {
	Kind      EventKind
	Symbol    string
	Seq       uint64
	Timestamp int64
	Side      uint8
	Price     int64
	Quantity  int64
	MakerSeq  uint64
	TakerSeq  uint64
}

const (
	evKind protowire.Number = iota + 1
	evSymbol
	evSeq
	evTimestamp
	evSide
	evPrice
	evQuantity
	evMakerSeq
	evTakerSeq
)

func (e *Event) Marshal() []byte {
	b := make([]byte, 0, 64+len(e.Symbol))
	b = appendVarint(b, evKind, uint64(e.Kind))
	b = appendString(b, evSymbol, e.Symbol)
	b = appendVarint(b, evSeq, e.Seq)
	b = appendVarint(b, evTimestamp, uint64(e.Timestamp))
	b = appendVarint(b, evSide, uint64(e.Side))
	b = appendVarint(b, evPrice, uint64(e.Price))
	b = appendVarint(b, evQuantity, uint64(e.Quantity))
	if e.Kind == EventTrade {
		b = appendVarint(b, evMakerSeq, e.MakerSeq)
		b = appendVarint(b, evTakerSeq, e.TakerSeq)
	}
	return b
}

func (e *Event) Unmarshal(b []byte) error {
	*e = Event{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == evSymbol && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.Symbol = v
			return n, nil
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			switch num {
			case evKind:
				e.Kind = EventKind(v)
			case evSeq:
				e.Seq = v
			case evTimestamp:
				e.Timestamp = int64(v)
			case evSide:
				e.Side = uint8(v)
			case evPrice:
				e.Price = int64(v)
			case evQuantity:
				e.Quantity = int64(v)
			case evMakerSeq:
				e.MakerSeq = v
			case evTakerSeq:
				e.TakerSeq = v
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// walk visits every field. fn consumes the value and returns its length,
// or a negative protowire error code.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
