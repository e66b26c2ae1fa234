package exchange

import "fmt"

type TimeInForce uint8

const (
	Day TimeInForce = iota
	ImmediateOrCancel
	FillOrKill
)

func (t TimeInForce) Valid() bool {
	return t <= FillOrKill
}

func (t TimeInForce) String() string {
	switch t {
	case Day:
		return "DAY"
	case ImmediateOrCancel:
		return "IOC"
	case FillOrKill:
		return "FOK"
	default:
		return fmt.Sprintf("tif(%d)", uint8(t))
	}
}

// ParseTimeInForce accepts the names returned by String.
func ParseTimeInForce(s string) (TimeInForce, bool) {
	switch s {
	case "DAY", "":
		return Day, true
	case "IOC":
		return ImmediateOrCancel, true
	case "FOK":
		return FillOrKill, true
	}
	return 0, false
}

type Kind uint8

const (
	KindMarket Kind = iota
	KindLimit
	KindStop
	KindStopLimit
	KindIceberg
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindLimit:
		return "limit"
	case KindStop:
		return "stop"
	case KindStopLimit:
		return "stop_limit"
	case KindIceberg:
		return "iceberg"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Details carries the kind-specific part of an order request. The set
// of implementations is closed.
type Details interface {
	Kind() Kind
	details()
}

type Market struct{}

type Limit struct {
	Price       int64
	TimeInForce TimeInForce
}

// Stop, StopLimit and Iceberg are accepted by the type system only;
// creating them fails with ErrUnsupported.
type Stop struct {
	StopPrice int64
}

type StopLimit struct {
	StopPrice   int64
	Price       int64
	TimeInForce TimeInForce
}

type Iceberg struct {
	Price           int64
	DisplayQuantity int64
	TimeInForce     TimeInForce
}

func (Market) Kind() Kind    { return KindMarket }
func (Limit) Kind() Kind     { return KindLimit }
func (Stop) Kind() Kind      { return KindStop }
func (StopLimit) Kind() Kind { return KindStopLimit }
func (Iceberg) Kind() Kind   { return KindIceberg }

func (Market) details()    {}
func (Limit) details()     {}
func (Stop) details()      {}
func (StopLimit) details() {}
func (Iceberg) details()   {}
