package entry

import (
	"fmt"
	"time"
)

type RecordType uint8

const (
	RecordPlace RecordType = iota
	RecordCancel
	RecordAddSymbol
	RecordRemoveSymbol
)

func (t RecordType) String() string {
	switch t {
	case RecordPlace:
		return "place"
	case RecordCancel:
		return "cancel"
	case RecordAddSymbol:
		return "add_symbol"
	case RecordRemoveSymbol:
		return "remove_symbol"
	default:
		return fmt.Sprintf("record(%d)", uint8(t))
	}
}

// Record is one journaled command. Data is an encoded codec.Command.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// Frame:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
const headerSize = 1 + 8 + 8 + 4

// maxPayload bounds a frame's payload. A longer length read from disk
// is corruption.
const maxPayload = 1 << 20
