// Package exit is the outbox of events waiting to leave the engine. Each
// event is stored under its event sequence together with its delivery
// state, so publication survives restarts and is at-least-once.
package exit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

var ErrNotFound = errors.New("outbox record not found")

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// -------------------- Record --------------------

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const recordHeader = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeader:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < recordHeader {
		return Record{}, errors.Newf("outbox record %d: invalid length %d", seq, len(b))
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     bytes.Clone(b[recordHeader:]),
	}, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db    *pebble.DB
	write *pebble.WriteOptions
}

type Option func(*Outbox)

// WithSync controls whether every write waits for the pebble WAL fsync.
func WithSync(sync bool) Option {
	return func(o *Outbox) {
		if sync {
			o.write = pebble.Sync
		} else {
			o.write = pebble.NoSync
		}
	}
}

func Open(dir string, opts ...Option) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	o := &Outbox{db: db, write: pebble.Sync}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// -------------------- API --------------------

// Put stores a NEW record.
func (o *Outbox) Put(seq uint64, payload []byte) error {
	return o.db.Set(keyFor(seq), encodeRecord(Record{State: StateNew, Payload: payload}), o.write)
}

// PutBatch stores NEW records in one atomic write.
func (o *Outbox) PutBatch(recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	b := o.db.NewBatch()
	defer b.Close()
	for _, r := range recs {
		r.State = StateNew
		if err := b.Set(keyFor(r.Seq), encodeRecord(r), nil); err != nil {
			return err
		}
	}
	return b.Commit(o.write)
}

// Mark moves a record to state and stamps the attempt time.
func (o *Outbox) Mark(seq uint64, state State, retries uint32) error {
	rec, err := o.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return o.db.Set(keyFor(seq), encodeRecord(rec), o.write)
}

func (o *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrapf(ErrNotFound, "seq %d", seq)
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), o.write)
}

// -------------------- Scan --------------------

// ScanByState calls fn for up to limit records in state, in sequence
// order. limit <= 0 means no limit. fn runs after the iterator is closed
// so it may update the records it is given.
func (o *Outbox) ScanByState(state State, limit int, fn func(Record) error) error {
	return o.ScanStates([]State{state}, limit, fn)
}

// ScanStates is ScanByState for any of several states.
func (o *Outbox) ScanStates(states []State, limit int, fn func(Record) error) error {
	var batch []Record
	err := o.scan(func(rec Record) bool {
		for _, s := range states {
			if rec.State == s {
				batch = append(batch, rec)
				break
			}
		}
		return limit <= 0 || len(batch) < limit
	})
	if err != nil {
		return err
	}
	for _, rec := range batch {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAcked removes every ACKED record.
func (o *Outbox) DeleteAcked() (int, error) {
	var seqs []uint64
	if err := o.scan(func(rec Record) bool {
		if rec.State == StateAcked {
			seqs = append(seqs, rec.Seq)
		}
		return true
	}); err != nil {
		return 0, err
	}
	if len(seqs) == 0 {
		return 0, nil
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, seq := range seqs {
		if err := b.Delete(keyFor(seq), nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(o.write); err != nil {
		return 0, err
	}
	return len(seqs), nil
}

// LastSeq returns the highest stored sequence, or 0 when empty.
func (o *Outbox) LastSeq() (uint64, error) {
	iter, err := o.db.NewIter(iterBounds())
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func (o *Outbox) scan(fn func(Record) bool) error {
	iter, err := o.db.NewIter(iterBounds())
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if !fn(rec) {
			break
		}
	}
	return iter.Error()
}

// -------------------- Helpers --------------------

const keyPrefix = "event/"

func iterBounds() *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("event/~"),
	}
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "outbox key %q", b)
	}
	return seq, nil
}
