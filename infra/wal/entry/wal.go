package entry

import (
	"encoding/binary"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"kestrel/infra/memory"
)

var ErrClosed = errors.New("wal closed")

var frames = memory.NewBuffers(256)

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// SyncEveryWrite fsyncs after each append.
	SyncEveryWrite bool
}

// WAL is the command journal. Appends are serialized; callers that need
// journal order to match execution order must hold their own ordering
// around Append and dispatch.
type WAL struct {
	mu sync.Mutex

	dir        string
	segSize    int64
	segAge     time.Duration
	syncWrites bool

	current    *segment
	segIndex   int
	lastRotate time.Time
	closed     bool
}

// Open starts a fresh segment after any existing ones, so a torn tail
// from a previous run is never appended to.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	if len(files) > 0 {
		lastPath := files[len(files)-1]
		idx, err := segmentIndex(lastPath)
		if err != nil {
			return nil, errors.Wrapf(err, "parse segment name %s", lastPath)
		}
		next = idx + 1

		// a torn write can only sit at the end of the last segment; once
		// a newer segment follows it, replay would treat it as corruption
		if _, err := repairTail(lastPath); err != nil {
			return nil, err
		}
	}

	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:        cfg.Dir,
		segSize:    cfg.SegmentSize,
		segAge:     cfg.SegmentDuration,
		syncWrites: cfg.SyncEveryWrite,
		current:    seg,
		segIndex:   next,
		lastRotate: time.Now(),
	}, nil
}

func (w *WAL) Append(r *Record) error {
	if len(r.Data) > maxPayload {
		return errors.Newf("append seq %d: payload of %d bytes exceeds %d", r.Seq, len(r.Data), maxPayload)
	}
	payloadLen := uint32(len(r.Data))

	frame := frames.Get(headerSize + int(payloadLen) + 4)
	defer frames.Put(frame)
	buf := *frame
	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[headerSize:], r.Data)

	crc := CRC32(buf[:headerSize+payloadLen])
	binary.BigEndian.PutUint32(buf[headerSize+payloadLen:], crc)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if err := w.current.append(buf); err != nil {
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	if w.syncWrites {
		if err := w.current.sync(); err != nil {
			return err
		}
	}

	if w.dueForRotation() {
		return w.rotate()
	}
	return nil
}

func (w *WAL) dueForRotation() bool {
	if w.segSize > 0 && w.current.offset >= w.segSize {
		return true
	}
	return w.segAge > 0 && time.Since(w.lastRotate) >= w.segAge
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}

	w.current = seg
	w.lastRotate = time.Now()
	return nil
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.current.sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.CombineErrors(w.current.sync(), w.current.close())
}

// TruncateBefore removes closed segments whose records are all at or
// below seq. The open segment and anything newer are never touched.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	current := w.segIndex
	w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range files {
		if idx, err := segmentIndex(path); err != nil || idx >= current {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
