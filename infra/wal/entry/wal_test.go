package entry

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
)

func appendN(t *testing.T, w *WAL, from, n int) {
	t.Helper()
	for i := from; i < from+n; i++ {
		rec := NewRecord(RecordPlace, uint64(i), []byte(fmt.Sprintf("order-%d", i)))
		if err := w.Append(rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestWAL_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir, SegmentSize: 64 << 10})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	appendN(t, w, 1, 100)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	count := 0
	last, err := Replay(dir, func(rec *Record) error {
		count++
		if want := fmt.Sprintf("order-%d", rec.Seq); string(rec.Data) != want {
			t.Fatalf("seq %d: payload %q, want %q", rec.Seq, rec.Data, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 100 || last != 100 {
		t.Fatalf("replayed %d records, last seq %d", count, last)
	}
}

func TestWAL_RotationBySize(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir, SegmentSize: 128})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	appendN(t, w, 1, 20)
	_ = w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, segmentGlob))
	if len(files) < 2 {
		t.Fatalf("expected rotated segments, found %d", len(files))
	}

	last, err := Replay(dir, func(*Record) error { return nil })
	if err != nil || last != 20 {
		t.Fatalf("replay across segments: last %d err %v", last, err)
	}
}

func TestWAL_ReopenStartsNewSegment(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	appendN(t, w, 1, 3)
	_ = w.Close()

	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	appendN(t, w, 4, 3)
	_ = w.Close()

	if _, err := os.Stat(segmentPath(dir, 1)); err != nil {
		t.Fatalf("second segment missing: %v", err)
	}
	last, err := Replay(dir, func(*Record) error { return nil })
	if err != nil || last != 6 {
		t.Fatalf("last %d err %v", last, err)
	}
}

func TestReplay_TornTailIsIgnored(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	appendN(t, w, 1, 5)
	_ = w.Close()

	path := segmentPath(dir, 0)
	st, _ := os.Stat(path)
	if err := os.Truncate(path, st.Size()-3); err != nil {
		t.Fatal(err)
	}

	last, err := Replay(dir, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("torn tail should not fail replay: %v", err)
	}
	if last != 4 {
		t.Fatalf("last seq %d, want 4", last)
	}
}

func TestReplay_CorruptPayload(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	appendN(t, w, 1, 2)
	_ = w.Close()

	path := segmentPath(dir, 0)
	b, _ := os.ReadFile(path)
	b[headerSize] ^= 0xff
	_ = os.WriteFile(path, b, 0o644)

	_, err := Replay(dir, func(*Record) error { return nil })
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestReplay_NonMonotonic(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	_ = w.Append(NewRecord(RecordPlace, 5, nil))
	_ = w.Append(NewRecord(RecordCancel, 5, nil))
	_ = w.Close()

	_, err := Replay(dir, func(*Record) error { return nil })
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestWAL_TruncateBefore(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir, SegmentSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	// every append rotates: segments 0..4 hold seq 1..5, segment 5 is open
	appendN(t, w, 1, 5)

	removed, err := w.TruncateBefore(3)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Fatalf("removed %d segments, want 3", removed)
	}

	var seqs []uint64
	if _, err := Replay(dir, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 4 || seqs[1] != 5 {
		t.Fatalf("remaining seqs %v", seqs)
	}
	if _, err := os.Stat(segmentPath(dir, 5)); err != nil {
		t.Fatalf("open segment must survive: %v", err)
	}
}

func TestWAL_AppendAfterClose(t *testing.T) {
	w, _ := Open(Config{Dir: t.TempDir()})
	_ = w.Close()
	if err := w.Append(NewRecord(RecordPlace, 1, nil)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWAL_TornTailSurvivesSecondRestart(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	appendN(t, w, 1, 5)
	_ = w.Close()

	// crash mid-write
	path := segmentPath(dir, 0)
	st, _ := os.Stat(path)
	if err := os.Truncate(path, st.Size()-3); err != nil {
		t.Fatal(err)
	}

	// first restart: replay, then keep journaling
	last, err := Replay(dir, func(*Record) error { return nil })
	if err != nil || last != 4 {
		t.Fatalf("restart 1 replay: last %d err %v", last, err)
	}
	w, err = Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	appendN(t, w, 5, 2)
	_ = w.Close()

	// second restart: the repaired segment is no longer last
	var seqs []uint64
	last, err = Replay(dir, func(r *Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("restart 2 replay: %v", err)
	}
	if last != 6 || len(seqs) != 6 {
		t.Fatalf("restart 2 replay: last %d seqs %v", last, seqs)
	}
}

func TestWAL_OpenRemovesTornHeader(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	appendN(t, w, 1, 2)
	_ = w.Close()

	path := segmentPath(dir, 0)
	st, _ := os.Stat(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.Write([]byte{byte(RecordPlace), 0, 0, 0})
	_ = f.Close()

	w, err = Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = w.Close()

	after, _ := os.Stat(path)
	if after.Size() != st.Size() {
		t.Fatalf("segment size %d after repair, want %d", after.Size(), st.Size())
	}
}

func TestReplay_OversizedLengthIsCorrupt(t *testing.T) {
	dir := t.TempDir()

	w, _ := Open(Config{Dir: dir})
	appendN(t, w, 1, 2)
	_ = w.Close()

	// first frame claims a payload far beyond the limit
	path := segmentPath(dir, 0)
	b, _ := os.ReadFile(path)
	b[17], b[18], b[19], b[20] = 0xff, 0xff, 0xff, 0xf0
	_ = os.WriteFile(path, b, 0o644)

	_, err := Replay(dir, func(*Record) error { return nil })
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestWAL_AppendRejectsOversizedPayload(t *testing.T) {
	w, _ := Open(Config{Dir: t.TempDir()})
	defer w.Close()

	if err := w.Append(NewRecord(RecordPlace, 1, make([]byte, maxPayload+1))); err == nil {
		t.Fatal("expected oversized payload to be rejected")
	}
}
