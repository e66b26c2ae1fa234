package exit

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	o, err := Open(t.TempDir(), WithSync(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestPutGetMark(t *testing.T) {
	o := openTestOutbox(t)
	require.NoError(t, o.Put(7, []byte("payload")))

	rec, err := o.Get(7)
	require.NoError(t, err)
	assert.Equal(t, StateNew, rec.State)
	assert.Equal(t, []byte("payload"), rec.Payload)

	require.NoError(t, o.Mark(7, StateFailed, 2))
	rec, err = o.Get(7)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, uint32(2), rec.Retries)
	assert.NotZero(t, rec.LastAttempt)
	assert.Equal(t, []byte("payload"), rec.Payload, "mark keeps the payload")

	_, err = o.Get(8)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(o.Mark(8, StateAcked, 0), ErrNotFound))
}

func TestScanByStateInSequenceOrder(t *testing.T) {
	o := openTestOutbox(t)
	require.NoError(t, o.PutBatch([]Record{
		{Seq: 3, Payload: []byte("c")},
		{Seq: 1, Payload: []byte("a")},
		{Seq: 12, Payload: []byte("l")},
		{Seq: 2, Payload: []byte("b")},
	}))
	require.NoError(t, o.Mark(2, StateAcked, 0))

	var seqs []uint64
	require.NoError(t, o.ScanByState(StateNew, 0, func(r Record) error {
		seqs = append(seqs, r.Seq)
		return o.Mark(r.Seq, StateSent, 0)
	}))
	assert.Equal(t, []uint64{1, 3, 12}, seqs)

	seqs = nil
	require.NoError(t, o.ScanByState(StateSent, 2, func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 3}, seqs)
}

func TestDeleteAckedAndLastSeq(t *testing.T) {
	o := openTestOutbox(t)

	last, err := o.LastSeq()
	require.NoError(t, err)
	assert.Zero(t, last)

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, o.Put(seq, nil))
	}
	require.NoError(t, o.Mark(1, StateAcked, 0))
	require.NoError(t, o.Mark(4, StateAcked, 0))

	n, err := o.DeleteAcked()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = o.Get(4)
	assert.True(t, errors.Is(err, ErrNotFound))

	last, err = o.LastSeq()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}

func TestRecordsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, o.Put(42, []byte("x")))
	require.NoError(t, o.Close())

	o, err = Open(dir)
	require.NoError(t, err)
	defer o.Close()
	rec, err := o.Get(42)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), rec.Payload)
}

func TestScanStates(t *testing.T) {
	o := openTestOutbox(t)
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, o.Put(seq, nil))
	}
	require.NoError(t, o.Mark(2, StateFailed, 1))
	require.NoError(t, o.Mark(3, StateAcked, 0))

	var seqs []uint64
	require.NoError(t, o.ScanStates([]State{StateNew, StateFailed}, 0, func(r Record) error {
		seqs = append(seqs, r.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 4}, seqs)
}
