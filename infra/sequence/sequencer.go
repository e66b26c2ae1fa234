package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing sequence numbers. The engine
// keeps one for journaled commands and one for outgoing events.
type Sequencer struct {
	last atomic.Uint64
}

// New starts after the given value.
// Fresh start → 0
// After replay → the last replayed sequence
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued sequence.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Reset is only used once replay has finished.
func (s *Sequencer) Reset(v uint64) {
	s.last.Store(v)
}

// Advance raises the sequencer to at least v.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.last.Load()
		if cur >= v || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
