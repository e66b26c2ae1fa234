package memory

import "sync"

// Pool is a typed sync.Pool. reset, when set, runs on every Put.
type Pool[T any] struct {
	p     sync.Pool
	reset func(*T)
}

func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	pool := &Pool[T]{reset: reset}
	pool.p.New = func() any { return ctor() }
	return pool
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// maxPooledBuffer keeps one oversized frame from pinning memory.
const maxPooledBuffer = 64 << 10

// Buffers pools byte slices. Get returns a slice of length n.
type Buffers struct {
	pool *Pool[[]byte]
}

func NewBuffers(initial int) *Buffers {
	return &Buffers{pool: NewPool(
		func() *[]byte {
			b := make([]byte, 0, initial)
			return &b
		},
		func(b *[]byte) { *b = (*b)[:0] },
	)}
}

func (b *Buffers) Get(n int) *[]byte {
	buf := b.pool.Get()
	if cap(*buf) < n {
		*buf = make([]byte, n)
	}
	*buf = (*buf)[:n]
	return buf
}

func (b *Buffers) Put(buf *[]byte) {
	if buf == nil || cap(*buf) > maxPooledBuffer {
		return
	}
	b.pool.Put(buf)
}
