package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type counter struct {
	n int
}

func TestPoolResetsOnPut(t *testing.T) {
	created := 0
	p := NewPool(func() *counter {
		created++
		return &counter{}
	}, func(c *counter) { c.n = 0 })

	c := p.Get()
	c.n = 7
	p.Put(c)

	// sync.Pool may drop the value; either way it comes back zeroed
	got := p.Get()
	assert.Zero(t, got.n)
	assert.GreaterOrEqual(t, created, 1)

	p.Put(nil)
}

func TestBuffersLength(t *testing.T) {
	b := NewBuffers(8)

	buf := b.Get(4)
	assert.Len(t, *buf, 4)
	b.Put(buf)

	buf = b.Get(100)
	assert.Len(t, *buf, 100)
	assert.GreaterOrEqual(t, cap(*buf), 100)
	b.Put(buf)

	big := b.Get(maxPooledBuffer + 1)
	assert.Len(t, *big, maxPooledBuffer+1)
	b.Put(big)
}
