// Package bufpool provides a small sync.Pool-backed byte-slice pool for
// connection inbound scratch buffers. One size class covers the common
// case (short name and chat frames); anything larger is allocated
// directly and never pooled.
package bufpool

import "sync"

// Pool recycles byte slices of a fixed capacity class.
type Pool struct {
	pool sync.Pool
	size int
}

// New creates a Pool whose Get calls return slices of length size.
func New(size int) *Pool {
	return &Pool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		},
	}
}

// Get returns a zero-length-trimmed slice with at least Pool's configured
// capacity, resized to n bytes. Buffers larger than the pool's size class
// are allocated directly and never pooled.
func (p *Pool) Get(n int) []byte {
	if n > p.size {
		return make([]byte, n)
	}
	buf := p.pool.Get().([]byte)
	return buf[:n]
}

// Put returns buf to the pool if it belongs to this size class.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}
