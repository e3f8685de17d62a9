package proxy

import (
	"sync"
)

// bufferPool recycles fixed-size relay buffers.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

func (p *bufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b *[]byte) {
	if len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}

var (
	requestPool    = newBufferPool(requestBufferSize)
	upstreamPool   = newBufferPool(upstreamBufferSize)
	downstreamPool = newBufferPool(downstreamBufferSize)
)
