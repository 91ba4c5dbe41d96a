// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// Size-class buffer pool. Classes are powers of two from one page up to the
// configured maximum; larger requests are served unpooled.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-dma/api"
)

// DefaultMaxSize is the largest pooled buffer.
const DefaultMaxSize = 2 << 20

// DefaultClassDepth is the number of free buffers kept per class.
const DefaultClassDepth = 64

// Pool implements api.BufferPool. It is safe for concurrent use.
type Pool struct {
	page    int
	classes []chan *dmaBuffer // free lists, class i holds page<<i bytes

	alloc atomic.Int64
	reuse atomic.Int64
	inUse atomic.Int64
}

// Ensure compliance with api.BufferPool.
var _ api.BufferPool = (*Pool)(nil)

// New creates a pool for buffers up to maxSize bytes, keeping depth free
// buffers per class. Non-positive arguments select the defaults.
func New(maxSize, depth int) *Pool {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if depth <= 0 {
		depth = DefaultClassDepth
	}
	p := &Pool{page: pageSize()}
	for size := p.page; ; size <<= 1 {
		p.classes = append(p.classes, make(chan *dmaBuffer, depth))
		if size >= maxSize {
			break
		}
	}
	return p
}

// PageSize returns the alignment of every buffer.
func (p *Pool) PageSize() int { return p.page }

// Get returns a page-aligned buffer of exactly size bytes.
func (p *Pool) Get(size int) api.Buffer {
	if size < 0 {
		size = 0
	}
	p.inUse.Add(1)
	class := p.classOf(size)
	if class < 0 {
		p.alloc.Add(1)
		return p.wrap(alignedAlloc(size, p.page), -1, size)
	}
	select {
	case b := <-p.classes[class]:
		p.reuse.Add(1)
		b.data = b.region[:size]
		b.live = true
		return b
	default:
		p.alloc.Add(1)
		return p.wrap(alignedAlloc(p.page<<class, p.page), class, size)
	}
}

// Put returns b to the pool; equivalent to b.Release().
func (p *Pool) Put(b api.Buffer) {
	if b != nil {
		b.Release()
	}
}

// Stats returns allocation counters.
func (p *Pool) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		TotalAlloc: p.alloc.Load(),
		TotalReuse: p.reuse.Load(),
		InUse:      p.inUse.Load(),
	}
}

func (p *Pool) wrap(region []byte, class, size int) *dmaBuffer {
	return &dmaBuffer{data: region[:size], region: region, class: class, pool: p, live: true}
}

func (p *Pool) classOf(size int) int {
	for i := range p.classes {
		if size <= p.page<<i {
			return i
		}
	}
	return -1
}

// recycle is called once per region by dmaBuffer.Release.
func (p *Pool) recycle(b *dmaBuffer) {
	p.inUse.Add(-1)
	if b.class < 0 {
		return
	}
	select {
	case p.classes[b.class] <- b:
	default:
	}
}
