// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// api.Buffer implementation backed by a pooled page-aligned region.

package pool

import (
	"sync"

	"github.com/momentics/hioload-dma/api"
)

type dmaBuffer struct {
	data   []byte     // current view
	region []byte     // full pooled region
	class  int        // size class index, -1 for oversized
	pool   *Pool      // owner
	parent *dmaBuffer // set on slices; only the root returns to the pool
	mu     sync.Mutex
	live   bool
}

// Bytes returns the data slice.
func (b *dmaBuffer) Bytes() []byte { return b.data }

// Slice creates a sub-buffer sharing the region.
func (b *dmaBuffer) Slice(from, to int) api.Buffer {
	if from < 0 || to > len(b.data) || from > to {
		panic("pool: slice bounds out of range")
	}
	root := b
	if b.parent != nil {
		root = b.parent
	}
	return &dmaBuffer{
		data:   b.data[from:to],
		region: b.region,
		class:  b.class,
		pool:   b.pool,
		parent: root,
		live:   true,
	}
}

// Release returns the region to the pool. Releasing a slice releases the
// whole region.
func (b *dmaBuffer) Release() {
	root := b
	if b.parent != nil {
		root = b.parent
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	if !root.live {
		return
	}
	root.live = false
	root.pool.recycle(root)
}

// Copy returns a deep copy.
func (b *dmaBuffer) Copy() []byte {
	dst := make([]byte, len(b.data))
	copy(dst, b.data)
	return dst
}
