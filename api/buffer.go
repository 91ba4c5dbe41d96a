// Package api
// Author: momentics
//
// Zero-copy memory buffers for DMA transfers.
//
// Buffers handed to the engine must stay referenced and unmodified until the
// completion signal for the transfer has been delivered.

package api

// Buffer describes a reusable, page-aligned memory region.
type Buffer interface {
	// Bytes returns the current view of the buffer data.
	Bytes() []byte

	// Slice produces a sub-buffer in O(1), sharing the same region.
	Slice(from, to int) Buffer

	// Release returns the buffer (and underlying region) to its pool.
	// After Release, buffer must not be used.
	Release()

	// Copy returns a deep copy of buffer contents as a standalone []byte.
	Copy() []byte
}

// BufferPool abstracts memory region management for buffers.
type BufferPool interface {
	// Get returns a buffer sized at least 'size' bytes.
	Get(size int) Buffer

	// Put returns buffer to pool; buffer must not be used afterwards.
	Put(b Buffer)

	// Stats exposes resource/accounting metrics for observability.
	Stats() BufferPoolStats
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	TotalAlloc int64
	TotalReuse int64
	InUse      int64
}
