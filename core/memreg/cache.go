// File: core/memreg/cache.go
// Package memreg implements the per-port DMA registration cache.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pinning memory is the expensive hardware operation, so registered ranges
// are reference counted and reused. The Capacity most recently used blocks
// stay pinned even when idle; only colder idle blocks are released. This is
// a bounded warm set, not an LRU: eviction happens on Deregister, never on
// Register.

package memreg

import (
	"go.uber.org/multierr"

	"github.com/momentics/hioload-dma/api"
)

const (
	// DefaultCapacity is the number of idle blocks kept pinned.
	DefaultCapacity = 10
	// DefaultGranularity is the DMA pin granularity in bytes.
	DefaultGranularity = 0x1000
)

// Pinner performs the hardware pin/unpin calls.
type Pinner interface {
	RegisterMemory(addr uintptr, n int) error
	DeregisterMemory(addr uintptr, n int) error
}

// Block is one pinned, granularity-aligned address range.
type Block struct {
	Addr uintptr
	Len  int
	refs int
}

// Refs returns the current reference count.
func (b *Block) Refs() int { return b.refs }

// Contains reports whether [addr, addr+n) lies inside b.
func (b *Block) Contains(addr uintptr, n int) bool {
	return addr >= b.Addr && addr+uintptr(n) <= b.Addr+uintptr(b.Len)
}

// Stats aggregates cache accounting.
type Stats struct {
	Hits     int64
	Misses   int64
	Pins     int64
	Unpins   int64
	Resident int
}

// Cache is not safe for concurrent use; the owning port serialises access.
type Cache struct {
	pinner      Pinner
	capacity    int
	granularity uintptr
	blocks      []*Block // most recently used first
	stats       Stats
}

// New creates a cache. Non-positive capacity or granularity select the
// defaults; granularity must be a power of two.
func New(p Pinner, capacity, granularity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if granularity <= 0 || granularity&(granularity-1) != 0 {
		granularity = DefaultGranularity
	}
	return &Cache{
		pinner:      p,
		capacity:    capacity,
		granularity: uintptr(granularity),
	}
}

// Align rounds addr down and the length up to the cache granularity.
func (c *Cache) Align(addr uintptr, n int) (uintptr, int) {
	mask := c.granularity - 1
	base := addr &^ mask
	length := uintptr(n) + (addr - base)
	if length&mask != 0 {
		length = (length &^ mask) + c.granularity
	}
	return base, int(length)
}

// Register returns a pinned block containing [addr, addr+n).
func (c *Cache) Register(addr uintptr, n int) (*Block, error) {
	if addr == 0 || n <= 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "register %#x+%d", addr, n)
	}
	base, length := c.Align(addr, n)

	for i, b := range c.blocks {
		if b.Contains(base, length) {
			b.refs++
			c.promote(i)
			c.stats.Hits++
			return b, nil
		}
	}

	c.stats.Misses++
	if err := c.pinner.RegisterMemory(base, length); err != nil {
		return nil, api.Errorf(api.ErrCodeRegistrationFailure, "pin %#x+%d", base, length).WithCause(err)
	}
	c.stats.Pins++
	b := &Block{Addr: base, Len: length, refs: 1}
	c.blocks = append(c.blocks, nil)
	copy(c.blocks[1:], c.blocks)
	c.blocks[0] = b
	return b, nil
}

// Deregister drops one reference. An idle block outside the warm window is
// unpinned and forgotten.
func (c *Cache) Deregister(b *Block) error {
	i := c.indexOf(b)
	if i < 0 {
		return api.NewError(api.ErrCodeProtocolViolation, "deregister of unknown block").
			WithContext("addr", b.Addr)
	}
	if b.refs <= 0 {
		return api.NewError(api.ErrCodeProtocolViolation, "block reference underflow").
			WithContext("addr", b.Addr)
	}
	b.refs--
	if b.refs > 0 || i < c.capacity {
		return nil
	}
	if err := c.pinner.DeregisterMemory(b.Addr, b.Len); err != nil {
		return api.Errorf(api.ErrCodeRegistrationFailure, "unpin %#x+%d", b.Addr, b.Len).WithCause(err)
	}
	c.stats.Unpins++
	c.remove(i)
	return nil
}

// Drain unpins every block regardless of reference count.
func (c *Cache) Drain() error {
	var errs error
	for _, b := range c.blocks {
		if err := c.pinner.DeregisterMemory(b.Addr, b.Len); err != nil {
			errs = multierr.Append(errs, api.Errorf(api.ErrCodeRegistrationFailure,
				"unpin %#x+%d", b.Addr, b.Len).WithCause(err))
			continue
		}
		c.stats.Unpins++
	}
	c.blocks = nil
	return errs
}

// Len returns the number of resident blocks.
func (c *Cache) Len() int { return len(c.blocks) }

// Capacity returns the warm window size.
func (c *Cache) Capacity() int { return c.capacity }

// Granularity returns the pin granularity.
func (c *Cache) Granularity() int { return int(c.granularity) }

// Position returns the recency index of b, or -1.
func (c *Cache) Position(b *Block) int { return c.indexOf(b) }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.Resident = len(c.blocks)
	return s
}

func (c *Cache) indexOf(b *Block) int {
	for i, x := range c.blocks {
		if x == b {
			return i
		}
	}
	return -1
}

func (c *Cache) promote(i int) {
	if i == 0 {
		return
	}
	b := c.blocks[i]
	copy(c.blocks[1:i+1], c.blocks[:i])
	c.blocks[0] = b
}

func (c *Cache) remove(i int) {
	copy(c.blocks[i:], c.blocks[i+1:])
	c.blocks[len(c.blocks)-1] = nil
	c.blocks = c.blocks[:len(c.blocks)-1]
}
