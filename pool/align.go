// File: pool/align.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"github.com/momentics/hioload-dma/core/memreg"
	"github.com/momentics/hioload-dma/internal/memlock"
)

// alignedAlloc returns n bytes starting on an align boundary. align must be
// a power of two.
func alignedAlloc(n, align int) []byte {
	raw := make([]byte, n+align)
	off := 0
	if rem := int(memreg.AddrOf(raw) & uintptr(align-1)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+n : off+n]
}

// pageSize returns the system page size, or the registration granularity
// when the former is not a power of two.
func pageSize() int {
	p := memlock.PageSize()
	if p <= 0 || p&(p-1) != 0 {
		return memreg.DefaultGranularity
	}
	return p
}
