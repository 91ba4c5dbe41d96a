// File: core/memreg/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package memreg

import "unsafe"

// AddrOf returns the address of the first byte of b, or 0 for an empty slice.
// The Go heap does not move objects, so the address stays valid while b is
// referenced.
func AddrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
