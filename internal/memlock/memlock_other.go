//go:build !linux
// +build !linux

// File: internal/memlock/memlock_other.go
// Author: momentics <momentics@gmail.com>

package memlock

import "os"

// Lock is a no-op outside Linux.
func Lock(addr uintptr, n int) error { return nil }

// Unlock is a no-op outside Linux.
func Unlock(addr uintptr, n int) error { return nil }

// Supported reports whether Lock performs a real pin on this platform.
func Supported() bool { return false }

// PageSize returns the system page size.
func PageSize() int { return os.Getpagesize() }
