//go:build linux
// +build linux

// File: internal/memlock/memlock_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux mlock(2)/munlock(2) over raw address ranges.

package memlock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Lock pins [addr, addr+n) into physical memory.
func Lock(addr uintptr, n int) error {
	if _, _, errno := unix.Syscall(unix.SYS_MLOCK, addr, uintptr(n), 0); errno != 0 {
		return fmt.Errorf("mlock %#x+%d: %w", addr, n, errno)
	}
	return nil
}

// Unlock releases a range locked by Lock.
func Unlock(addr uintptr, n int) error {
	if _, _, errno := unix.Syscall(unix.SYS_MUNLOCK, addr, uintptr(n), 0); errno != 0 {
		return fmt.Errorf("munlock %#x+%d: %w", addr, n, errno)
	}
	return nil
}

// Supported reports whether Lock performs a real pin on this platform.
func Supported() bool { return true }

// PageSize returns the system page size.
func PageSize() int { return unix.Getpagesize() }
