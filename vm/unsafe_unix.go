//go:build linux || darwin

package vm

import "unsafe"

// unsafePointer returns the address of the first byte of b. mmap's returned
// []byte is kept alive only by the caller tracking (addr, length) in the
// Manager's reservation list; we never let the Go GC see a live slice
// referencing kernel-owned memory after this point.
func unsafePointer(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// unsafeSlice reconstructs the []byte mmap originally returned, so it can be
// handed to unix.Munmap, which only accepts a slice.
func unsafeSlice(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}
