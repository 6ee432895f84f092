//go:build linux || darwin

package vm

import (
	"os"

	"golang.org/x/sys/unix"
)

func platformPageSize() int {
	return os.Getpagesize()
}

// reservePages maps an anonymous, private, read/write range of the given
// length. The kernel chooses the address (no MAP_FIXED), matching spec.md
// §4.3.2's note that "the OS may hand back any address."
func reservePages(length uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, err
	}
	return uintptr(unsafePointer(b)), nil
}

func releasePages(addr, length uintptr) error {
	b := unsafeSlice(addr, length)
	return unix.Munmap(b)
}
