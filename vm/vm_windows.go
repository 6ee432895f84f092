//go:build windows

package vm

import (
	"golang.org/x/sys/windows"
)

func platformPageSize() int {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	if si.PageSize == 0 {
		return 4096
	}
	return int(si.PageSize)
}

// reservePages reserves and commits a read/write range via VirtualAlloc,
// letting the OS choose the base address.
func reservePages(length uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, length, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func releasePages(addr, _ uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}
