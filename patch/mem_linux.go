//go:build linux

package patch

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ProcessMemory gives the patcher access to this process's own address
// space. Read and Write are the single unsafe primitive in the package;
// they are only valid for mapped addresses, which the caller guarantees by
// passing the entry point of the loaded executable.
type ProcessMemory struct{}

var _ Memory = ProcessMemory{}

// Protect makes the page(s) covering [addr, addr+size) read/write/exec.
// When the region crosses a page boundary the span grows to two pages.
func (ProcessMemory) Protect(addr uintptr, size int) error {
	page := uintptr(unix.Getpagesize())
	aligned := addr &^ (page - 1)
	span := page
	if addr-aligned+uintptr(size) > page {
		span = 2 * page
	}
	region := unsafe.Slice((*byte)(unsafe.Pointer(aligned)), span)
	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect %#x (%d bytes): %w", aligned, span, err)
	}
	return nil
}

// Read copies len(b) bytes at addr into b.
func (ProcessMemory) Read(addr uintptr, b []byte) error {
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)))
	return nil
}

// Write copies b over the bytes at addr. The pages must already be
// writable; see Protect.
func (ProcessMemory) Write(addr uintptr, b []byte) error {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)), b)
	return nil
}
