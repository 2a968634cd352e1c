//go:build linux

package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// atEntry is the AT_ENTRY auxiliary vector type: the program entry point.
const atEntry = 9

// auxvPath is read directly instead of trusting libc's getauxval. Under
// qemu-user the vector libc hands out is shared with the one the daemon
// rewrites when it reshapes the argument list, so a private copy is the
// only reliable source.
const auxvPath = "/proc/self/auxv"

// EntryAddress returns this process's entry point from the auxiliary
// vector.
func EntryAddress() (uintptr, error) {
	raw, err := os.ReadFile(auxvPath)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", auxvPath, err)
	}
	return entryFromAuxv(raw)
}

// entryFromAuxv scans 64-bit (type, value) pairs for AT_ENTRY. The vector
// is in host byte order; the supported targets are little-endian.
func entryFromAuxv(raw []byte) (uintptr, error) {
	for off := 0; off+16 <= len(raw); off += 16 {
		typ := binary.LittleEndian.Uint64(raw[off:])
		if typ == 0 { // AT_NULL terminates the vector
			break
		}
		if typ == atEntry {
			return uintptr(binary.LittleEndian.Uint64(raw[off+8:])), nil
		}
	}
	return 0, errors.New("AT_ENTRY not present in auxv")
}
