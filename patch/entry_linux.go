//go:build linux

package patch

import (
	"fmt"

	"go.uber.org/zap"
)

// PatchEntry looks up this process's entry point, makes it writable, and
// installs the native trampoline branching to hook. The returned Context
// is what Restore is later called on, before the entry point ever runs.
func PatchEntry(hook uintptr, log *zap.SugaredLogger) (*Context, error) {
	arch, err := Native()
	if err != nil {
		return nil, err
	}

	entry, err := EntryAddress()
	if err != nil {
		return nil, err
	}
	log.Debugw("patching entry point",
		"entry", fmt.Sprintf("%#x", entry), "hook", fmt.Sprintf("%#x", hook), "arch", arch.Name())

	mem := ProcessMemory{}
	if err := mem.Protect(entry, arch.Size()); err != nil {
		return nil, fmt.Errorf("unprotecting entry point: %w", err)
	}

	ctx := NewContext(arch, mem)
	if err := ctx.Apply(entry, hook); err != nil {
		return nil, err
	}
	return ctx, nil
}
