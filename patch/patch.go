// Package patch installs and removes entry-point trampolines.
//
// The daemon intercepts a not-yet-started process by overwriting the first
// instructions at its entry point with a short trampoline that branches into
// a hook routine, then putting the original bytes back before letting the
// process run for real. Each trampoline loads the hook's absolute address
// from an 8-byte literal embedded in the patch and branches indirectly, and
// is encoded so the register conventionally carrying the routine's first
// argument survives the detour.
//
// All state for one patch lives in a Context owned by the caller; apply and
// restore must strictly alternate on it. Access to the patched code goes
// through the Memory interface, so page permissions and the raw writes are
// explicit collaborators rather than assumptions.
package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
)

// literalSize is the hook address literal embedded in every trampoline.
const literalSize = 8

var (
	// ErrAlreadyApplied reports an apply without an intervening restore.
	ErrAlreadyApplied = errors.New("patch already applied")
	// ErrNotApplied reports a restore with no live patch.
	ErrNotApplied = errors.New("patch not applied")
	// ErrUnsupportedArch reports that no trampoline encoding exists for
	// the running architecture.
	ErrUnsupportedArch = errors.New("no trampoline encoding for architecture")
)

// Memory is the patcher's view of the address space holding the target
// code.
type Memory interface {
	// Protect makes [addr, addr+size) readable, writable, and executable.
	// It is the page-permission collaborator; patching loaded code is
	// impossible without it.
	Protect(addr uintptr, size int) error
	// Read copies len(b) bytes at addr into b.
	Read(addr uintptr, b []byte) error
	// Write copies b over the bytes at addr.
	Write(addr uintptr, b []byte) error
}

// Arch is the trampoline encoding for one instruction set. Encodings are
// fixed byte tables replaced wholesale per target architecture, never
// parameterized beyond the hook address literal.
type Arch struct {
	// name as reported by runtime.GOARCH.
	name string
	// template holds the instruction bytes with a zeroed 8-byte slot for
	// the hook address at literalOff.
	template   []byte
	literalOff int
	// retAdjust is the amount to subtract from a return address that was
	// saved while the trampoline was live, so that after restore it lands
	// on the original instructions instead of past the trampoline.
	retAdjust int
}

// AMD64 redirects with
//
//	movabs $hook, %rax
//	call   *%rax
//
// RDX, which holds rtld_fini at process entry, and RDI/RSI are untouched,
// so a hook called straight from _start still sees the original registers.
// The saved return address points past the full 12-byte patch.
var AMD64 = &Arch{
	name: "amd64",
	template: []byte{
		0x48, 0xb8, // movabs $hook, %rax
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xff, 0xd0, // call *%rax
	},
	literalOff: 2,
	retAdjust:  12,
}

// ARM64 redirects with
//
//	ldr x1, #8
//	blr x1
//	.quad hook
//
// X0 (argc at process entry) is preserved. The literal rides after the
// branch, so the link register only points past the two instructions and
// the restore adjustment excludes the 8 literal bytes.
var ARM64 = &Arch{
	name: "arm64",
	template: []byte{
		0x41, 0x00, 0x00, 0x58, // ldr x1, #8
		0x20, 0x00, 0x3f, 0xd6, // blr x1
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	},
	literalOff: 8,
	retAdjust:  8,
}

// Native returns the trampoline encoding for the running architecture.
func Native() (*Arch, error) {
	switch runtime.GOARCH {
	case "amd64":
		return AMD64, nil
	case "arm64":
		return ARM64, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, runtime.GOARCH)
}

// Name returns the runtime.GOARCH name of the encoding.
func (a *Arch) Name() string { return a.name }

// Size returns the number of bytes the trampoline overwrites.
func (a *Arch) Size() int { return len(a.template) }

// RetAdjust returns the return-address correction a restore reports.
func (a *Arch) RetAdjust() int { return a.retAdjust }

// Context tracks one patch: the target address, the backed-up original
// bytes, and whether the trampoline is currently in place. A Context is
// owned by its caller; independent patches use independent Contexts.
type Context struct {
	arch     *Arch
	mem      Memory
	target   uintptr
	original []byte
	applied  bool
}

// NewContext returns an empty patch context for the given encoding and
// memory.
func NewContext(arch *Arch, mem Memory) *Context {
	return &Context{arch: arch, mem: mem}
}

// Applied reports whether the trampoline is currently in place.
func (c *Context) Applied() bool { return c.applied }

// Apply backs up Size() bytes at target and overwrites them with the
// trampoline branching to hook. The target must not have started executing
// yet. Applying twice without a restore is an error.
func (c *Context) Apply(target, hook uintptr) error {
	if c.applied {
		return fmt.Errorf("target %#x: %w", c.target, ErrAlreadyApplied)
	}
	size := c.arch.Size()

	c.original = make([]byte, size)
	if err := c.mem.Read(target, c.original); err != nil {
		return fmt.Errorf("backing up %d bytes at %#x: %w", size, target, err)
	}

	tramp := make([]byte, size)
	copy(tramp, c.arch.template)
	// The literal is read by the target CPU; both supported targets are
	// little-endian.
	binary.LittleEndian.PutUint64(tramp[c.arch.literalOff:c.arch.literalOff+literalSize], uint64(hook))

	if err := c.mem.Write(target, tramp); err != nil {
		return fmt.Errorf("writing trampoline at %#x: %w", target, err)
	}
	c.target = target
	c.applied = true
	return nil
}

// Restore puts the original bytes back over the trampoline and reports the
// adjustment to subtract from any return address saved while the
// trampoline was live. Restoring without a live patch is an error.
func (c *Context) Restore() (int, error) {
	if !c.applied {
		return 0, ErrNotApplied
	}
	if err := c.mem.Write(c.target, c.original); err != nil {
		return 0, fmt.Errorf("restoring original bytes at %#x: %w", c.target, err)
	}
	c.applied = false
	return c.arch.retAdjust, nil
}
