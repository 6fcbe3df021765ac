package codegen

import "fmt"

// CodeBuffer owns a page of memory that starts out writable and ends up
// executable. Writes (emitting instructions) only ever happen while it's
// RW; Finalize() flips it to RX once and it is never written to again -
// W^X is enforced by never holding both permissions at the same time,
// which every platform file below implements with its own syscalls.
type CodeBuffer struct {
	mem      []byte
	len      int
	final    bool
	platform platformBuffer
}

// platformBuffer is implemented per-OS (codebuffer_linux.go,
// codebuffer_darwin.go, codebuffer_windows.go) since mmap/mprotect,
// Apple Silicon's MAP_JIT + pthread_jit_write_protect_np dance, and
// Windows' VirtualAlloc all have different call shapes.
type platformBuffer interface {
	alloc(size int) ([]byte, error)
	makeExecutable(mem []byte) error
	free(mem []byte) error
}

// ErrAlreadyFinalized is returned by Write once Finalize has run.
var ErrAlreadyFinalized = fmt.Errorf("codegen: code buffer already finalized")

// NewCodeBuffer allocates size bytes of RW memory.
func NewCodeBuffer(size int) (*CodeBuffer, error) {
	pb := newPlatformBuffer()
	mem, err := pb.alloc(size)
	if err != nil {
		return nil, err
	}
	return &CodeBuffer{mem: mem, platform: pb}, nil
}

// Write appends bytes to the buffer while it is still writable.
func (c *CodeBuffer) Write(b []byte) (int, error) {
	if c.final {
		return 0, ErrAlreadyFinalized
	}
	if c.len+len(b) > len(c.mem) {
		return 0, fmt.Errorf("codegen: code buffer exhausted (cap %d)", len(c.mem))
	}
	n := copy(c.mem[c.len:], b)
	c.len += n
	return n, nil
}

// Offset reports how many bytes have been written so far - the entry
// point of the next Compile call.
func (c *CodeBuffer) Offset() int { return c.len }

// Finalize transitions the buffer RW -> RX. After this call Write always
// fails; the buffer is only ever executed, never mutated again.
func (c *CodeBuffer) Finalize() error {
	if c.final {
		return nil
	}
	if err := c.platform.makeExecutable(c.mem); err != nil {
		return err
	}
	c.final = true
	return nil
}

// EntryPoint returns a pointer to offset bytes into the (already
// finalized) buffer, suitable for the exec package to cast into a
// callable function value.
func (c *CodeBuffer) EntryPoint(offset int) *byte {
	return &c.mem[offset]
}

// Close releases the underlying mapping.
func (c *CodeBuffer) Close() error {
	return c.platform.free(c.mem)
}
