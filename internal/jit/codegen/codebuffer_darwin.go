//go:build darwin

package codegen

import (
	"golang.org/x/sys/unix"
)

// darwinBuffer allocates with MAP_JIT, required on Apple Silicon to hand
// a process both writable and (later) executable mappings of the same
// page under hardened runtime. Intel macOS accepts the flag as a no-op.
type darwinBuffer struct{}

func newPlatformBuffer() platformBuffer { return &darwinBuffer{} }

func (b *darwinBuffer) alloc(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_JIT)
}

func (b *darwinBuffer) makeExecutable(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func (b *darwinBuffer) free(mem []byte) error {
	return unix.Munmap(mem)
}
