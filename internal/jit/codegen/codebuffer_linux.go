//go:build linux

package codegen

import (
	"golang.org/x/sys/unix"
)

type unixBuffer struct{}

func newPlatformBuffer() platformBuffer { return &unixBuffer{} }

func (b *unixBuffer) alloc(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

func (b *unixBuffer) makeExecutable(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func (b *unixBuffer) free(mem []byte) error {
	return unix.Munmap(mem)
}
