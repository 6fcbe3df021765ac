//go:build windows

package codegen

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

type windowsBuffer struct {
	size uintptr
}

func newPlatformBuffer() platformBuffer { return &windowsBuffer{} }

func (b *windowsBuffer) alloc(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	b.size = uintptr(size)
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (b *windowsBuffer) makeExecutable(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), windows.PAGE_EXECUTE_READ, &old)
}

func (b *windowsBuffer) free(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE)
}
