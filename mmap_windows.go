//go:build windows

// CreateFileMapping/MapViewOfFile chunk primitives for Windows.
package recordstore

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func mmapChunk(f *os.File, off int64, length int, writable bool) ([]byte, error) {
	prot := uint32(windows.PAGE_READONLY)
	access := uint32(windows.FILE_MAP_READ)
	if writable {
		prot = windows.PAGE_READWRITE
		access = windows.FILE_MAP_WRITE
	}

	end := uint64(off) + uint64(length)
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, prot,
		uint32(end>>32), uint32(end), nil)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, access,
		uint32(uint64(off)>>32), uint32(uint64(off)), uintptr(length))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

func munmapChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&b[0])))
}

func msyncChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}
