//go:build unix

// mmap(2) chunk primitives for Unix platforms.
// Chunk offsets are multiples of the chunk size and therefore page-aligned.
package recordstore

import (
	"os"

	"golang.org/x/sys/unix"
)

func mmapChunk(f *os.File, off int64, length int, writable bool) ([]byte, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	return unix.Mmap(int(f.Fd()), off, length, prot, unix.MAP_SHARED)
}

func munmapChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munmap(b)
}

func msyncChunk(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Msync(b, unix.MS_SYNC)
}
