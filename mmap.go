// Memory-mapped I/O backend.
//
// mappedIO maintains a sequence of equal-sized mapped chunks over
// [0, fileLength). A remap computes a new immutable epoch, {chunks,
// mapped_size}, by mapping only chunks that changed and reusing the rest,
// then publishes it with a single atomic pointer swap. Readers load the
// current epoch once per operation and index into it; they never observe a
// mix of old and new chunks mid-operation. A failed remap leaves the prior
// epoch in place and returns the error, so the store has someone to blame
// and transitions to UNKNOWN without ever losing its last-known-good
// mapping out from under an in-flight reader.
//
// The platform-specific mmapChunk/munmapChunk/msyncChunk primitives live in
// mmap_unix.go and mmap_windows.go, mirroring the unix/windows split used
// for OS-level file locking in lock_unix.go and lock_windows.go.
package recordstore

import (
	"io"
	"os"
	"sync/atomic"
)

// defaultChunkSize is the size of each mapped chunk. 128 MiB keeps the
// number of distinct mappings small for large files while bounding the cost
// of remapping just the chunks that actually changed.
const defaultChunkSize = 128 * 1024 * 1024

// mmapEpoch is an immutable snapshot of the chunk set backing a mappedIO at
// one point in time.
type mmapEpoch struct {
	chunks    [][]byte
	size      int64
	chunkSize int64
}

// mappedIO implements ioBackend over a chunked memory mapping with live
// remapping on SetLength.
type mappedIO struct {
	f         *os.File
	writable  bool
	chunkSize int64
	epoch     atomic.Pointer[mmapEpoch]
}

// newMappedIO maps the current extent of f and returns a ready backend.
// chunkSize <= 0 selects the default.
func newMappedIO(f *os.File, writable bool, chunkSize int64) (*mappedIO, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	m := &mappedIO{f: f, writable: writable, chunkSize: chunkSize}
	m.epoch.Store(&mmapEpoch{chunkSize: chunkSize})
	if err := m.remap(info.Size()); err != nil {
		return nil, err
	}
	return m, nil
}

// mapChunk is the chunk-mapping primitive, indirected so tests can inject
// mapping failures.
var mapChunk = mmapChunk

// remap builds a new epoch for newSize, reusing chunks whose offset and
// length are unchanged and mapping only the rest. Replacement chunks are
// mapped while their predecessors are still live; old chunks that were
// replaced or fall beyond the new count are unmapped only after the new
// epoch is published. On failure the prior epoch therefore remains current
// with every one of its chunks still mapped, and any chunks freshly mapped
// during the attempt are released.
func (m *mappedIO) remap(newSize int64) error {
	old := m.epoch.Load()
	var oldChunks [][]byte
	if old != nil {
		oldChunks = old.chunks
	}

	numChunks := 0
	if newSize > 0 {
		numChunks = int((newSize + m.chunkSize - 1) / m.chunkSize)
	}

	newChunks := make([][]byte, numChunks)
	freshlyMapped := make([]bool, numChunks)

	for i := 0; i < numChunks; i++ {
		chunkOff := int64(i) * m.chunkSize
		chunkLen := int(m.chunkSize)
		if chunkOff+int64(chunkLen) > newSize {
			chunkLen = int(newSize - chunkOff)
		}

		if i < len(oldChunks) && len(oldChunks[i]) == chunkLen {
			newChunks[i] = oldChunks[i]
			continue
		}

		mapped, err := mapChunk(m.f, chunkOff, chunkLen, m.writable)
		if err != nil {
			for j := 0; j < i; j++ {
				if freshlyMapped[j] {
					_ = munmapChunk(newChunks[j])
				}
			}
			return err
		}
		newChunks[i] = mapped
		freshlyMapped[i] = true
	}

	m.epoch.Store(&mmapEpoch{chunks: newChunks, size: newSize, chunkSize: m.chunkSize})

	for i := range oldChunks {
		if i < numChunks && !freshlyMapped[i] {
			continue // carried over into the new epoch
		}
		_ = munmapChunk(oldChunks[i])
	}
	return nil
}

// at finds the chunk and within-chunk offset for an absolute file offset
// under epoch e.
func (e *mmapEpoch) at(off int64) (chunk []byte, within int) {
	idx := int(off / e.chunkSize)
	if idx < 0 || idx >= len(e.chunks) {
		return nil, 0
	}
	return e.chunks[idx], int(off % e.chunkSize)
}

// copy walks p across one or more chunks of e starting at off, copying
// out of (write=false) or into (write=true) the mapping.
func (e *mmapEpoch) copy(off int64, p []byte, write bool) error {
	if off < 0 || off+int64(len(p)) > e.size {
		return io.ErrUnexpectedEOF
	}
	remaining := p
	cur := off
	for len(remaining) > 0 {
		chunk, within := e.at(cur)
		if chunk == nil {
			return io.ErrUnexpectedEOF
		}
		n := len(chunk) - within
		if n > len(remaining) {
			n = len(remaining)
		}
		if n <= 0 {
			return io.ErrUnexpectedEOF
		}
		if write {
			copy(chunk[within:within+n], remaining[:n])
		} else {
			copy(remaining[:n], chunk[within:within+n])
		}
		remaining = remaining[n:]
		cur += int64(n)
	}
	return nil
}

func (m *mappedIO) ReadFullyAt(p []byte, off int64) error {
	e := m.epoch.Load()
	return e.copy(off, p, false)
}

func (m *mappedIO) WriteAllAt(p []byte, off int64) error {
	e := m.epoch.Load()
	return e.copy(off, p, true)
}

// View returns a zero-copy window into the current epoch's mapping when the
// requested span falls inside a single chunk. The returned slice aliases
// the mapping and is only valid until the next remap; callers that hand it
// out must have opted out of defensive copying.
func (m *mappedIO) View(off int64, length int) ([]byte, bool) {
	e := m.epoch.Load()
	if off < 0 || off+int64(length) > e.size {
		return nil, false
	}
	chunk, within := e.at(off)
	if chunk == nil || within+length > len(chunk) {
		return nil, false
	}
	return chunk[within : within+length], true
}

func (m *mappedIO) Length() (int64, error) {
	return m.epoch.Load().size, nil
}

// SetLength truncates the underlying file and publishes a new epoch over
// the new extent. The file is truncated before mapping so the new chunks
// never cover bytes past end-of-file.
func (m *mappedIO) SetLength(size int64) error {
	if err := m.f.Truncate(size); err != nil {
		return err
	}
	return m.remap(size)
}

// Sync forces every mapped chunk to stable storage, then fsyncs the file
// descriptor for metadata and any unmapped tail.
func (m *mappedIO) Sync() error {
	e := m.epoch.Load()
	for _, c := range e.chunks {
		if err := msyncChunk(c); err != nil {
			return err
		}
	}
	return m.f.Sync()
}

// Close unmaps every chunk of the current epoch, deterministically, before
// closing the file descriptor.
func (m *mappedIO) Close() error {
	e := m.epoch.Load()
	for _, c := range e.chunks {
		_ = munmapChunk(c)
	}
	m.epoch.Store(&mmapEpoch{chunkSize: m.chunkSize})
	return m.f.Close()
}
