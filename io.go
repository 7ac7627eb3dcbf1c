// File I/O abstraction.
//
// ioBackend is a capability set implemented by two concrete variants: a
// direct backend over a positioned *os.File, and a memory-mapped backend
// over a sequence of equal-sized mapped chunks with live remapping. The
// store holds exactly one concrete variant per instance; there is no
// dynamic dispatch beyond the one interface boundary.
//
// ioBackend guarantees single-threaded cooperative safety only: the Store
// serialises all callers with its own lock.
package recordstore

// ioBackend is the uniform seek/read/write/length/sync surface the store
// engine issues every byte through.
type ioBackend interface {
	// ReadFullyAt reads len(p) bytes starting at off, failing if fewer are
	// available.
	ReadFullyAt(p []byte, off int64) error

	// WriteAllAt writes all of p starting at off as a single logical
	// operation.
	WriteAllAt(p []byte, off int64) error

	// Length returns the current file length.
	Length() (int64, error)

	// SetLength grows or shrinks the file to exactly size bytes. For the
	// memory-mapped backend this publishes a new epoch (see mmap.go).
	SetLength(size int64) error

	// Sync forces pending writes to stable storage.
	Sync() error

	// Close releases the backend's resources. A second call returns the
	// error from closing an already-closed file.
	Close() error
}
