// Direct I/O backend: a standard positioned file handle.
package recordstore

import (
	"errors"
	"io"
	"os"
)

// directIO implements ioBackend over a single *os.File using positioned
// reads and writes, so it needs no explicit seek/cursor bookkeeping.
type directIO struct {
	f *os.File
}

func newDirectIO(f *os.File) *directIO {
	return &directIO{f: f}
}

func (d *directIO) ReadFullyAt(p []byte, off int64) error {
	n, err := d.f.ReadAt(p, off)
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		return err
	}
	return nil
}

func (d *directIO) WriteAllAt(p []byte, off int64) error {
	_, err := d.f.WriteAt(p, off)
	return err
}

func (d *directIO) Length() (int64, error) {
	info, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (d *directIO) SetLength(size int64) error {
	return d.f.Truncate(size)
}

// Sync flushes data and metadata of the underlying file descriptor.
func (d *directIO) Sync() error {
	return d.f.Sync()
}

func (d *directIO) Close() error {
	return d.f.Close()
}
