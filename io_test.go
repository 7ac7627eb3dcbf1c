// I/O backend tests and fault injection.
//
// The direct and mapped backends must be interchangeable behind ioBackend:
// the same positional reads and writes, the same length semantics, the
// same growth and shrink behaviour. The mapped backend additionally gets
// its epoch machinery exercised across chunk boundaries with a deliberately
// small chunk size.
//
// faultyIO wraps a real backend and fails writes on command; it drives the
// UNKNOWN-state transitions that cannot be reached through healthy disks.
package recordstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// openBackend returns a fresh backend of the requested flavour over a
// file initialised to the given size.
func openBackend(t *testing.T, mapped bool, size int64) ioBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	var b ioBackend
	if mapped {
		// 64 KiB chunks: page-aligned everywhere, small enough that the
		// tests cross chunk boundaries constantly.
		b, err = newMappedIO(f, true, 64*1024)
		if err != nil {
			t.Fatalf("newMappedIO: %v", err)
		}
	} else {
		b = newDirectIO(f)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// TestBackendReadWrite runs the same write/read/length sequence against
// both backends.
func TestBackendReadWrite(t *testing.T) {
	for _, mapped := range []bool{false, true} {
		name := "direct"
		if mapped {
			name = "mapped"
		}
		t.Run(name, func(t *testing.T) {
			b := openBackend(t, mapped, 256*1024)

			data := bytes.Repeat([]byte("abcdefgh"), 1024) // 8 KiB
			if err := b.WriteAllAt(data, 1000); err != nil {
				t.Fatalf("WriteAllAt: %v", err)
			}
			got := make([]byte, len(data))
			if err := b.ReadFullyAt(got, 1000); err != nil {
				t.Fatalf("ReadFullyAt: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("read back mismatch")
			}

			n, err := b.Length()
			if err != nil || n != 256*1024 {
				t.Errorf("Length = %d, %v, want %d", n, err, 256*1024)
			}
			if err := b.Sync(); err != nil {
				t.Errorf("Sync: %v", err)
			}
		})
	}
}

// TestBackendCrossChunk writes a span straddling a 64 KiB chunk boundary
// of the mapped backend and reads it back. A backend that only handled
// within-chunk spans would tear this write.
func TestBackendCrossChunk(t *testing.T) {
	b := openBackend(t, true, 256*1024)

	data := bytes.Repeat([]byte("xy"), 8*1024) // 16 KiB
	off := int64(64*1024 - 5000)               // straddles the first boundary
	if err := b.WriteAllAt(data, off); err != nil {
		t.Fatalf("WriteAllAt: %v", err)
	}
	got := make([]byte, len(data))
	if err := b.ReadFullyAt(got, off); err != nil {
		t.Fatalf("ReadFullyAt: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("cross-chunk read mismatch")
	}
}

// TestBackendSetLength grows and shrinks both backends, verifying data
// inside the surviving extent is preserved and reads past the new end
// fail.
func TestBackendSetLength(t *testing.T) {
	for _, mapped := range []bool{false, true} {
		name := "direct"
		if mapped {
			name = "mapped"
		}
		t.Run(name, func(t *testing.T) {
			b := openBackend(t, mapped, 128*1024)

			data := []byte("survives resize")
			if err := b.WriteAllAt(data, 100); err != nil {
				t.Fatalf("WriteAllAt: %v", err)
			}

			if err := b.SetLength(512 * 1024); err != nil {
				t.Fatalf("grow: %v", err)
			}
			if n, _ := b.Length(); n != 512*1024 {
				t.Errorf("Length after grow = %d", n)
			}
			got := make([]byte, len(data))
			if err := b.ReadFullyAt(got, 100); err != nil || !bytes.Equal(got, data) {
				t.Errorf("data lost across grow: %q, %v", got, err)
			}

			if err := b.SetLength(4096); err != nil {
				t.Fatalf("shrink: %v", err)
			}
			if err := b.ReadFullyAt(got, 100); err != nil || !bytes.Equal(got, data) {
				t.Errorf("data lost across shrink: %q, %v", got, err)
			}
			if err := b.ReadFullyAt(make([]byte, 16), 8192); err == nil {
				t.Errorf("read past end succeeded after shrink")
			}
		})
	}
}

// TestMappedEpochReuse verifies that growing the mapped file republishes
// an epoch that reuses every full chunk rather than remapping the world:
// the byte slices backing unchanged chunks must be identical.
func TestMappedEpochReuse(t *testing.T) {
	b := openBackend(t, true, 256*1024)
	m := b.(*mappedIO)

	before := m.epoch.Load()
	if err := b.SetLength(512 * 1024); err != nil {
		t.Fatalf("grow: %v", err)
	}
	after := m.epoch.Load()

	if len(after.chunks) <= len(before.chunks) {
		t.Fatalf("chunk count %d -> %d, want growth", len(before.chunks), len(after.chunks))
	}
	for i := range before.chunks {
		if len(before.chunks[i]) == int(m.chunkSize) && &before.chunks[i][0] != &after.chunks[i][0] {
			t.Errorf("full chunk %d was remapped on grow", i)
		}
	}
}

// TestMappedView verifies the zero-copy window: in-bounds within-chunk
// spans alias the mapping, spans crossing a chunk boundary or the end of
// file are refused.
func TestMappedView(t *testing.T) {
	b := openBackend(t, true, 256*1024)
	m := b.(*mappedIO)

	data := []byte("windowed")
	if err := b.WriteAllAt(data, 500); err != nil {
		t.Fatalf("WriteAllAt: %v", err)
	}
	view, ok := m.View(500, len(data))
	if !ok || !bytes.Equal(view, data) {
		t.Errorf("View = %q, %v", view, ok)
	}
	if _, ok := m.View(64*1024-4, 8); ok {
		t.Errorf("View across chunk boundary succeeded")
	}
	if _, ok := m.View(256*1024-4, 8); ok {
		t.Errorf("View past end of file succeeded")
	}
}

// TestRemapFailureKeepsPriorEpoch injects a chunk-mapping failure into a
// grow and verifies the backend honours its contract: the prior epoch
// stays published with every chunk still mapped and readable. Unmapping
// an old chunk before its replacement exists would leave an in-flight
// reader dereferencing released memory.
func TestRemapFailureKeepsPriorEpoch(t *testing.T) {
	b := openBackend(t, true, 256*1024)
	m := b.(*mappedIO)

	marker := []byte("last chunk payload")
	markerOff := int64(256*1024 - 64)
	if err := b.WriteAllAt(marker, markerOff); err != nil {
		t.Fatalf("WriteAllAt: %v", err)
	}
	before := m.epoch.Load()

	mapChunk = func(f *os.File, off int64, length int, writable bool) ([]byte, error) {
		return nil, errInjected
	}
	defer func() { mapChunk = mmapChunk }()

	if err := b.SetLength(300 * 1024); !errors.Is(err, errInjected) {
		t.Fatalf("SetLength = %v, want injected failure", err)
	}

	after := m.epoch.Load()
	if after != before {
		t.Fatalf("epoch was republished despite remap failure")
	}
	got := make([]byte, len(marker))
	if err := b.ReadFullyAt(got, markerOff); err != nil || !bytes.Equal(got, marker) {
		t.Errorf("prior epoch unreadable after failed remap: %q, %v", got, err)
	}
}

// faultyIO passes operations through to a real backend until armed, then
// fails every write (and, separately, every Length query) with
// errInjected.
type faultyIO struct {
	ioBackend
	failWrites bool
	failLength bool
}

var errInjected = errors.New("injected I/O failure")

func (f *faultyIO) WriteAllAt(p []byte, off int64) error {
	if f.failWrites {
		return errInjected
	}
	return f.ioBackend.WriteAllAt(p, off)
}

func (f *faultyIO) SetLength(size int64) error {
	if f.failWrites {
		return errInjected
	}
	return f.ioBackend.SetLength(size)
}

func (f *faultyIO) Length() (int64, error) {
	if f.failLength {
		return 0, errInjected
	}
	return f.ioBackend.Length()
}

// TestWriteFailureTransitionsToUnknown verifies the fatal path: once a
// mutation hits an I/O error, the instance answers every call except
// Close with ErrStoreUnusable, and Close still releases cleanly.
func TestWriteFailureTransitionsToUnknown(t *testing.T) {
	s := openTestStore(t, Options{})
	mustInsert(t, s, "k", "v")

	fio := &faultyIO{ioBackend: s.io}
	s.io = fio
	fio.failWrites = true

	if err := s.Update([]byte("k"), []byte("w")); !errors.Is(err, errInjected) {
		t.Fatalf("Update = %v, want injected failure", err)
	}

	if _, err := s.Read([]byte("k")); !errors.Is(err, ErrStoreUnusable) {
		t.Errorf("Read = %v, want ErrStoreUnusable", err)
	}
	if err := s.Insert([]byte("x"), nil); !errors.Is(err, ErrStoreUnusable) {
		t.Errorf("Insert = %v, want ErrStoreUnusable", err)
	}
	if _, err := s.Size(); !errors.Is(err, ErrStoreUnusable) {
		t.Errorf("Size = %v, want ErrStoreUnusable", err)
	}

	fio.failWrites = false
	if err := s.Close(); err != nil {
		t.Errorf("Close after unknown: %v", err)
	}
}

// TestLengthFailureSurfacesFromUpdate verifies the last-block probe does
// not swallow I/O errors: a Length failure while sizing up an update must
// surface to the caller and take the store to the unknown state, not fall
// through to relocation as if the record simply were not last.
func TestLengthFailureSurfacesFromUpdate(t *testing.T) {
	s := openTestStore(t, Options{PreallocatedRecords: 8})
	mustInsert(t, s, "k", "small")

	fio := &faultyIO{ioBackend: s.io}
	s.io = fio
	fio.failLength = true

	// Larger than the block's capacity, so the update must consult the
	// file length before choosing a path.
	err := s.Update([]byte("k"), bytes.Repeat([]byte("x"), 500))
	if !errors.Is(err, errInjected) {
		t.Fatalf("Update = %v, want injected failure", err)
	}
	if _, err := s.Read([]byte("k")); !errors.Is(err, ErrStoreUnusable) {
		t.Errorf("Read = %v, want ErrStoreUnusable", err)
	}

	fio.failLength = false
	if err := s.Close(); err != nil {
		t.Errorf("Close after unknown: %v", err)
	}
}

// TestWriteFailureRecoveryByReopen verifies that the committed pre-state
// survives an injected failure: reopening the same file sees the last
// successful operation's result.
func TestWriteFailureRecoveryByReopen(t *testing.T) {
	path := testPath(t)
	s, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustInsert(t, s, "k", "committed")

	fio := &faultyIO{ioBackend: s.io}
	s.io = fio
	fio.failWrites = true
	if err := s.Update([]byte("k"), []byte("doomed")); err == nil {
		t.Fatalf("Update with injected failure succeeded")
	}
	fio.failWrites = false
	s.Close()

	s2, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	mustRead(t, s2, "k", "committed")
}
