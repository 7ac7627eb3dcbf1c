// Core store type and lifecycle operations.
//
// Store is the engine instance: it owns the file handle (direct or
// memory-mapped), the OS-level file lock, the cached file header, and the
// in-memory index. Every public operation runs to completion under one
// exclusive lock; there are no suspension points visible to callers.
//
// The state machine has four states. A store opens into read-write or
// read-only, transitions to unknown on any I/O failure observed after a
// mutation has begun, and to closed on Close. In unknown every method
// except Close fails; recovery requires reopening from disk.
package recordstore

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// AccessMode selects how Open acquires the file.
type AccessMode int

const (
	AccessReadWrite AccessMode = iota
	AccessReadOnly
)

// Store lifecycle states.
const (
	stateReadWrite = 0 // All operations allowed
	stateReadOnly  = 1 // Mutations rejected with ErrReadOnly
	stateUnknown   = 2 // Fatal I/O failure observed; only Close allowed
	stateClosed    = 3 // Store closed
)

// defaultMaxKeyLength applies when Options.MaxKeyLength is zero and the
// file is being created.
const defaultMaxKeyLength = 64

// Options holds store configuration. The zero value is a read-write store
// with payload CRC, defensive copying, in-place updates, and header-region
// expansion all enabled, direct (non-mapped) I/O, and a 64-byte key limit.
type Options struct {
	Access              AccessMode // AccessReadWrite or AccessReadOnly
	PreallocatedRecords int        // index slots reserved at creation
	MaxKeyLength        int        // 1..32763; 0 adopts the file's stored value (or 64 when creating)

	DisablePayloadCRC      bool // skip the trailing CRC32 on payload blocks
	MemoryMapped           bool // use the chunked mmap backend instead of positioned I/O
	DisableDefensiveCopy   bool // let Read return windows into the mapping
	DisableInPlaceUpdates  bool // force every update through relocation (snapshotting mode)
	DisableHeaderExpansion bool // fail inserts that would relocate a record to grow the index

	PreferredBlockSizeKiB     int // mmap chunk size override, in KiB
	PreferredExpansionPercent int // extra capacity granted on end-of-file growth
}

// Store is an open record store. All methods are safe for concurrent use
// by multiple goroutines; operations are serialised by an exclusive lock.
type Store struct {
	path string
	opts Options

	io    ioBackend
	flock *fileLock

	entryLen int // INDEX_ENTRY_LENGTH for this file's max key length

	mu    sync.Mutex
	state atomic.Int32
	hdr   fileHeader
	index map[string]*record
	slots []*record // slot position -> record, for index compaction on delete
	free  freeList
}

// Open opens or creates a store file.
//
// Opening an existing file requires the effective MaxKeyLength to match the
// value stored in the file header; a mismatch fails with
// ErrKeyLengthMismatch and releases every handle before returning.
func Open(path string, opts Options) (*Store, error) {
	if opts.MaxKeyLength < 0 || opts.MaxKeyLength > maxMaxKeyLength {
		return nil, fmt.Errorf("open: max key length %d out of range: %w", opts.MaxKeyLength, ErrKeyTooLong)
	}

	readOnly := opts.Access == AccessReadOnly
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open: %w", err)
	}

	// Initialise a brand-new file before any mapping is built, so the
	// mapped backend never has to map a zero-length extent.
	if info.Size() == 0 {
		if readOnly {
			f.Close()
			return nil, fmt.Errorf("open: %w", ErrFileTooShort)
		}
		maxKey := opts.MaxKeyLength
		if maxKey == 0 {
			maxKey = defaultMaxKeyLength
		}
		if err := initialiseFile(f, maxKey, opts.PreallocatedRecords); err != nil {
			f.Close()
			return nil, fmt.Errorf("open: %w", err)
		}
	}

	// Hold the OS-level lock for the lifetime of the instance: exclusive
	// for writers, shared for readers.
	flock := &fileLock{f: f}
	mode := LockExclusive
	if readOnly {
		mode = LockShared
	}
	if err := flock.Lock(mode); err != nil {
		f.Close()
		return nil, fmt.Errorf("open: lock: %w", err)
	}

	var backend ioBackend
	if opts.MemoryMapped {
		backend, err = newMappedIO(f, !readOnly, int64(opts.PreferredBlockSizeKiB)*1024)
		if err != nil {
			flock.Unlock()
			f.Close()
			return nil, fmt.Errorf("open: mmap: %w", err)
		}
	} else {
		backend = newDirectIO(f)
	}

	s := &Store{
		path:  path,
		opts:  opts,
		io:    backend,
		flock: flock,
		index: make(map[string]*record),
	}
	if err := s.populate(); err != nil {
		flock.Unlock()
		backend.Close()
		return nil, fmt.Errorf("open: %w", err)
	}

	if readOnly {
		s.state.Store(stateReadOnly)
	} else {
		s.state.Store(stateReadWrite)
	}
	return s, nil
}

// initialiseFile writes the file header and preallocated index region of a
// brand-new store file.
func initialiseFile(f *os.File, maxKeyLength, preallocated int) error {
	if maxKeyLength < 1 {
		return ErrKeyEmpty
	}
	if preallocated < 0 {
		preallocated = 0
	}
	dataStart := int64(fileHeaderSize) + int64(preallocated)*int64(indexEntryLength(maxKeyLength))
	hdr := fileHeader{
		maxKeyLength: uint16(maxKeyLength),
		numRecords:   0,
		dataStartPtr: uint64(dataStart),
	}
	if err := f.Truncate(dataStart); err != nil {
		return err
	}
	if _, err := f.WriteAt(hdr.encode(), 0); err != nil {
		return err
	}
	return f.Sync()
}

// populate reads the file header, validates it against the options, and
// builds the in-memory index from every slot in 0..numRecords-1.
func (s *Store) populate() error {
	hdr, err := readFileHeader(s.io)
	if err != nil {
		return err
	}
	if s.opts.MaxKeyLength != 0 && int(hdr.maxKeyLength) != s.opts.MaxKeyLength {
		return fmt.Errorf("file has max key length %d, caller requires %d: %w",
			hdr.maxKeyLength, s.opts.MaxKeyLength, ErrKeyLengthMismatch)
	}
	s.hdr = hdr
	s.entryLen = indexEntryLength(int(hdr.maxKeyLength))

	fileLen, err := s.io.Length()
	if err != nil {
		return err
	}
	if uint64(fileLen) < s.hdr.dataStartPtr {
		return ErrFileTooShort
	}
	if s.endOfIndex(int(s.hdr.numRecords)) > int64(s.hdr.dataStartPtr) {
		return ErrFileTooShort
	}

	s.slots = make([]*record, s.hdr.numRecords)
	for i := 0; i < int(s.hdr.numRecords); i++ {
		key, err := readKeySlotAt(s.io, s.slotOffset(i), s.maxKeyLen())
		if err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		rh, err := readRecordHeaderAt(s.io, s.slotHeaderOffset(i))
		if err != nil {
			return fmt.Errorf("slot %d: %w", i, err)
		}
		if rh.dataCount >= 0 {
			used := payloadSerializedLength(int(rh.dataCount), s.crcEnabled())
			if uint32(used) > rh.dataCapacity {
				return fmt.Errorf("slot %d: %w", i, ErrHeaderCorrupt)
			}
		}
		if prev, dup := s.index[string(key)]; dup {
			// An identical twin in the final slot is an interrupted
			// delete: the last slot was copied down over the deleted one
			// but the crash hit before the count decrement. Finish the
			// delete by dropping the stale final slot. Any other
			// duplicate is corruption.
			if i == int(s.hdr.numRecords)-1 && prev.hdr == rh {
				s.hdr.numRecords--
				s.slots = s.slots[:i]
				if s.opts.Access != AccessReadOnly {
					if err := s.writeFileHeaderNow(); err != nil {
						return err
					}
				}
				break
			}
			return fmt.Errorf("slot %d: duplicate key in index: %w", i, ErrHeaderCorrupt)
		}
		rec := &record{key: key, hdr: rh, slot: i}
		s.index[string(key)] = rec
		s.slots[i] = rec
		s.refreshFree(rec)
	}

	// A crash can commit a record header whose block sits below the
	// persisted data start (the pointer move was the part that never hit
	// disk). Clamp the data start down so front-free allocation can never
	// carve over a live block.
	for _, rec := range s.index {
		if rec.hdr.dataPointer < s.hdr.dataStartPtr {
			s.hdr.dataStartPtr = rec.hdr.dataPointer
		}
	}
	if s.endOfIndex(int(s.hdr.numRecords)) > int64(s.hdr.dataStartPtr) {
		return ErrFileTooShort
	}
	return nil
}

// Accessors used throughout the engine. All assume the store lock is held.

func (s *Store) maxKeyLen() int   { return int(s.hdr.maxKeyLength) }
func (s *Store) crcEnabled() bool { return !s.opts.DisablePayloadCRC }

func (s *Store) slotOffset(i int) int64 {
	return slotOffset(i, s.maxKeyLen())
}

func (s *Store) slotHeaderOffset(i int) int64 {
	return slotHeaderOffset(i, s.maxKeyLen())
}

// endOfIndex returns the first offset past an index region of n slots.
func (s *Store) endOfIndex(n int) int64 {
	return int64(fileHeaderSize) + int64(n)*int64(s.entryLen)
}

// begin acquires the exclusive lock and checks the state machine. On a nil
// return the caller must release with end().
func (s *Store) begin(write bool) error {
	s.mu.Lock()
	switch s.state.Load() {
	case stateClosed:
		s.mu.Unlock()
		return ErrStoreClosed
	case stateUnknown:
		s.mu.Unlock()
		return ErrStoreUnusable
	case stateReadOnly:
		if write {
			s.mu.Unlock()
			return ErrReadOnly
		}
	}
	return nil
}

func (s *Store) end() {
	s.mu.Unlock()
}

// fatal transitions the store to the unknown state after an I/O failure
// observed mid-mutation and returns the (wrapped) error for the caller.
func (s *Store) fatal(err error) error {
	s.state.Store(stateUnknown)
	return err
}

// writeFileHeaderNow persists the cached file header.
func (s *Store) writeFileHeaderNow() error {
	return writeFileHeader(s.io, s.hdr)
}

// Fsync forces all pending writes to stable storage. Durability points are
// exactly the calls to Fsync and Close.
func (s *Store) Fsync() error {
	if err := s.begin(false); err != nil {
		return err
	}
	defer s.end()
	if err := s.io.Sync(); err != nil {
		return s.fatal(fmt.Errorf("fsync: %w", err))
	}
	return nil
}

// Close releases I/O resources and transitions to closed. A final fsync is
// issued for read-write stores that are still healthy. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state.Load() {
	case stateClosed:
		return nil
	case stateReadWrite:
		if err := s.io.Sync(); err != nil {
			// Still release resources; the error is reported.
			s.state.Store(stateClosed)
			s.flock.Unlock()
			s.flock.setFile(nil)
			s.io.Close()
			return fmt.Errorf("close: %w", err)
		}
	}

	s.state.Store(stateClosed)
	s.flock.Unlock()
	s.flock.setFile(nil)
	if err := s.io.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// IsClosed reports whether Close has completed.
func (s *Store) IsClosed() bool {
	return s.state.Load() == stateClosed
}
