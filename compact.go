// Compact: rewrite the file into a fresh, fully defragmented layout.
//
// Compact walks the index in slot order, writes every live record
// contiguously from the end of an index region sized for the live records
// (or for PreallocatedRecords slots, if larger), and atomically swaps the
// rewrite into place with a rename. Donated tails and crash leftovers
// disappear, front free space shrinks to the unused preallocated slots,
// and every record keeps its slot position. Until the
// rename, the original file is untouched, so a failed rewrite leaves the
// store fully operational.
package recordstore

import (
	"fmt"
	"os"
)

// Compact rewrites the store file with an index region of
// max(record count, PreallocatedRecords) slots followed directly by the
// data region, then swaps file handles. Front free space remains only
// when PreallocatedRecords exceeds the record count. Record free space after a compact
// is only the slot-width padding floor.
func (s *Store) Compact() error {
	if err := s.begin(true); err != nil {
		return err
	}
	defer s.end()

	tmpPath := s.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	abort := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("compact: %w", err)
	}

	slots := len(s.slots)
	if slots < s.opts.PreallocatedRecords {
		slots = s.opts.PreallocatedRecords
	}
	dataStart := s.endOfIndex(slots)

	// Phase 1: write records, keys, and headers into the rewrite.
	newHdrs := make([]recordHeader, len(s.slots))
	cur := dataStart
	for i, rec := range s.slots {
		value, err := s.readPayload(rec)
		if err != nil {
			return abort(err)
		}
		payload := encodePayload(value, s.crcEnabled())
		capacity := len(payload)
		if capacity < s.entryLen {
			capacity = s.entryLen
		}
		if _, err := tmp.WriteAt(payload, cur); err != nil {
			return abort(err)
		}
		hdr := recordHeader{
			dataPointer:  uint64(cur),
			dataCapacity: uint32(capacity),
			dataCount:    int32(len(value)),
		}
		if _, err := tmp.WriteAt(encodeKeySlot(rec.key, s.maxKeyLen()), s.slotOffset(i)); err != nil {
			return abort(err)
		}
		if _, err := tmp.WriteAt(hdr.encode(), s.slotHeaderOffset(i)); err != nil {
			return abort(err)
		}
		newHdrs[i] = hdr
		cur += int64(capacity)
	}

	newFileHdr := fileHeader{
		maxKeyLength: s.hdr.maxKeyLength,
		numRecords:   uint32(len(s.slots)),
		dataStartPtr: uint64(dataStart),
	}
	if _, err := tmp.WriteAt(newFileHdr.encode(), 0); err != nil {
		return abort(err)
	}
	// Extend the file to the end of the last block's capacity (the data
	// start for an empty store), so a block padded past its payload still
	// ends inside the file.
	if err := tmp.Truncate(cur); err != nil {
		return abort(err)
	}
	if err := tmp.Sync(); err != nil {
		return abort(err)
	}
	if err := tmp.Close(); err != nil {
		return abort(err)
	}

	// Phase 2: swap handles. From here a failure leaves the instance in an
	// undefined relationship to the file, so it goes to unknown.
	s.flock.Unlock()
	s.flock.setFile(nil)
	if err := s.io.Close(); err != nil {
		return s.fatal(fmt.Errorf("compact: close old: %w", err))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return s.fatal(fmt.Errorf("compact: rename: %w", err))
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0644)
	if err != nil {
		return s.fatal(fmt.Errorf("compact: reopen: %w", err))
	}
	s.flock.setFile(f)
	if err := s.flock.Lock(LockExclusive); err != nil {
		return s.fatal(fmt.Errorf("compact: relock: %w", err))
	}
	if s.opts.MemoryMapped {
		backend, err := newMappedIO(f, true, int64(s.opts.PreferredBlockSizeKiB)*1024)
		if err != nil {
			return s.fatal(fmt.Errorf("compact: remap: %w", err))
		}
		s.io = backend
	} else {
		s.io = newDirectIO(f)
	}

	// Adopt the rewritten layout in memory.
	s.hdr = newFileHdr
	s.free = freeList{}
	for i, rec := range s.slots {
		rec.hdr = newHdrs[i]
		rec.freeRegistered = false
		s.refreshFree(rec)
	}
	return nil
}
