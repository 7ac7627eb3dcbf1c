// Delete operation and index-slot compaction.
//
// The index region never has holes: the deleted record's slot is
// overwritten by the last slot's key and header before the record count is
// decremented. Freed payload capacity is then trimmed off the end of the
// file, or donated to the preceding block.
package recordstore

import "fmt"

// Delete removes an existing record.
func (s *Store) Delete(key []byte) error {
	if err := s.begin(true); err != nil {
		return err
	}
	defer s.end()

	rec, ok := s.index[string(key)]
	if !ok {
		return fmt.Errorf("delete: %w", ErrKeyNotFound)
	}

	// (a) compact the index: move the last slot into the vacated one.
	last := int(s.hdr.numRecords) - 1
	if rec.slot != last {
		moved := s.slots[last]
		if err := writeKeySlotAt(s.io, s.slotOffset(rec.slot), moved.key, s.maxKeyLen()); err != nil {
			return s.fatal(fmt.Errorf("delete: move key: %w", err))
		}
		if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(rec.slot), moved.hdr); err != nil {
			return s.fatal(fmt.Errorf("delete: move header: %w", err))
		}
		moved.slot = rec.slot
		s.slots[rec.slot] = moved
	}
	s.slots = s.slots[:last]

	// (b) decrement the record count.
	s.hdr.numRecords--
	if err := s.writeFileHeaderNow(); err != nil {
		return s.fatal(fmt.Errorf("delete: commit: %w", err))
	}
	delete(s.index, string(rec.key))
	s.dropFree(rec)

	// (c) trim or donate the freed capacity.
	fileLen, err := s.io.Length()
	if err != nil {
		return s.fatal(fmt.Errorf("delete: %w", err))
	}
	ptr, capacity := rec.hdr.dataPointer, rec.hdr.dataCapacity
	if ptr+uint64(capacity) == uint64(fileLen) {
		if err := s.io.SetLength(int64(ptr)); err != nil {
			return s.fatal(fmt.Errorf("delete: trim: %w", err))
		}
	} else if err := s.donate(ptr, capacity); err != nil {
		return s.fatal(fmt.Errorf("delete: donate: %w", err))
	}
	if err := s.writeFileHeaderNow(); err != nil {
		return s.fatal(fmt.Errorf("delete: commit: %w", err))
	}
	return nil
}
