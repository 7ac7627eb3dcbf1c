// Update operation.
//
// Three paths, in precedence order: in place (same size, or shrinking with
// payload CRC on), resize in place when the record is last in the file,
// and otherwise relocation to a freshly allocated block with the vacated
// span donated away. Snapshotting mode forces every update through
// relocation so readers of the old block can never observe a torn value.
// Shrinking with CRC disabled skips the first path (it resizes a block
// that is last in the file and relocates any other), because without the
// CRC binding data_count to the payload bytes an interrupted in-place
// shrink would read back as silent corruption rather than a detectable one.
package recordstore

import "fmt"

// Update replaces the value of an existing record.
func (s *Store) Update(key, value []byte) error {
	if err := s.begin(true); err != nil {
		return err
	}
	defer s.end()

	rec, ok := s.index[string(key)]
	if !ok {
		return fmt.Errorf("update: %w", ErrKeyNotFound)
	}

	crcEnabled := s.crcEnabled()
	serLen := payloadSerializedLength(len(value), crcEnabled)
	capacity := int(rec.hdr.dataCapacity)
	inPlaceAllowed := !s.opts.DisableInPlaceUpdates

	if inPlaceAllowed {
		if serLen == capacity || (serLen < capacity && crcEnabled) {
			return s.updateInPlace(rec, value)
		}
		last, err := s.isLastBlock(rec)
		if err != nil {
			return s.fatal(fmt.Errorf("update: %w", err))
		}
		if last {
			return s.updateLastBlock(rec, value, serLen)
		}
	}
	return s.updateRelocate(rec, value, serLen)
}

// isLastBlock reports whether rec's capacity span ends at end-of-file.
func (s *Store) isLastBlock(rec *record) (bool, error) {
	fileLen, err := s.io.Length()
	if err != nil {
		return false, err
	}
	return rec.hdr.dataPointer+uint64(rec.hdr.dataCapacity) == uint64(fileLen), nil
}

// updateInPlace overwrites the payload in its existing block using the
// dual-write protocol: header with the old count, payload bytes, header
// with the new count. At least one valid header exists on disk throughout,
// and with payload CRC on a torn payload reads back as detectably corrupt
// rather than silently wrong.
func (s *Store) updateInPlace(rec *record, value []byte) error {
	if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(rec.slot), rec.hdr); err != nil {
		return s.fatal(fmt.Errorf("update: header: %w", err))
	}
	if err := s.writePayload(rec.hdr.dataPointer, value); err != nil {
		return s.fatal(fmt.Errorf("update: payload: %w", err))
	}
	newHdr := rec.hdr
	newHdr.dataCount = int32(len(value))
	if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(rec.slot), newHdr); err != nil {
		return s.fatal(fmt.Errorf("update: commit header: %w", err))
	}
	s.dropFree(rec)
	rec.hdr = newHdr
	s.refreshFree(rec)
	return nil
}

// updateLastBlock resizes the final block of the file to exactly the new
// serialised length, growing or shrinking the file with it.
func (s *Store) updateLastBlock(rec *record, value []byte, serLen int) error {
	ptr := rec.hdr.dataPointer
	newEnd := int64(ptr) + int64(serLen)

	if serLen > int(rec.hdr.dataCapacity) {
		if err := s.io.SetLength(newEnd); err != nil {
			return s.fatal(fmt.Errorf("update: grow: %w", err))
		}
	}
	if err := s.writePayload(ptr, value); err != nil {
		return s.fatal(fmt.Errorf("update: payload: %w", err))
	}
	newHdr := rec.hdr
	newHdr.dataCapacity = uint32(serLen)
	newHdr.dataCount = int32(len(value))
	if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(rec.slot), newHdr); err != nil {
		return s.fatal(fmt.Errorf("update: commit header: %w", err))
	}
	if serLen < int(rec.hdr.dataCapacity) {
		if err := s.io.SetLength(newEnd); err != nil {
			return s.fatal(fmt.Errorf("update: trim: %w", err))
		}
	}
	s.dropFree(rec)
	rec.hdr = newHdr
	s.refreshFree(rec)
	return nil
}

// updateRelocate writes the new value into a freshly allocated block,
// repoints the record's index slot at it, and donates the vacated span to
// the preceding record or to front free space.
func (s *Store) updateRelocate(rec *record, value []byte, serLen int) error {
	newHdr, err := s.allocate(serLen, int(s.hdr.numRecords))
	if err != nil {
		return s.fatal(fmt.Errorf("update: allocate: %w", err))
	}
	if err := s.writePayload(newHdr.dataPointer, value); err != nil {
		return s.fatal(fmt.Errorf("update: payload: %w", err))
	}
	newHdr.dataCount = int32(len(value))
	if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(rec.slot), newHdr); err != nil {
		return s.fatal(fmt.Errorf("update: commit header: %w", err))
	}

	oldPtr := rec.hdr.dataPointer
	oldCap := rec.hdr.dataCapacity
	s.dropFree(rec)
	rec.hdr = newHdr
	s.refreshFree(rec)

	if err := s.donate(oldPtr, oldCap); err != nil {
		return s.fatal(fmt.Errorf("update: donate: %w", err))
	}
	if err := s.writeFileHeaderNow(); err != nil {
		return s.fatal(fmt.Errorf("update: commit: %w", err))
	}
	return nil
}
