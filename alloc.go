// Free-space and relocation policy.
//
// Allocation prefers front free space (the gap below the data-start
// pointer), then the tightest free tail of an existing block, then
// end-of-file growth. Every payload is padded to at least one index-slot
// width so that growing the index region displaces at most one record per
// additional slot.
//
// A deleted block at the end of the file is trimmed off it. Any other
// deleted or relocated block's span is donated to the record immediately
// preceding it, or to front free space when the block was first in the
// data region, so the record capacity spans tile [data_start_ptr,
// file_length) exactly, apart from the crash-recovery gap described at
// donate.
package recordstore

// futureSlotReserve is the number of index slots held back from front free
// space during allocation, so the next insert or two can grow the index
// without displacing the block just placed.
const futureSlotReserve = 2

// allocate returns a header owning at least serLen bytes of capacity, for
// a store that will hold `slots` index slots after the current operation.
// The returned header's data_count is noCountWritten; the caller sets it on
// the first payload write. Donor headers mutated by a split are persisted
// here.
func (s *Store) allocate(serLen, slots int) (recordHeader, error) {
	padded := serLen
	if padded < s.entryLen {
		padded = s.entryLen
	}

	// Preferred: carve from front free space, leaving room for future
	// index slots. The new block sits immediately below the current data
	// start, which moves down to own it.
	reserved := s.endOfIndex(slots) + int64(futureSlotReserve)*int64(s.entryLen)
	if frontFree := int64(s.hdr.dataStartPtr) - reserved; int64(padded) <= frontFree {
		ptr := s.hdr.dataStartPtr - uint64(padded)
		s.hdr.dataStartPtr = ptr
		return recordHeader{
			dataPointer:  ptr,
			dataCapacity: uint32(padded),
			dataCount:    noCountWritten,
		}, nil
	}

	// Next: split the tightest free tail that fits. The donor keeps only
	// its used span; the entire free tail transfers to the new header.
	if donor := s.free.firstAtLeast(uint32(padded)); donor != nil {
		newHdr := donor.hdr.split(0, s.crcEnabled())
		if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(donor.slot), donor.hdr); err != nil {
			return recordHeader{}, err
		}
		s.refreshFree(donor)
		return newHdr, nil
	}

	// Last resort: grow the file. An expansion percentage grants the new
	// block extra capacity beyond the request.
	fileLen, err := s.io.Length()
	if err != nil {
		return recordHeader{}, err
	}
	grow := padded
	if pct := s.opts.PreferredExpansionPercent; pct > 0 {
		grow += padded * pct / 100
	}
	if err := s.io.SetLength(fileLen + int64(grow)); err != nil {
		return recordHeader{}, err
	}
	return recordHeader{
		dataPointer:  uint64(fileLen),
		dataCapacity: uint32(grow),
		dataCount:    noCountWritten,
	}, nil
}

// ensureIndexSpace makes room for an index region of n slots, relocating
// the record at the data start to end-of-file until the region fits. With
// slot-width padding each relocation frees at least one slot's worth of
// space, so the loop runs at most once per additional slot.
func (s *Store) ensureIndexSpace(n int) error {
	needed := s.endOfIndex(n)
	if uint64(needed) <= s.hdr.dataStartPtr {
		return nil
	}
	if s.opts.DisableHeaderExpansion {
		return ErrCapacityExceeded
	}

	if len(s.index) == 0 {
		fileLen, err := s.io.Length()
		if err != nil {
			return err
		}
		if fileLen < needed {
			if err := s.io.SetLength(needed); err != nil {
				return err
			}
		}
		s.hdr.dataStartPtr = uint64(needed)
		return s.writeFileHeaderNow()
	}

	for uint64(needed) > s.hdr.dataStartPtr {
		rec := s.firstRecord()
		if rec == nil {
			// Nothing left in the data region below the requested end;
			// the remaining gap is all front free space.
			s.hdr.dataStartPtr = uint64(needed)
			break
		}
		if err := s.relocateToEnd(rec); err != nil {
			return err
		}
	}
	return s.writeFileHeaderNow()
}

// firstRecord returns the record with the lowest data pointer, or nil when
// the store is empty.
func (s *Store) firstRecord() *record {
	var first *record
	for _, rec := range s.index {
		if first == nil || rec.hdr.dataPointer < first.hdr.dataPointer {
			first = rec
		}
	}
	return first
}

// recordAt returns the record whose payload capacity span contains the file
// offset fp, or nil. A linear scan over the primary index.
func (s *Store) recordAt(fp uint64) *record {
	for _, rec := range s.index {
		if fp >= rec.hdr.dataPointer && fp < rec.hdr.dataPointer+uint64(rec.hdr.dataCapacity) {
			return rec
		}
	}
	return nil
}

// relocateToEnd moves rec's payload block to end-of-file, keeping its
// capacity, and advances the data start past the vacated span. The payload
// is written at its new home before the header is repointed, so a crash in
// between leaves the old, still-valid copy authoritative.
func (s *Store) relocateToEnd(rec *record) error {
	raw, err := s.readPayloadRaw(rec)
	if err != nil {
		return err
	}
	fileLen, err := s.io.Length()
	if err != nil {
		return err
	}
	if err := s.io.SetLength(fileLen + int64(rec.hdr.dataCapacity)); err != nil {
		return err
	}
	if err := s.io.WriteAllAt(raw, fileLen); err != nil {
		return err
	}

	oldEnd := rec.hdr.dataPointer + uint64(rec.hdr.dataCapacity)
	s.dropFree(rec)
	rec.hdr.dataPointer = uint64(fileLen)
	if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(rec.slot), rec.hdr); err != nil {
		return err
	}
	s.refreshFree(rec)
	s.hdr.dataStartPtr = oldEnd
	return s.writeFileHeaderNow()
}

// donate hands the span [ptr, ptr+capacity) to front free space when the
// block sat at the data start, otherwise to the record immediately
// preceding it. A span with no adjacent owner (possible only after a
// crash left an unreferenced gap in the data region) is leaked until the
// next Compact rather than risk advancing the data start past live
// records. The caller persists the file header afterwards.
func (s *Store) donate(ptr uint64, capacity uint32) error {
	if ptr == s.hdr.dataStartPtr {
		s.hdr.dataStartPtr = ptr + uint64(capacity)
		return nil
	}
	if pred := s.recordAt(ptr - 1); pred != nil {
		s.dropFree(pred)
		pred.hdr.dataCapacity += capacity
		if err := writeRecordHeaderAt(s.io, s.slotHeaderOffset(pred.slot), pred.hdr); err != nil {
			return err
		}
		s.refreshFree(pred)
	}
	return nil
}
