// Read-only diagnostics: store statistics and index dumping.
package recordstore

import "iter"

// StoreStats is a point-in-time summary of the store's layout.
type StoreStats struct {
	Records       int    // live record count
	IndexSlots    int    // slots that fit below the data start
	MaxKeyLength  int    // as recorded in the file header
	FileLength    int64  // total file bytes
	DataStart     int64  // absolute offset of the data region
	FrontFree     int64  // bytes between the occupied index region and the data start
	FreeEntries   int    // records with strictly positive free space
	FreeBytes     uint64 // total free bytes across those records
	PayloadCRC    bool   // whether payload CRC32 is in effect
	MemoryMapped  bool   // whether the mapped backend is in use
}

// Stat returns current layout statistics.
func (s *Store) Stat() (StoreStats, error) {
	if err := s.begin(false); err != nil {
		return StoreStats{}, err
	}
	defer s.end()

	fileLen, err := s.io.Length()
	if err != nil {
		return StoreStats{}, s.fatal(err)
	}
	return StoreStats{
		Records:      len(s.index),
		IndexSlots:   int((int64(s.hdr.dataStartPtr) - fileHeaderSize) / int64(s.entryLen)),
		MaxKeyLength: s.maxKeyLen(),
		FileLength:   fileLen,
		DataStart:    int64(s.hdr.dataStartPtr),
		FrontFree:    int64(s.hdr.dataStartPtr) - s.endOfIndex(len(s.index)),
		FreeEntries:  s.free.len(),
		FreeBytes:    s.free.totalFree(),
		PayloadCRC:   s.crcEnabled(),
		MemoryMapped: s.opts.MemoryMapped,
	}, nil
}

// SlotDump describes one index slot for diagnostic tooling.
type SlotDump struct {
	Slot          int
	Key           []byte
	DataPointer   uint64
	DataCapacity  uint32
	DataCount     int32
	PayloadLength int // serialised payload bytes, -1 before first write
}

// DumpIndex yields every index slot in slot order, snapshotted at call
// time. It is the backing surface for the dump utility.
func (s *Store) DumpIndex() iter.Seq2[SlotDump, error] {
	return func(yield func(SlotDump, error) bool) {
		if err := s.begin(false); err != nil {
			yield(SlotDump{}, err)
			return
		}
		dumps := make([]SlotDump, len(s.slots))
		for i, rec := range s.slots {
			k := make([]byte, len(rec.key))
			copy(k, rec.key)
			d := SlotDump{
				Slot:          i,
				Key:           k,
				DataPointer:   rec.hdr.dataPointer,
				DataCapacity:  rec.hdr.dataCapacity,
				DataCount:     rec.hdr.dataCount,
				PayloadLength: -1,
			}
			if rec.hdr.dataCount >= 0 {
				d.PayloadLength = payloadSerializedLength(int(rec.hdr.dataCount), s.crcEnabled())
			}
			dumps[i] = d
		}
		s.end()

		for _, d := range dumps {
			if !yield(d, nil) {
				return
			}
		}
	}
}
