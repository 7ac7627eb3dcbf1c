// Record header codec: the fixed 24-byte header stored in every index
// slot.
//
// A record header never appears alone on disk, it is the tail of an index
// slot (see indexslot.go), but it is self-describing: a CRC32 over its
// first 16 bytes lets readers detect a torn or corrupted header without
// consulting anything else. split() implements the donor side of free-space
// reuse: the tail of an over-sized block becomes a fresh header for a new
// allocation, and the donor shrinks to report zero free space.
package recordstore

import (
	"encoding/binary"
	"hash/crc32"
)

// recordHeaderSize is the fixed size of a record header on disk.
const recordHeaderSize = 24

// noCountWritten is the sentinel data_count value before a record's first
// payload write.
const noCountWritten = -1

// recordHeader is the in-memory decoding of a record header: the pointer to
// and accounting for one payload block.
type recordHeader struct {
	dataPointer  uint64
	dataCapacity uint32
	dataCount    int32 // -1 before first write
}

// freeSpace returns the unused tail of the record's allocated capacity,
// i.e. data_capacity minus the serialised length of the current payload.
// Zero (or negative, clamped to zero) once the capacity is fully used.
func (h recordHeader) freeSpace(crcEnabled bool) uint32 {
	if h.dataCount < 0 {
		return 0
	}
	used := uint32(payloadSerializedLength(int(h.dataCount), crcEnabled))
	if used >= h.dataCapacity {
		return 0
	}
	return h.dataCapacity - used
}

// payloadSerializedLength returns the on-disk length of a payload block
// holding valueLen bytes of value: a 4-byte length prefix, the value
// itself, and (when enabled) a trailing 4-byte CRC32 of the value.
func payloadSerializedLength(valueLen int, crcEnabled bool) int {
	n := 4 + valueLen
	if crcEnabled {
		n += 4
	}
	return n
}

// encode serialises h, including a CRC32 of the preceding 16 bytes stored
// in the low 32 bits of the trailing 8-byte field.
func (h recordHeader) encode() []byte {
	buf := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.dataPointer)
	binary.LittleEndian.PutUint32(buf[8:12], h.dataCapacity)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.dataCount))
	crc := crc32.ChecksumIEEE(buf[0:16])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(crc))
	return buf
}

// decodeRecordHeader parses a recordHeaderSize-byte buffer, verifying the
// header's self-CRC over its first 16 bytes.
func decodeRecordHeader(buf []byte) (recordHeader, error) {
	if len(buf) < recordHeaderSize {
		return recordHeader{}, ErrFileTooShort
	}
	wantCRC := binary.LittleEndian.Uint64(buf[16:24])
	gotCRC := uint64(crc32.ChecksumIEEE(buf[0:16]))
	if wantCRC != gotCRC {
		return recordHeader{}, ErrHeaderCorrupt
	}
	var h recordHeader
	h.dataPointer = binary.LittleEndian.Uint64(buf[0:8])
	h.dataCapacity = binary.LittleEndian.Uint32(buf[8:12])
	h.dataCount = int32(binary.LittleEndian.Uint32(buf[12:16]))
	return h, nil
}

// readRecordHeaderAt reads and decodes the 24-byte record header at offset.
func readRecordHeaderAt(b ioBackend, offset int64) (recordHeader, error) {
	buf := make([]byte, recordHeaderSize)
	if err := b.ReadFullyAt(buf, offset); err != nil {
		return recordHeader{}, err
	}
	return decodeRecordHeader(buf)
}

// writeRecordHeaderAt serialises and writes h at offset in a single
// write. It enforces only the encoding; callers that persist a header
// after its first payload write are responsible for data_count >= 0.
func writeRecordHeaderAt(b ioBackend, offset int64, h recordHeader) error {
	return b.WriteAllAt(h.encode(), offset)
}

// split returns a new header carved from the free tail of the receiver's
// allocated capacity: a block starting at
// self.dataPointer + serialisedLength(self.dataCount) + padding, sized to
// the receiver's current free space less the padding. The receiver (the donor) shrinks to
// report zero free space (its capacity becomes its count's serialised
// length); callers MUST persist the mutated donor header and update its
// free-space map membership.
func (h *recordHeader) split(padding int, crcEnabled bool) recordHeader {
	free := h.freeSpace(crcEnabled)
	used := uint32(payloadSerializedLength(int(h.dataCount), crcEnabled))
	newHeader := recordHeader{
		dataPointer:  h.dataPointer + uint64(used) + uint64(padding),
		dataCapacity: free - uint32(padding),
		dataCount:    noCountWritten,
	}
	h.dataCapacity = used
	return newHeader
}
