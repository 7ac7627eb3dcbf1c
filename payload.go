// Payload block codec.
//
// A payload block at data_pointer holds a 4-byte length prefix, the value
// bytes, and, when payload CRC is enabled, a trailing CRC32 of the value.
// The block's owned span (data_capacity) may be larger than the serialised
// payload; the tail is the record's free space.
package recordstore

import (
	"encoding/binary"
	"hash/crc32"
)

// encodePayload serialises value into a fresh buffer of exactly
// payloadSerializedLength(len(value), crcEnabled) bytes.
func encodePayload(value []byte, crcEnabled bool) []byte {
	buf := make([]byte, payloadSerializedLength(len(value), crcEnabled))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(value)))
	copy(buf[4:4+len(value)], value)
	if crcEnabled {
		crc := crc32.ChecksumIEEE(value)
		binary.LittleEndian.PutUint32(buf[4+len(value):], crc)
	}
	return buf
}

// writePayload writes the serialised payload for value at ptr in a single
// WriteAllAt.
func (s *Store) writePayload(ptr uint64, value []byte) error {
	return s.io.WriteAllAt(encodePayload(value, s.crcEnabled()), int64(ptr))
}

// readPayload reads and verifies the payload for rec. The length prefix
// must agree with the header's data_count, and the trailing CRC32 (when
// enabled) must validate against the value bytes.
func (s *Store) readPayload(rec *record) ([]byte, error) {
	if rec.hdr.dataCount < 0 {
		return nil, ErrPayloadCorrupt
	}
	count := int(rec.hdr.dataCount)
	crcEnabled := s.crcEnabled()

	// A block reaching past end-of-file is a truncated payload, not an
	// I/O fault: report it as corruption so the store stays usable.
	fileLen, err := s.io.Length()
	if err != nil {
		return nil, err
	}
	serLen := payloadSerializedLength(count, crcEnabled)
	if int64(rec.hdr.dataPointer)+int64(serLen) > fileLen {
		return nil, ErrPayloadCorrupt
	}

	buf := make([]byte, serLen)
	if err := s.io.ReadFullyAt(buf, int64(rec.hdr.dataPointer)); err != nil {
		return nil, err
	}
	if int(binary.LittleEndian.Uint32(buf[0:4])) != count {
		return nil, ErrPayloadCorrupt
	}
	value := buf[4 : 4+count]
	if crcEnabled {
		want := binary.LittleEndian.Uint32(buf[4+count:])
		if crc32.ChecksumIEEE(value) != want {
			return nil, ErrPayloadCorrupt
		}
	}

	// Zero-copy fast path: with defensive copying disabled and a mapped
	// backend, hand out a window into the mapping instead of the scratch
	// buffer's copy. The window is only valid until the next remap.
	if s.opts.DisableDefensiveCopy {
		if m, ok := s.io.(*mappedIO); ok {
			if view, ok := m.View(int64(rec.hdr.dataPointer)+4, count); ok {
				return view, nil
			}
		}
	}
	return value, nil
}

// readPayloadRaw reads the serialised payload bytes for rec without
// decoding them. Used by relocation and compaction, which move blocks
// verbatim.
func (s *Store) readPayloadRaw(rec *record) ([]byte, error) {
	if rec.hdr.dataCount < 0 {
		return nil, ErrPayloadCorrupt
	}
	buf := make([]byte, payloadSerializedLength(int(rec.hdr.dataCount), s.crcEnabled()))
	if err := s.io.ReadFullyAt(buf, int64(rec.hdr.dataPointer)); err != nil {
		return nil, err
	}
	return buf, nil
}
