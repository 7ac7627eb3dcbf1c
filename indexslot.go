// Index slot codec.
//
// Each index slot is a fixed-size region holding one key and one record
// header (record.go). The key portion is laid out as
// [length byte][key bytes][zero padding][key CRC32], sized to
// max_key_length+5 bytes and then rounded up to a multiple of 8 so the
// whole slot (key region + 24-byte record header) stays 8-byte aligned.
package recordstore

import (
	"encoding/binary"
	"hash/crc32"
)

// align8 rounds n up to the next multiple of 8.
func align8(n int) int {
	return (n + 7) &^ 7
}

// keyRegionLength returns the aligned size of the key+CRC portion of a
// slot for the given max key length.
func keyRegionLength(maxKeyLength int) int {
	return align8(1 + maxKeyLength + 4)
}

// indexEntryLength returns INDEX_ENTRY_LENGTH for the given max key length:
// the aligned key region plus the fixed 24-byte record header.
func indexEntryLength(maxKeyLength int) int {
	return keyRegionLength(maxKeyLength) + recordHeaderSize
}

// maxMaxKeyLength is the absolute hard cap on the key-length parameter:
// the slot must fit in 16-bit arithmetic.
const maxMaxKeyLength = 32763

// encodeKeySlot writes [L, key bytes, zero pad, crc32(key)] into a buffer
// of exactly maxKeyLength+5 bytes.
func encodeKeySlot(key []byte, maxKeyLength int) []byte {
	buf := make([]byte, maxKeyLength+5)
	buf[0] = byte(len(key))
	copy(buf[1:1+len(key)], key)
	crc := crc32.ChecksumIEEE(key)
	binary.LittleEndian.PutUint32(buf[1+maxKeyLength:5+maxKeyLength], crc)
	return buf
}

// decodeKeySlot reads a maxKeyLength+5 byte key region, validating the
// length byte and the key's CRC32.
func decodeKeySlot(buf []byte, maxKeyLength int) ([]byte, error) {
	if len(buf) < maxKeyLength+5 {
		return nil, ErrFileTooShort
	}
	l := int(buf[0])
	if l == 0 || l > maxKeyLength {
		return nil, ErrHeaderCorrupt
	}
	key := make([]byte, l)
	copy(key, buf[1:1+l])
	wantCRC := binary.LittleEndian.Uint32(buf[1+maxKeyLength : 5+maxKeyLength])
	gotCRC := crc32.ChecksumIEEE(key)
	if wantCRC != gotCRC {
		return nil, ErrKeyCRCMismatch
	}
	return key, nil
}

// writeKeySlotAt writes the key portion of a slot at the given absolute
// file offset.
func writeKeySlotAt(b ioBackend, offset int64, key []byte, maxKeyLength int) error {
	return b.WriteAllAt(encodeKeySlot(key, maxKeyLength), offset)
}

// readKeySlotAt reads and validates the key portion of a slot at the given
// absolute file offset.
func readKeySlotAt(b ioBackend, offset int64, maxKeyLength int) ([]byte, error) {
	buf := make([]byte, maxKeyLength+5)
	if err := b.ReadFullyAt(buf, offset); err != nil {
		return nil, err
	}
	return decodeKeySlot(buf, maxKeyLength)
}

// slotOffset returns the absolute file offset of index slot i (0-based).
func slotOffset(i int, maxKeyLength int) int64 {
	return int64(fileHeaderSize) + int64(i)*int64(indexEntryLength(maxKeyLength))
}

// slotHeaderOffset returns the absolute file offset of the record header
// within index slot i.
func slotHeaderOffset(i int, maxKeyLength int) int64 {
	return slotOffset(i, maxKeyLength) + int64(keyRegionLength(maxKeyLength))
}
