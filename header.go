// File header: the fixed prefix at offset 0 of every store file.
//
// The header is exactly fileHeaderSize bytes: magic marker, the
// max-key-length parameter recorded at creation, the live record count, and
// the data-start pointer that separates the index region from the data
// region. A self-CRC over the preceding fields guards against torn or
// bit-flipped headers the way a record header guards a record.
package recordstore

import (
	"encoding/binary"
	"hash/crc32"
)

// fileHeaderSize is the fixed size of the on-disk file header, padded to a
// multiple of 8 for the same alignment reason index slots are.
const fileHeaderSize = 32

// magic identifies the format and version. Any change to header layout or
// field widths is a breaking format change and must mint a new magic value.
var magic = [4]byte{'R', 'S', 'D', '1'}

// fileHeader is the decoded form of the on-disk file header.
type fileHeader struct {
	maxKeyLength uint16
	numRecords   uint32
	dataStartPtr uint64
}

// encode serialises h into a fileHeaderSize-byte buffer, including a CRC32
// of the preceding fields in the low 32 bits of the crc slot.
func (h fileHeader) encode() []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.maxKeyLength)
	binary.LittleEndian.PutUint32(buf[8:12], h.numRecords)
	binary.LittleEndian.PutUint64(buf[16:24], h.dataStartPtr)
	crc := crc32.ChecksumIEEE(buf[0:24])
	binary.LittleEndian.PutUint32(buf[24:28], crc)
	return buf
}

// decodeFileHeader parses a fileHeaderSize-byte buffer, verifying the magic
// marker and the header's self-CRC.
func decodeFileHeader(buf []byte) (fileHeader, error) {
	if len(buf) < fileHeaderSize {
		return fileHeader{}, ErrFileTooShort
	}
	var h fileHeader
	if [4]byte(buf[0:4]) != magic {
		return fileHeader{}, ErrMagicMismatch
	}
	wantCRC := binary.LittleEndian.Uint32(buf[24:28])
	gotCRC := crc32.ChecksumIEEE(buf[0:24])
	if wantCRC != gotCRC {
		return fileHeader{}, ErrHeaderCorrupt
	}
	h.maxKeyLength = binary.LittleEndian.Uint16(buf[4:6])
	h.numRecords = binary.LittleEndian.Uint32(buf[8:12])
	h.dataStartPtr = binary.LittleEndian.Uint64(buf[16:24])
	return h, nil
}

// readFileHeader reads and decodes the file header from backend b.
func readFileHeader(b ioBackend) (fileHeader, error) {
	buf := make([]byte, fileHeaderSize)
	if err := b.ReadFullyAt(buf, 0); err != nil {
		return fileHeader{}, err
	}
	return decodeFileHeader(buf)
}

// writeFileHeader persists h to backend b at offset 0 in a single write.
func writeFileHeader(b ioBackend, h fileHeader) error {
	return b.WriteAllAt(h.encode(), 0)
}
