// Index slot codec tests.
package recordstore

import (
	"bytes"
	"errors"
	"testing"
)

// TestIndexEntryLengthAligned verifies the slot size is a multiple of 8
// for every legal max key length, which the format requires of the whole
// index region.
func TestIndexEntryLengthAligned(t *testing.T) {
	for _, maxKey := range []int{1, 3, 8, 16, 63, 64, 255, maxMaxKeyLength} {
		if n := indexEntryLength(maxKey); n%8 != 0 {
			t.Errorf("indexEntryLength(%d) = %d, not a multiple of 8", maxKey, n)
		}
	}
}

// TestKeySlotRoundTrip encodes and decodes keys of assorted lengths,
// including the single-byte and full-width extremes.
func TestKeySlotRoundTrip(t *testing.T) {
	const maxKey = 16
	for _, key := range [][]byte{
		[]byte("a"),
		[]byte("hello"),
		bytes.Repeat([]byte("x"), maxKey),
		{0x00, 0xFF, 0x7F},
	} {
		buf := encodeKeySlot(key, maxKey)
		if len(buf) != maxKey+5 {
			t.Fatalf("encoded length = %d, want %d", len(buf), maxKey+5)
		}
		got, err := decodeKeySlot(buf, maxKey)
		if err != nil {
			t.Fatalf("decodeKeySlot(%q): %v", key, err)
		}
		if !bytes.Equal(got, key) {
			t.Errorf("round trip = %q, want %q", got, key)
		}
	}
}

// TestKeySlotRejectsBadLength verifies zero and oversized length bytes are
// refused before any CRC work.
func TestKeySlotRejectsBadLength(t *testing.T) {
	const maxKey = 16
	buf := encodeKeySlot([]byte("key"), maxKey)

	buf[0] = 0
	if _, err := decodeKeySlot(buf, maxKey); err == nil {
		t.Errorf("zero length byte accepted")
	}
	buf[0] = maxKey + 1
	if _, err := decodeKeySlot(buf, maxKey); err == nil {
		t.Errorf("oversized length byte accepted")
	}
}

// TestKeySlotRejectsCRCMismatch flips a key byte and expects the key CRC
// to catch it.
func TestKeySlotRejectsCRCMismatch(t *testing.T) {
	const maxKey = 16
	buf := encodeKeySlot([]byte("key"), maxKey)
	buf[2] ^= 0x01
	if _, err := decodeKeySlot(buf, maxKey); !errors.Is(err, ErrKeyCRCMismatch) {
		t.Errorf("decodeKeySlot = %v, want ErrKeyCRCMismatch", err)
	}
}

// TestSlotOffsets pins the slot layout arithmetic: slots are contiguous
// from the end of the file header, with the record header at the tail of
// each slot.
func TestSlotOffsets(t *testing.T) {
	const maxKey = 64
	entry := indexEntryLength(maxKey)

	if got := slotOffset(0, maxKey); got != fileHeaderSize {
		t.Errorf("slotOffset(0) = %d, want %d", got, fileHeaderSize)
	}
	if got := slotOffset(3, maxKey); got != int64(fileHeaderSize+3*entry) {
		t.Errorf("slotOffset(3) = %d, want %d", got, fileHeaderSize+3*entry)
	}
	if got := slotHeaderOffset(0, maxKey); got != int64(fileHeaderSize+keyRegionLength(maxKey)) {
		t.Errorf("slotHeaderOffset(0) = %d, want %d", got, fileHeaderSize+keyRegionLength(maxKey))
	}
}
