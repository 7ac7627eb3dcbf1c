// Read and existence operations.
package recordstore

import (
	"errors"
	"fmt"
)

// Read returns the value stored under key. The payload's length prefix and
// (when enabled) CRC32 are verified on every read; a mismatch fails with
// ErrPayloadCorrupt and leaves the store operational. The returned slice
// is the caller's to keep unless defensive copying was disabled on a
// memory-mapped store, in which case it may alias the mapping.
func (s *Store) Read(key []byte) ([]byte, error) {
	if err := s.begin(false); err != nil {
		return nil, err
	}
	defer s.end()

	rec, ok := s.index[string(key)]
	if !ok {
		return nil, fmt.Errorf("read: %w", ErrKeyNotFound)
	}
	value, err := s.readPayload(rec)
	if err != nil {
		if errors.Is(err, ErrPayloadCorrupt) {
			return nil, fmt.Errorf("read: %w", err)
		}
		return nil, s.fatal(fmt.Errorf("read: %w", err))
	}
	return value, nil
}

// Exists reports whether key is present. It never fails unless the store
// is closed or unusable.
func (s *Store) Exists(key []byte) (bool, error) {
	if err := s.begin(false); err != nil {
		return false, err
	}
	defer s.end()
	_, ok := s.index[string(key)]
	return ok, nil
}
