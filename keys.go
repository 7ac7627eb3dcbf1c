// Key enumeration and size accessors.
//
// Keys materialises its snapshot under the store lock before the sequence
// starts yielding, so callers never observe a torn iteration across a
// concurrent mutation, and are free to mutate the store from inside the
// loop.
package recordstore

import "iter"

// Keys yields every key present at the time of the call. Keys are yielded
// as fresh copies in no particular order.
func (s *Store) Keys() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if err := s.begin(false); err != nil {
			yield(nil, err)
			return
		}
		snapshot := make([][]byte, 0, len(s.index))
		for _, rec := range s.index {
			k := make([]byte, len(rec.key))
			copy(k, rec.key)
			snapshot = append(snapshot, k)
		}
		s.end()

		for _, k := range snapshot {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Size returns the number of records.
func (s *Store) Size() (int, error) {
	if err := s.begin(false); err != nil {
		return 0, err
	}
	defer s.end()
	return len(s.index), nil
}

// IsEmpty reports whether the store holds no records.
func (s *Store) IsEmpty() (bool, error) {
	n, err := s.Size()
	return n == 0, err
}
