// Benchmarks for the hot paths: insert, read, in-place update, and the
// queue cycle. Run with -benchmem to watch allocation behaviour; every
// read allocates one payload-sized scratch buffer, and with defensive
// copying disabled on the mapped backend the returned value is a view into
// the mapping instead of that buffer.
package recordstore

import (
	"fmt"
	"path/filepath"
	"testing"
)

func benchStore(b *testing.B, opts Options) *Store {
	b.Helper()
	opts.PreallocatedRecords = b.N + 1
	s, err := Open(filepath.Join(b.TempDir(), "bench.rsd"), opts)
	if err != nil {
		b.Fatalf("Open: %v", err)
	}
	b.Cleanup(func() { s.Close() })
	return s
}

func BenchmarkInsert(b *testing.B) {
	s := benchStore(b, Options{})
	value := make([]byte, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Insert([]byte(fmt.Sprintf("key-%09d", i)), value); err != nil {
			b.Fatalf("Insert: %v", err)
		}
	}
}

func BenchmarkRead(b *testing.B) {
	s := benchStore(b, Options{})
	value := make([]byte, 256)
	const keys = 1000
	for i := 0; i < keys; i++ {
		if err := s.Insert([]byte(fmt.Sprintf("key-%09d", i)), value); err != nil {
			b.Fatalf("Insert: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Read([]byte(fmt.Sprintf("key-%09d", i%keys))); err != nil {
			b.Fatalf("Read: %v", err)
		}
	}
}

func BenchmarkReadMapped(b *testing.B) {
	s := benchStore(b, Options{MemoryMapped: true, DisableDefensiveCopy: true})
	value := make([]byte, 256)
	const keys = 1000
	for i := 0; i < keys; i++ {
		if err := s.Insert([]byte(fmt.Sprintf("key-%09d", i)), value); err != nil {
			b.Fatalf("Insert: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Read([]byte(fmt.Sprintf("key-%09d", i%keys))); err != nil {
			b.Fatalf("Read: %v", err)
		}
	}
}

func BenchmarkUpdateInPlace(b *testing.B) {
	s := benchStore(b, Options{})
	value := make([]byte, 256)
	if err := s.Insert([]byte("key"), value); err != nil {
		b.Fatalf("Insert: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		value[0] = byte(i)
		if err := s.Update([]byte("key"), value); err != nil {
			b.Fatalf("Update: %v", err)
		}
	}
}

func BenchmarkQueuePutTake(b *testing.B) {
	s := benchStore(b, Options{MaxKeyLength: 16})
	q, err := OpenQueue(s, "")
	if err != nil {
		b.Fatalf("OpenQueue: %v", err)
	}
	item := make([]byte, 128)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := q.Put(item); err != nil {
			b.Fatalf("Put: %v", err)
		}
		if _, err := q.Take(); err != nil {
			b.Fatalf("Take: %v", err)
		}
	}
}
