// In-memory index: the key→record map and the free-space list.
//
// Both structures are owned by the Store and mutated only under its lock.
// The free-space list is kept sorted by (free bytes ascending, data pointer
// ascending) so allocation can take the tightest fit first. Entries carry
// the free-space value and data pointer they were registered under, cached
// on the record itself, so membership updates never depend on the order in
// which the header was mutated.
package recordstore

import (
	"cmp"
	"slices"
)

// record is the in-memory identity of one stored key/value pair: the key
// bytes, the current record header, and the index slot the header lives in.
type record struct {
	key  []byte
	hdr  recordHeader
	slot int

	// free-space list registration, cached so the entry can be located
	// and removed even after hdr has been mutated.
	freeRegistered bool
	freeBytes      uint32
	freePtr        uint64
}

// freeEntry is one free-space list element.
type freeEntry struct {
	free uint32
	ptr  uint64
	rec  *record
}

// freeList is an ordered list of records with strictly positive free space,
// sorted by free bytes ascending with ties broken by data pointer.
type freeList struct {
	entries []freeEntry
}

func compareFreeEntry(a, b freeEntry) int {
	if c := cmp.Compare(a.free, b.free); c != 0 {
		return c
	}
	return cmp.Compare(a.ptr, b.ptr)
}

// add registers rec under the given free-space value and data pointer.
func (fl *freeList) add(free uint32, ptr uint64, rec *record) {
	e := freeEntry{free: free, ptr: ptr, rec: rec}
	i, _ := slices.BinarySearchFunc(fl.entries, e, compareFreeEntry)
	fl.entries = slices.Insert(fl.entries, i, e)
}

// remove deletes the entry registered under (free, ptr).
func (fl *freeList) remove(free uint32, ptr uint64) {
	e := freeEntry{free: free, ptr: ptr}
	i, ok := slices.BinarySearchFunc(fl.entries, e, compareFreeEntry)
	if ok {
		fl.entries = slices.Delete(fl.entries, i, i+1)
	}
}

// firstAtLeast returns the record with the smallest free space >= n, or nil.
func (fl *freeList) firstAtLeast(n uint32) *record {
	i, _ := slices.BinarySearchFunc(fl.entries, freeEntry{free: n}, compareFreeEntry)
	if i >= len(fl.entries) {
		return nil
	}
	return fl.entries[i].rec
}

// len returns the number of registered entries.
func (fl *freeList) len() int {
	return len(fl.entries)
}

// totalFree sums the registered free space across all entries.
func (fl *freeList) totalFree() uint64 {
	var total uint64
	for _, e := range fl.entries {
		total += uint64(e.free)
	}
	return total
}

// refreshFree re-evaluates rec's free-space list membership after its
// header changed: the stale entry (if any) is removed and a fresh one is
// added iff the record's free space is strictly positive.
func (s *Store) refreshFree(rec *record) {
	if rec.freeRegistered {
		s.free.remove(rec.freeBytes, rec.freePtr)
		rec.freeRegistered = false
	}
	f := rec.hdr.freeSpace(s.crcEnabled())
	if f > 0 {
		s.free.add(f, rec.hdr.dataPointer, rec)
		rec.freeRegistered = true
		rec.freeBytes = f
		rec.freePtr = rec.hdr.dataPointer
	}
}

// dropFree removes rec from the free-space list without re-adding it.
func (s *Store) dropFree(rec *record) {
	if rec.freeRegistered {
		s.free.remove(rec.freeBytes, rec.freePtr)
		rec.freeRegistered = false
	}
}
