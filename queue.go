// FIFO queue overlay.
//
// A Queue stores items in an underlying Store keyed by a 128-bit
// monotonically increasing counter, encoded big-endian so lexicographic key
// order equals arrival order. A single genesis record at counter zero
// holds the queue-level counters; it is rewritten only AFTER newly appended
// items are durably written (items first, genesis last), and after the
// taken item's delete. A crash between the two leaves the genesis stale by
// at most one batch, which recovery repairs by scanning the live keys.
//
// The genesis payload carries an xxh3 checksum of its own counters on top
// of the per-record CRC32 the engine always applies, so a tampered or
// stale-but-valid genesis is detectable independently of the storage CRC.
//
// Queues may be namespaced: a BLAKE2b digest of the queue name is folded
// into the high half of every counter, so two named queues can share one
// store without colliding. An unnamespaced queue assumes it owns every
// 16-byte key in the store.
package recordstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// queueKeyLength is the fixed width of queue item and genesis keys.
const queueKeyLength = 16

// genesisLength is the serialised genesis payload: seven 8-byte counters
// plus an 8-byte xxh3 checksum over them.
const genesisLength = 64

// counter128 is a 128-bit item counter, split into two 64-bit halves.
type counter128 struct {
	hi, lo uint64
}

func (c counter128) next() counter128 {
	c.lo++
	if c.lo == 0 {
		c.hi++
	}
	return c
}

func (c counter128) less(o counter128) bool {
	if c.hi != o.hi {
		return c.hi < o.hi
	}
	return c.lo < o.lo
}

// genesis is the decoded genesis record.
type genesis struct {
	next      counter128
	totalPut  uint64
	totalTake uint64
	size      uint64
	highWater uint64
	lowWater  uint64
}

func (g genesis) encode() []byte {
	buf := make([]byte, genesisLength)
	binary.BigEndian.PutUint64(buf[0:8], g.next.hi)
	binary.BigEndian.PutUint64(buf[8:16], g.next.lo)
	binary.BigEndian.PutUint64(buf[16:24], g.totalPut)
	binary.BigEndian.PutUint64(buf[24:32], g.totalTake)
	binary.BigEndian.PutUint64(buf[32:40], g.size)
	binary.BigEndian.PutUint64(buf[40:48], g.highWater)
	binary.BigEndian.PutUint64(buf[48:56], g.lowWater)
	binary.BigEndian.PutUint64(buf[56:64], xxh3.Hash(buf[0:56]))
	return buf
}

func decodeGenesis(buf []byte) (genesis, error) {
	if len(buf) != genesisLength {
		return genesis{}, ErrPayloadCorrupt
	}
	if binary.BigEndian.Uint64(buf[56:64]) != xxh3.Hash(buf[0:56]) {
		return genesis{}, ErrPayloadCorrupt
	}
	return genesis{
		next:      counter128{hi: binary.BigEndian.Uint64(buf[0:8]), lo: binary.BigEndian.Uint64(buf[8:16])},
		totalPut:  binary.BigEndian.Uint64(buf[16:24]),
		totalTake: binary.BigEndian.Uint64(buf[24:32]),
		size:      binary.BigEndian.Uint64(buf[32:40]),
		highWater: binary.BigEndian.Uint64(buf[40:48]),
		lowWater:  binary.BigEndian.Uint64(buf[48:56]),
	}, nil
}

// Queue is a FIFO overlay on a Store.
type Queue struct {
	s  *Store
	ns uint32 // namespace folded into the counter's high half; 0 = unnamespaced

	mu   sync.Mutex
	head counter128 // smallest live counter; equals gen.next when empty
	gen  genesis
}

// OpenQueue opens or creates the queue overlay on s. A non-empty name
// namespaces the queue so several named queues can share one store. The
// store's max key length must accommodate the 16-byte counter keys.
func OpenQueue(s *Store, name string) (*Queue, error) {
	if s.maxKeyLen() < queueKeyLength {
		return nil, fmt.Errorf("queue: store max key length %d, need %d: %w",
			s.maxKeyLen(), queueKeyLength, ErrKeyTooLong)
	}

	q := &Queue{s: s}
	if name != "" {
		h, err := blake2b.New(16, nil)
		if err != nil {
			return nil, fmt.Errorf("queue: %w", err)
		}
		h.Write([]byte(name))
		d := h.Sum(nil)
		q.ns = binary.BigEndian.Uint32(d[0:4]) ^ binary.BigEndian.Uint32(d[4:8]) ^
			binary.BigEndian.Uint32(d[8:12]) ^ binary.BigEndian.Uint32(d[12:16])
		if q.ns == 0 {
			q.ns = 1
		}
	}

	buf, err := s.Read(q.keyFor(counter128{}))
	switch {
	case errors.Is(err, ErrKeyNotFound):
		q.gen = genesis{next: counter128{lo: 1}}
		q.head = q.gen.next
		if err := s.Insert(q.keyFor(counter128{}), q.gen.encode()); err != nil {
			return nil, fmt.Errorf("queue: genesis: %w", err)
		}
		return q, nil
	case err != nil:
		return nil, fmt.Errorf("queue: genesis: %w", err)
	}

	gen, err := decodeGenesis(buf)
	if err != nil {
		return nil, fmt.Errorf("queue: genesis: %w", err)
	}
	q.gen = gen
	if err := q.recover(); err != nil {
		return nil, err
	}
	return q, nil
}

// recover rebuilds the head, size, and next counter from the live keys.
// The genesis is authoritative for the lifetime totals; the scan is
// authoritative for what actually survived a crash.
func (q *Queue) recover() error {
	var count uint64
	var minC, maxC counter128
	for key, err := range q.s.Keys() {
		if err != nil {
			return fmt.Errorf("queue: recover: %w", err)
		}
		c, ok := q.counterFor(key)
		if !ok || (c == counter128{}) {
			continue
		}
		if count == 0 || c.less(minC) {
			minC = c
		}
		if count == 0 || maxC.less(c) {
			maxC = c
		}
		count++
	}

	q.gen.size = count
	if count > 0 {
		q.head = minC
		if q.gen.next.less(maxC.next()) {
			// Items durably written after the last genesis rewrite are
			// adopted rather than discarded.
			q.gen.next = maxC.next()
		}
	} else {
		q.head = q.gen.next
	}
	if q.gen.highWater < q.gen.size {
		q.gen.highWater = q.gen.size
	}
	return nil
}

// keyFor encodes c as a 16-byte big-endian key, folding the namespace into
// the top 32 bits of the high half.
func (q *Queue) keyFor(c counter128) []byte {
	hi := c.hi
	if q.ns != 0 {
		hi = uint64(q.ns)<<32 | (c.hi & 0xFFFFFFFF)
	}
	key := make([]byte, queueKeyLength)
	binary.BigEndian.PutUint64(key[0:8], hi)
	binary.BigEndian.PutUint64(key[8:16], c.lo)
	return key
}

// counterFor decodes a store key back into a counter, reporting whether the
// key belongs to this queue's namespace.
func (q *Queue) counterFor(key []byte) (counter128, bool) {
	if len(key) != queueKeyLength {
		return counter128{}, false
	}
	hi := binary.BigEndian.Uint64(key[0:8])
	lo := binary.BigEndian.Uint64(key[8:16])
	if q.ns != 0 {
		if uint32(hi>>32) != q.ns {
			return counter128{}, false
		}
		hi &= 0xFFFFFFFF
	}
	return counter128{hi: hi, lo: lo}, true
}

// writeGenesis persists the queue counters. Called only after the item
// writes of the triggering operation are on disk.
func (q *Queue) writeGenesis() error {
	return q.s.Update(q.keyFor(counter128{}), q.gen.encode())
}

// Put appends one item to the tail of the queue.
func (q *Queue) Put(value []byte) error {
	return q.PutBatch([][]byte{value})
}

// PutBatch appends items in order. Every item is written before the
// genesis is rewritten; a crash mid-batch therefore loses at most the
// genesis update, never an already-written item.
func (q *Queue) PutBatch(values [][]byte) error {
	if len(values) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.gen.next
	for _, v := range values {
		if err := q.s.Insert(q.keyFor(next), v); err != nil {
			return fmt.Errorf("queue: put: %w", err)
		}
		next = next.next()
	}

	q.gen.next = next
	q.gen.totalPut += uint64(len(values))
	q.gen.size += uint64(len(values))
	if q.gen.highWater < q.gen.size {
		q.gen.highWater = q.gen.size
	}
	if err := q.writeGenesis(); err != nil {
		return fmt.Errorf("queue: put: %w", err)
	}
	return nil
}

// Take removes and returns the oldest item.
func (q *Queue) Take() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	value, err := q.readHead()
	if err != nil {
		return nil, err
	}
	if err := q.s.Delete(q.keyFor(q.head)); err != nil {
		return nil, fmt.Errorf("queue: take: %w", err)
	}
	q.head = q.head.next()
	q.gen.totalTake++
	q.gen.size--
	if q.gen.size < q.gen.lowWater {
		q.gen.lowWater = q.gen.size
	}
	if err := q.writeGenesis(); err != nil {
		return nil, fmt.Errorf("queue: take: %w", err)
	}
	return value, nil
}

// Peek returns the oldest item without removing it.
func (q *Queue) Peek() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readHead()
}

func (q *Queue) readHead() ([]byte, error) {
	if q.gen.size == 0 {
		return nil, ErrQueueEmpty
	}
	value, err := q.s.Read(q.keyFor(q.head))
	if err != nil {
		return nil, fmt.Errorf("queue: head: %w", err)
	}
	return value, nil
}

// Len returns the number of items currently queued.
func (q *Queue) Len() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen.size
}

// QueueStats is a snapshot of the genesis counters.
type QueueStats struct {
	Size      uint64
	TotalPut  uint64
	TotalTake uint64
	HighWater uint64
	LowWater  uint64
}

// Stats returns the current genesis counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Size:      q.gen.size,
		TotalPut:  q.gen.totalPut,
		TotalTake: q.gen.totalTake,
		HighWater: q.gen.highWater,
		LowWater:  q.gen.lowWater,
	}
}
