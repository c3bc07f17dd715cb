package megadex

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

type memEngine struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket // committed state, never mutated in place
	closed  bool
	writer  bool
}

// NewMemory returns a transient in-memory Engine intended for tests. Readers
// see the committed state as of Begin; a writer works on copy-on-write
// buckets that replace the committed state on Commit.
func NewMemory() Engine {
	s := &memEngine{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memEngine) Begin(writable bool) (EngineTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	tx := &memTx{
		writable: writable,
		base:     s,
		buckets:  s.buckets,
	}
	if writable {
		tx.buckets = maps.Clone(s.buckets)
		tx.owned = make(map[string]bool)
	}
	return tx, nil
}

func (s *memEngine) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memEngine
	writable bool
	buckets  map[string]*memBucket
	owned    map[string]bool // buckets already copied by this writer
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) checkOpen() {
	if tx.closed {
		panic("tx is closed")
	}
}

func (tx *memTx) Bucket(name string) Bucket {
	tx.checkOpen()
	b := tx.buckets[name]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, name: name, b: b}
}

func (tx *memTx) CreateBucket(name string) (Bucket, error) {
	tx.checkOpen()
	if !tx.writable {
		return nil, ErrTxNotWritable
	}
	b := tx.buckets[name]
	if b == nil {
		b = &memBucket{}
		tx.buckets[name] = b
		tx.owned[name] = true
	}
	return memBucketHandle{tx: tx, name: name, b: b}, nil
}

func (tx *memTx) DeleteBucket(name string) error {
	tx.checkOpen()
	if !tx.writable {
		return ErrTxNotWritable
	}
	if tx.buckets[name] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, name)
	delete(tx.owned, name)
	return nil
}

func (tx *memTx) BucketNames() []string {
	tx.checkOpen()
	names := slices.Collect(maps.Keys(tx.buckets))
	sort.Strings(names)
	return names
}

// writable returns this writer's private copy of the named bucket.
func (tx *memTx) writableBucket(name string) (*memBucket, error) {
	if tx.closed {
		return nil, fmt.Errorf("tx is closed")
	}
	if !tx.writable {
		return nil, ErrTxNotWritable
	}
	b := tx.buckets[name]
	if b == nil {
		return nil, ErrBucketNotFound
	}
	if !tx.owned[name] {
		b = b.clone()
		tx.buckets[name] = b
		tx.owned[name] = true
	}
	return b, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return fmt.Errorf("tx is closed")
	}
	if !tx.writable {
		return ErrTxNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 {
	var n int64
	for _, b := range tx.buckets {
		for _, kv := range b.items {
			n += int64(len(kv.key) + len(kv.value))
		}
	}
	return n
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx   *memTx
	name string
	b    *memBucket
}

func (h memBucketHandle) current() *memBucket {
	// a handle may predate the writer's copy of the bucket
	if b := h.tx.buckets[h.name]; b != nil {
		return b
	}
	return h.b
}

func (h memBucketHandle) Get(key []byte) ([]byte, error) {
	b := h.current()
	i, ok := b.find(key)
	if !ok {
		return nil, nil
	}
	return b.items[i].value, nil
}

func (h memBucketHandle) Put(key, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("key required")
	}
	b, err := h.tx.writableBucket(h.name)
	if err != nil {
		return err
	}
	kv := memKV{key: slices.Clone(key), value: slices.Clone(value)}
	i, ok := b.find(key)
	if ok {
		b.items[i] = kv
		return nil
	}
	b.items = slices.Insert(b.items, i, kv)
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	b, err := h.tx.writableBucket(h.name)
	if err != nil {
		return err
	}
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	b.items = slices.Delete(b.items, i, i+1)
	return nil
}

func (h memBucketHandle) Cursor() Cursor {
	return &memCursor{b: h.current(), pos: -1}
}

func (h memBucketHandle) KeyCount() int { return len(h.current().items) }

// memCursor iterates over the bucket as it was when the cursor was created.
type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos, _ = c.b.find(seek)
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	if c.pos < len(c.b.items) {
		c.pos++
	}
	return c.at()
}

func (c *memCursor) Close() {}
