package megadex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Pebble has no buckets, so they are emulated with key prefixes:
//
//	'm' name                       -> "" (bucket marker)
//	'd' uvarint(len(name)) name key -> value
const (
	pebbleMarkerPrefix = 'm'
	pebbleDataPrefix   = 'd'
)

type pebbleEngine struct {
	db        *pebble.DB
	writeLock sync.Mutex
	sync      bool
}

// OpenPebble opens (creating if needed) a Pebble database directory as an Engine.
// Pebble has no native single-writer transactions: a writer holds an
// engine-wide mutex and stages its changes in an indexed batch, readers
// work on snapshots.
func OpenPebble(dir string, opt Options) (Engine, error) {
	popt := &pebble.Options{}
	if opt.IsTesting {
		popt.DisableWAL = true
	}
	db, err := pebble.Open(dir, popt)
	if err != nil {
		return nil, engineErrf("", nil, err, "pebble open %s", dir)
	}
	return &pebbleEngine{db: db, sync: !opt.IsTesting}, nil
}

func (s *pebbleEngine) Begin(writable bool) (EngineTx, error) {
	if writable {
		s.writeLock.Lock()
		return &pebbleTx{s: s, batch: s.db.NewIndexedBatch()}, nil
	}
	return &pebbleTx{s: s, snap: s.db.NewSnapshot()}, nil
}

func (s *pebbleEngine) Close() error {
	return s.db.Close()
}

type pebbleTx struct {
	s      *pebbleEngine
	batch  *pebble.Batch
	snap   *pebble.Snapshot
	closed bool
}

func (tx *pebbleTx) reader() pebble.Reader {
	if tx.batch != nil {
		return tx.batch
	}
	return tx.snap
}

func (tx *pebbleTx) Writable() bool { return tx.batch != nil }

func pebbleMarkerKey(name string) []byte {
	return append([]byte{pebbleMarkerPrefix}, name...)
}

func pebbleBucketPrefix(name string) []byte {
	buf := []byte{pebbleDataPrefix}
	buf = binary.AppendUvarint(buf, uint64(len(name)))
	return append(buf, name...)
}

func (tx *pebbleTx) get(key []byte) ([]byte, error) {
	v, closer, err := tx.reader().Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	v = cloneBytes(v)
	closer.Close()
	if v == nil {
		v = []byte{}
	}
	return v, nil
}

func (tx *pebbleTx) Bucket(name string) Bucket {
	v, err := tx.get(pebbleMarkerKey(name))
	if err != nil || v == nil {
		return nil
	}
	return &pebbleBucket{tx: tx, prefix: pebbleBucketPrefix(name)}
}

func (tx *pebbleTx) CreateBucket(name string) (Bucket, error) {
	if tx.batch == nil {
		return nil, ErrTxNotWritable
	}
	if b := tx.Bucket(name); b != nil {
		return b, nil
	}
	err := tx.batch.Set(pebbleMarkerKey(name), nil, nil)
	if err != nil {
		return nil, err
	}
	return &pebbleBucket{tx: tx, prefix: pebbleBucketPrefix(name)}, nil
}

func (tx *pebbleTx) DeleteBucket(name string) error {
	if tx.batch == nil {
		return ErrTxNotWritable
	}
	if tx.Bucket(name) == nil {
		return ErrBucketNotFound
	}
	prefix := pebbleBucketPrefix(name)
	end := prefixEnd(prefix)
	if err := tx.batch.DeleteRange(prefix, end, nil); err != nil {
		return err
	}
	return tx.batch.Delete(pebbleMarkerKey(name), nil)
}

func (tx *pebbleTx) BucketNames() []string {
	lower := []byte{pebbleMarkerPrefix}
	it, err := tx.reader().NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixEnd(lower),
	})
	if err != nil {
		return nil
	}
	defer it.Close()
	var names []string
	for valid := it.First(); valid; valid = it.Next() {
		names = append(names, string(it.Key()[1:]))
	}
	sort.Strings(names)
	return names
}

func (tx *pebbleTx) Commit() error {
	if tx.closed {
		return fmt.Errorf("tx is closed")
	}
	if tx.batch == nil {
		return ErrTxNotWritable
	}
	opt := pebble.NoSync
	if tx.s.sync {
		opt = pebble.Sync
	}
	err := tx.batch.Commit(opt)
	tx.close()
	return err
}

func (tx *pebbleTx) Rollback() error {
	tx.close()
	return nil
}

func (tx *pebbleTx) close() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.batch != nil {
		tx.batch.Close()
		tx.s.writeLock.Unlock()
	}
	if tx.snap != nil {
		tx.snap.Close()
	}
}

func (tx *pebbleTx) Size() int64 {
	return int64(tx.s.db.Metrics().DiskSpaceUsage())
}

type pebbleBucket struct {
	tx     *pebbleTx
	prefix []byte
}

func (b *pebbleBucket) key(k []byte) []byte {
	return append(cloneBytes(b.prefix), k...)
}

func (b *pebbleBucket) Get(key []byte) ([]byte, error) {
	return b.tx.get(b.key(key))
}

func (b *pebbleBucket) Put(key, value []byte) error {
	if b.tx.batch == nil {
		return ErrTxNotWritable
	}
	if len(key) == 0 {
		return fmt.Errorf("key required")
	}
	return b.tx.batch.Set(b.key(key), value, nil)
}

func (b *pebbleBucket) Delete(key []byte) error {
	if b.tx.batch == nil {
		return ErrTxNotWritable
	}
	return b.tx.batch.Delete(b.key(key), nil)
}

func (b *pebbleBucket) Cursor() Cursor {
	it, err := b.tx.reader().NewIter(&pebble.IterOptions{
		LowerBound: b.prefix,
		UpperBound: prefixEnd(b.prefix),
	})
	if err != nil {
		return &pebbleCursor{err: err}
	}
	return &pebbleCursor{it: it, prefix: b.prefix}
}

func (b *pebbleBucket) KeyCount() int {
	c := b.Cursor()
	defer c.Close()
	var n int
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

type pebbleCursor struct {
	it     *pebble.Iterator
	prefix []byte
	err    error
}

func (c *pebbleCursor) at(valid bool) ([]byte, []byte) {
	if !valid {
		return nil, nil
	}
	k := c.it.Key()
	if !bytes.HasPrefix(k, c.prefix) {
		return nil, nil
	}
	v := c.it.Value()
	if v == nil {
		v = []byte{}
	}
	return k[len(c.prefix):], v
}

func (c *pebbleCursor) First() ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.at(c.it.First())
}

func (c *pebbleCursor) Seek(seek []byte) ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.at(c.it.SeekGE(append(cloneBytes(c.prefix), seek...)))
}

func (c *pebbleCursor) Next() ([]byte, []byte) {
	if c.it == nil {
		return nil, nil
	}
	return c.at(c.it.Next())
}

func (c *pebbleCursor) Close() {
	if c.it != nil {
		c.it.Close()
		c.it = nil
	}
}
