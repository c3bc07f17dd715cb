package megadex

import (
	"errors"
	"sort"
	"unsafe"

	"go.etcd.io/bbolt"
)

type boltEngine struct {
	bdb *bbolt.DB
}

// OpenBolt opens (creating if needed) a Bolt database file as an Engine.
func OpenBolt(path string, opt Options) (Engine, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.LockTimeout
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, opt.FileMode, bopt)
	if err != nil {
		return nil, translateBoltErr(err, "bolt open %s", path)
	}
	return &boltEngine{bdb: bdb}, nil
}

func (s *boltEngine) Begin(writable bool) (EngineTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, translateBoltErr(err, "bolt begin")
	}
	return &boltTx{btx: btx}, nil
}

func (s *boltEngine) Close() error {
	return s.bdb.Close()
}

// translateBoltErr maps Bolt's lock failures to LockError, everything else to EngineError.
func translateBoltErr(err error, format string, args ...any) error {
	if errors.Is(err, bbolt.ErrTimeout) || errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return lockErrf(err, format, args...)
	}
	return engineErrf("", nil, err, format, args...)
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx *boltTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltTx) Bucket(name string) Bucket {
	b := tx.btx.Bucket(unsafeBytesFromString(name))
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltTx) CreateBucket(name string) (Bucket, error) {
	if !tx.btx.Writable() {
		return nil, ErrTxNotWritable
	}
	b, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	return boltBucket{b: b}, nil
}

func (tx *boltTx) DeleteBucket(name string) error {
	err := tx.btx.DeleteBucket(unsafeBytesFromString(name))
	if err == bbolt.ErrBucketNotFound {
		return ErrBucketNotFound
	}
	return err
}

func (tx *boltTx) BucketNames() []string {
	var names []string
	_ = tx.btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		names = append(names, string(name))
		return nil
	})
	sort.Strings(names)
	return names
}

func (tx *boltTx) Commit() error { return tx.btx.Commit() }

func (tx *boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

func (tx *boltTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) ([]byte, error) { return b.b.Get(key), nil }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() Cursor { return boltCursor{c: b.b.Cursor()} }

// KeyCount uses page stats, which miss uncommitted changes, so writers count with a cursor.
func (b boltBucket) KeyCount() int {
	if !b.b.Writable() {
		return b.b.Stats().KeyN
	}
	var n int
	c := b.b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Close() {}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
