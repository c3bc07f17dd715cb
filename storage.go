package megadex

import "errors"

// ErrBucketNotFound is returned by EngineTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// ErrTxNotWritable is returned when a read-only transaction is asked to modify data.
var ErrTxNotWritable = errors.New("tx not writable")

// Engine is an ordered, transactional key-value backend with a single
// writer and snapshot readers (Bolt, Pebble, in-memory).
type Engine interface {
	// Begin starts a new transaction. A writable Begin blocks while another
	// write transaction is open.
	Begin(writable bool) (EngineTx, error)
	// Close closes the engine.
	Close() error
}

// EngineTx is an engine transaction. Buckets and cursors obtained from it are
// valid until Commit or Rollback.
type EngineTx interface {
	Writable() bool

	// Bucket returns a bucket, or nil if it doesn't exist.
	Bucket(name string) Bucket

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (Bucket, error)

	// DeleteBucket deletes a bucket and all its keys.
	DeleteBucket(name string) error

	// BucketNames returns the names of all buckets, sorted.
	BucketNames() []string

	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times,
	// including after Commit.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown).
	Size() int64
}

// Bucket is a sorted key-value collection.
type Bucket interface {
	// Get retrieves a value by key. Returns nil if not found. The returned
	// slice is only valid until the transaction ends.
	Get(key []byte) ([]byte, error)

	Put(key, value []byte) error

	Delete(key []byte) error

	Cursor() Cursor

	// KeyCount returns the number of keys in the bucket.
	KeyCount() int
}

// Cursor iterates over a bucket in key order. A nil key means the cursor has
// moved past the end. Returned slices are only valid until the next call.
type Cursor interface {
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	Next() (key, value []byte)

	Close()
}
