package megadex

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestEngine(t *testing.T, backend Backend) Engine {
	t.Helper()
	opt := Options{IsTesting: true}
	opt.setDefaults()
	dir := t.TempDir()
	var eng Engine
	switch backend {
	case BackendMemory:
		eng = NewMemory()
	case BackendBolt:
		eng = must(OpenBolt(filepath.Join(dir, "test.db"), opt))
	case BackendPebble:
		eng = must(OpenPebble(dir, opt))
	default:
		t.Fatalf("unknown backend %q", backend)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func forEachEngine(t *testing.T, f func(t *testing.T, eng Engine)) {
	for _, backend := range allBackends {
		t.Run(string(backend), func(t *testing.T) {
			f(t, openTestEngine(t, backend))
		})
	}
}

func engineUpdate(t *testing.T, eng Engine, f func(tx EngineTx)) {
	t.Helper()
	tx := must(eng.Begin(true))
	defer tx.Rollback()
	f(tx)
	ok(t, tx.Commit())
}

func engineView(t *testing.T, eng Engine, f func(tx EngineTx)) {
	t.Helper()
	tx := must(eng.Begin(false))
	defer tx.Rollback()
	f(tx)
}

func bucketKeys(b Bucket) []string {
	c := b.Cursor()
	defer c.Close()
	var keys []string
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, string(k))
	}
	return keys
}

func TestEngine_PutGetCursor(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		engineUpdate(t, eng, func(tx EngineTx) {
			b := must(tx.CreateBucket("veg"))
			ok(t, b.Put([]byte("rhubarb"), []byte("2")))
			ok(t, b.Put([]byte("garlic"), []byte("1")))
			ok(t, b.Put([]byte("leek"), []byte("3")))
			ok(t, b.Put([]byte("leek"), []byte("4")))
			ok(t, b.Delete([]byte("nonexistent")))

			// own writes are visible before commit
			deepEqual(t, string(must(b.Get([]byte("leek")))), "4")
		})

		engineView(t, eng, func(tx EngineTx) {
			if tx.Writable() {
				t.Fatalf("read tx is writable")
			}
			b := tx.Bucket("veg")
			if b == nil {
				t.Fatalf("bucket veg not found")
			}
			deepEqual(t, bucketKeys(b), []string{"garlic", "leek", "rhubarb"})
			deepEqual(t, b.KeyCount(), 3)
			deepEqual(t, string(must(b.Get([]byte("garlic")))), "1")
			if v := must(b.Get([]byte("onion"))); v != nil {
				t.Fatalf("Get(onion) = %q, wanted nil", v)
			}

			c := b.Cursor()
			defer c.Close()
			k, v := c.Seek([]byte("h"))
			deepEqual(t, string(k), "leek")
			deepEqual(t, string(v), "4")
			k, _ = c.Next()
			deepEqual(t, string(k), "rhubarb")
			k, _ = c.Next()
			if k != nil {
				t.Fatalf("Next past end = %q, wanted nil", k)
			}
			if k, _ := c.Seek([]byte("z")); k != nil {
				t.Fatalf("Seek(z) = %q, wanted nil", k)
			}

			if tx.Bucket("fruit") != nil {
				t.Fatalf("Bucket(fruit) != nil")
			}
		})
	})
}

func TestEngine_BucketsAreIsolated(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		engineUpdate(t, eng, func(tx EngineTx) {
			a := must(tx.CreateBucket("a"))
			ab := must(tx.CreateBucket("ab"))
			ok(t, a.Put([]byte("bx"), []byte("1")))
			ok(t, ab.Put([]byte("x"), []byte("2")))
			ok(t, a.Put([]byte{0xFF, 0xFF}, []byte("3")))
		})
		engineView(t, eng, func(tx EngineTx) {
			deepEqual(t, tx.BucketNames(), []string{"a", "ab"})
			deepEqual(t, bucketKeys(tx.Bucket("a")), []string{"bx", "\xff\xff"})
			deepEqual(t, bucketKeys(tx.Bucket("ab")), []string{"x"})
		})
	})
}

func TestEngine_RollbackDiscards(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		engineUpdate(t, eng, func(tx EngineTx) {
			ok(t, must(tx.CreateBucket("veg")).Put([]byte("garlic"), []byte("1")))
		})

		tx := must(eng.Begin(true))
		b := tx.Bucket("veg")
		ok(t, b.Put([]byte("rhubarb"), []byte("2")))
		ok(t, b.Delete([]byte("garlic")))
		must(tx.CreateBucket("fruit"))
		ok(t, tx.Rollback())
		ok(t, tx.Rollback())

		engineView(t, eng, func(tx EngineTx) {
			deepEqual(t, tx.BucketNames(), []string{"veg"})
			deepEqual(t, bucketKeys(tx.Bucket("veg")), []string{"garlic"})
		})
	})
}

func TestEngine_ReadersSeeSnapshot(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		engineUpdate(t, eng, func(tx EngineTx) {
			ok(t, must(tx.CreateBucket("veg")).Put([]byte("garlic"), []byte("1")))
		})

		reader := must(eng.Begin(false))
		defer reader.Rollback()

		engineUpdate(t, eng, func(tx EngineTx) {
			ok(t, tx.Bucket("veg").Put([]byte("rhubarb"), []byte("2")))
		})

		deepEqual(t, bucketKeys(reader.Bucket("veg")), []string{"garlic"})
		engineView(t, eng, func(tx EngineTx) {
			deepEqual(t, bucketKeys(tx.Bucket("veg")), []string{"garlic", "rhubarb"})
		})
	})
}

func TestEngine_DeleteBucket(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		engineUpdate(t, eng, func(tx EngineTx) {
			ok(t, must(tx.CreateBucket("veg")).Put([]byte("garlic"), []byte("1")))
			must(tx.CreateBucket("fruit"))
		})
		engineUpdate(t, eng, func(tx EngineTx) {
			ok(t, tx.DeleteBucket("veg"))
			if err := tx.DeleteBucket("veg"); !errors.Is(err, ErrBucketNotFound) {
				t.Fatalf("second DeleteBucket = %v, wanted ErrBucketNotFound", err)
			}
		})
		engineUpdate(t, eng, func(tx EngineTx) {
			deepEqual(t, tx.BucketNames(), []string{"fruit"})
			b := must(tx.CreateBucket("veg"))
			isempty(t, bucketKeys(b))
		})
	})
}

func TestEngine_ReadOnlyRejectsWrites(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		engineUpdate(t, eng, func(tx EngineTx) {
			must(tx.CreateBucket("veg"))
		})
		engineView(t, eng, func(tx EngineTx) {
			if _, err := tx.CreateBucket("fruit"); !errors.Is(err, ErrTxNotWritable) {
				t.Errorf("CreateBucket = %v, wanted ErrTxNotWritable", err)
			}
			if err := tx.Bucket("veg").Put([]byte("k"), []byte("v")); err == nil {
				t.Errorf("Put in read tx succeeded")
			}
		})
	})
}

func TestEngine_EmptyKeyRejected(t *testing.T) {
	forEachEngine(t, func(t *testing.T, eng Engine) {
		tx := must(eng.Begin(true))
		defer tx.Rollback()
		b := must(tx.CreateBucket("veg"))
		if err := b.Put(nil, []byte("v")); err == nil {
			t.Fatalf("Put with empty key succeeded")
		}
	})
}
