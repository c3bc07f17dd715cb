package megadex

import (
	"bytes"
	"iter"
)

const metaBucket = "__megadex__"

type relationKind byte

const (
	relationSingle relationKind = 1
	relationMulti  relationKind = 2
)

func (k relationKind) String() string {
	switch k {
	case relationSingle:
		return "single"
	case relationMulti:
		return "multi"
	default:
		return "unknown"
	}
}

// Relation is a named sub-store of an Env. A single-valued relation maps
// a key to one value; a multi-valued relation maps a key to a set of values,
// iterated in byte order. Relation handles are valid in any transaction of
// the Env they were opened on.
type Relation struct {
	name  string
	multi bool
}

func (rel *Relation) Name() string  { return rel.name }
func (rel *Relation) IsMulti() bool { return rel.multi }

func (rel *Relation) kind() relationKind {
	if rel.multi {
		return relationMulti
	}
	return relationSingle
}

func (rel *Relation) String() string {
	return rel.name + " (" + rel.kind().String() + ")"
}

// Entry is a key-value pair of a relation. For multi relations, there is one
// Entry per value.
type Entry struct {
	Key   []byte
	Value []byte
}

// OpenRelation returns the named relation, creating it in a write
// transaction. Opening an existing relation with a different kind fails with
// InvalidType. In a read transaction, a missing relation is an EngineError.
func (tx *Tx) OpenRelation(name string, multi bool) (*Relation, error) {
	if name == "" || name == metaBucket {
		return nil, engineErrf(name, nil, nil, "invalid relation name")
	}
	rel := &Relation{name: name, multi: multi}

	existing, err := tx.Relation(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.multi != multi {
			return nil, invalidTypeErr(name, nil, rel.kind().String(), existing.kind().String())
		}
		return existing, nil
	}

	if err := tx.checkWritable(name); err != nil {
		return nil, engineErrf(name, nil, ErrTxNotWritable, "relation does not exist")
	}
	meta := tx.etx.Bucket(metaBucket)
	if meta == nil {
		return nil, engineErrf(metaBucket, nil, nil, "missing")
	}
	if _, err := tx.etx.CreateBucket(name); err != nil {
		return nil, engineErrf(name, nil, err, "create")
	}
	if err := meta.Put([]byte(name), []byte{byte(rel.kind())}); err != nil {
		return nil, engineErrf(name, nil, err, "create")
	}
	tx.env.logDebug("db: CREATE", "rel", rel.String())
	return rel, nil
}

// Relation returns an existing relation, or nil if it doesn't exist.
func (tx *Tx) Relation(name string) (*Relation, error) {
	if tx.closed {
		return nil, engineErrf(name, nil, nil, "tx is closed")
	}
	meta := tx.etx.Bucket(metaBucket)
	if meta == nil {
		return nil, engineErrf(metaBucket, nil, nil, "missing")
	}
	v, err := meta.Get([]byte(name))
	if err != nil {
		return nil, engineErrf(metaBucket, []byte(name), err, "get")
	}
	if v == nil {
		return nil, nil
	}
	return relationFromMeta(name, v)
}

func relationFromMeta(name string, v []byte) (*Relation, error) {
	if len(v) != 1 || (relationKind(v[0]) != relationSingle && relationKind(v[0]) != relationMulti) {
		return nil, codecErrf(metaBucket, []byte(name), dataErrf(v, 0, nil, "invalid relation kind"), "")
	}
	return &Relation{name: name, multi: relationKind(v[0]) == relationMulti}, nil
}

// Relations lists every relation of the Env, sorted by name.
func (tx *Tx) Relations() ([]*Relation, error) {
	if tx.closed {
		return nil, engineErrf("", nil, nil, "tx is closed")
	}
	meta := tx.etx.Bucket(metaBucket)
	if meta == nil {
		return nil, engineErrf(metaBucket, nil, nil, "missing")
	}
	var result []*Relation
	c := meta.Cursor()
	defer c.Close()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		rel, err := relationFromMeta(string(k), v)
		if err != nil {
			return nil, err
		}
		result = append(result, rel)
	}
	return result, nil
}

func (tx *Tx) bucket(rel *Relation) (Bucket, error) {
	if tx.closed {
		return nil, engineErrf(rel.name, nil, nil, "tx is closed")
	}
	b := tx.etx.Bucket(rel.name)
	if b == nil {
		return nil, engineErrf(rel.name, nil, nil, "relation does not exist")
	}
	return b, nil
}

// multiKey is the bucket key of a multi relation entry: the key prefixed
// by its length, then the value. All values of a key share a prefix that no
// other key's entries have.
func multiKey(buf []byte, key, value []byte) []byte {
	buf = appendVarbytes(buf, key)
	return append(buf, value...)
}

func splitMultiKey(k []byte) (key, value []byte, err error) {
	r := newByteReader(k)
	key, err = r.varbytes()
	if err != nil {
		return nil, nil, err
	}
	return key, r.rest, nil
}

// Get returns the value of key in a single relation, or the first value of
// key in a multi relation. Returns nil if there is none. The result is
// only valid until the transaction ends.
func (tx *Tx) Get(rel *Relation, key []byte) ([]byte, error) {
	if rel.multi {
		for v, err := range tx.Values(rel, key) {
			return v, err
		}
		return nil, nil
	}
	b, err := tx.bucket(rel)
	if err != nil {
		return nil, err
	}
	raw, err := b.Get(key)
	if err != nil {
		return nil, engineErrf(rel.name, key, err, "get")
	}
	if raw == nil {
		return nil, nil
	}
	return decodeBlob(rel, key, raw)
}

func decodeBlob(rel *Relation, key, raw []byte) ([]byte, error) {
	if len(raw) == 0 || raw[0] != tagBlob {
		return nil, invalidTypeErr(rel.name, key, "blob", tagName(raw))
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, codecErrf(rel.name, key, err, "")
	}
	data, err := env.Contents()
	if err != nil {
		return nil, codecErrf(rel.name, key, err, "")
	}
	return data, nil
}

// Put stores value under key. In a single relation, it replaces the previous
// value; in a multi relation, it adds value to the key's set.
func (tx *Tx) Put(rel *Relation, key, value []byte) error {
	if err := tx.checkWritable(rel.name); err != nil {
		return err
	}
	if len(key) == 0 && !rel.multi {
		return engineErrf(rel.name, key, nil, "key required")
	}
	b, err := tx.bucket(rel)
	if err != nil {
		return err
	}
	if rel.multi {
		err = b.Put(multiKey(nil, key, value), []byte{tagRef})
	} else {
		opt := &tx.env.opt
		var raw []byte
		raw, err = appendEnvelope(nil, value, opt.Compression, opt.CompressionThreshold)
		if err != nil {
			return codecErrf(rel.name, key, err, "compress")
		}
		err = b.Put(key, raw)
	}
	if err != nil {
		return engineErrf(rel.name, key, err, "put")
	}
	return nil
}

// Delete removes key from a single relation (value is ignored), or the
// (key, value) pair from a multi relation. Returns whether anything was removed.
func (tx *Tx) Delete(rel *Relation, key, value []byte) (bool, error) {
	if err := tx.checkWritable(rel.name); err != nil {
		return false, err
	}
	b, err := tx.bucket(rel)
	if err != nil {
		return false, err
	}
	k := key
	if rel.multi {
		k = multiKey(nil, key, value)
	}
	if len(k) == 0 {
		return false, nil
	}
	old, err := b.Get(k)
	if err != nil {
		return false, engineErrf(rel.name, key, err, "get")
	}
	if old == nil {
		return false, nil
	}
	err = b.Delete(k)
	if err != nil {
		return false, engineErrf(rel.name, key, err, "delete")
	}
	return true, nil
}

// DeleteAll removes key with all its values, returning the number of
// entries removed.
func (tx *Tx) DeleteAll(rel *Relation, key []byte) (int, error) {
	if !rel.multi {
		found, err := tx.Delete(rel, key, nil)
		if found {
			return 1, err
		}
		return 0, err
	}
	if err := tx.checkWritable(rel.name); err != nil {
		return 0, err
	}
	b, err := tx.bucket(rel)
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	prefix := appendVarbytes(nil, key)
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, cloneBytes(k))
	}
	c.Close()
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return 0, engineErrf(rel.name, key, err, "delete")
		}
	}
	return len(keys), nil
}

// Has reports whether key exists in a single relation, or whether the
// (key, value) pair exists in a multi relation.
func (tx *Tx) Has(rel *Relation, key, value []byte) (bool, error) {
	b, err := tx.bucket(rel)
	if err != nil {
		return false, err
	}
	k := key
	if rel.multi {
		k = multiKey(nil, key, value)
	}
	if len(k) == 0 {
		return false, nil
	}
	v, err := b.Get(k)
	if err != nil {
		return false, engineErrf(rel.name, key, err, "get")
	}
	return v != nil, nil
}

// Values iterates over the values of key: the single value of a single
// relation, or every value of a multi relation in byte order. An entry that
// cannot be read yields an error; iteration may continue past it.
func (tx *Tx) Values(rel *Relation, key []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !rel.multi {
			v, err := tx.Get(rel, key)
			if err != nil || v != nil {
				yield(v, err)
			}
			return
		}
		b, err := tx.bucket(rel)
		if err != nil {
			yield(nil, err)
			return
		}
		prefix := appendVarbytes(nil, key)
		c := b.Cursor()
		defer c.Close()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var ok bool
			if len(v) != 1 || v[0] != tagRef {
				ok = yield(nil, invalidTypeErr(rel.name, key, "ref", tagName(v)))
			} else {
				ok = yield(cloneBytes(k[len(prefix):]), nil)
			}
			if !ok {
				return
			}
		}
	}
}

// Entries iterates over all entries of a relation in key order. An entry
// that cannot be read yields its key (if known) and an error; iteration may
// continue past it.
func (tx *Tx) Entries(rel *Relation) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		b, err := tx.bucket(rel)
		if err != nil {
			yield(Entry{}, err)
			return
		}
		c := b.Cursor()
		defer c.Close()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e Entry
			var err error
			if rel.multi {
				e.Key, e.Value, err = splitMultiKey(k)
				if err != nil {
					err = codecErrf(rel.name, k, err, "")
				} else if len(v) != 1 || v[0] != tagRef {
					err = invalidTypeErr(rel.name, e.Key, "ref", tagName(v))
				}
				e.Key, e.Value = cloneBytes(e.Key), cloneBytes(e.Value)
			} else {
				e.Key = cloneBytes(k)
				e.Value, err = decodeBlob(rel, e.Key, v)
				e.Value = cloneBytes(e.Value)
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// Count returns the number of entries of a relation (key-value pairs for
// multi relations).
func (tx *Tx) Count(rel *Relation) (int, error) {
	b, err := tx.bucket(rel)
	if err != nil {
		return 0, err
	}
	return b.KeyCount(), nil
}

// ClearRelation removes every entry of a relation, keeping the relation.
func (tx *Tx) ClearRelation(rel *Relation) error {
	if err := tx.checkWritable(rel.name); err != nil {
		return err
	}
	if err := tx.etx.DeleteBucket(rel.name); err != nil && err != ErrBucketNotFound {
		return engineErrf(rel.name, nil, err, "clear")
	}
	if _, err := tx.etx.CreateBucket(rel.name); err != nil {
		return engineErrf(rel.name, nil, err, "clear")
	}
	tx.env.logDebug("db: CLEAR", "rel", rel.name)
	return nil
}
