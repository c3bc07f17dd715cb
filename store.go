package megadex

import (
	"errors"
	"slices"
)

// PrimaryRelation is the name of the relation holding a store's records.
const PrimaryRelation = "_main_"

// IndexValue is one secondary index entry of a record: the encoded value of
// an indexed field.
type IndexValue struct {
	Field string
	Value []byte
}

func (iv IndexValue) String() string {
	return iv.Field + "=" + printableKey(iv.Value)
}

// Index is a shorthand for IndexValue{field, []byte(value)}.
func Index(field string, value string) IndexValue {
	return IndexValue{Field: field, Value: []byte(value)}
}

type storeConfig struct {
	ns       string
	codec    Codec
	readOnly bool
}

type StoreOption func(cfg *storeConfig)

// Namespace prefixes the store's relation names with ns, allowing several
// stores to share an Env.
func Namespace(ns string) StoreOption {
	return func(cfg *storeConfig) {
		cfg.ns = ns
	}
}

// WithCodec overrides the Env's default record codec.
func WithCodec(codec Codec) StoreOption {
	return func(cfg *storeConfig) {
		cfg.codec = codec
	}
}

// ReadOnly makes OpenStore use existing relations only, looking them up in a
// read transaction. A missing primary relation is an EngineError, a missing
// field relation is IndexUndefined. Writes through the store still work.
func ReadOnly() StoreOption {
	return func(cfg *storeConfig) {
		cfg.readOnly = true
	}
}

// RelationName returns the full name of a store relation: name, prefixed
// by the namespace ns if there is one.
func RelationName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// Store keeps records of type T in a primary relation, and maintains one
// multi-valued index relation per registered field. Every Store operation
// runs in a single transaction, so readers never observe a record without its
// index entries or the other way round.
type Store[T any] struct {
	env        *Env
	ns         string
	codec      Codec
	primary    *Relation
	fields     map[string]*Relation
	fieldNames []string
}

// OpenStore opens the store's primary relation and the index relations of
// fields, creating them if needed unless ReadOnly is given.
func OpenStore[T any](env *Env, fields []string, opts ...StoreOption) (*Store[T], error) {
	cfg := storeConfig{codec: env.opt.Codec}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.codec == nil {
		cfg.codec = MsgPack
	}
	s := &Store[T]{
		env:    env,
		ns:     cfg.ns,
		codec:  cfg.codec,
		fields: make(map[string]*Relation, len(fields)),
	}
	run := env.Update
	if cfg.readOnly {
		run = env.View
	}
	err := run(func(tx *Tx) error {
		var err error
		s.primary, err = tx.OpenRelation(RelationName(s.ns, PrimaryRelation), false)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if f == "" {
				return engineErrf("", nil, nil, "empty field name")
			}
			if s.fields[f] != nil {
				continue
			}
			rel, err := tx.OpenRelation(RelationName(s.ns, f), true)
			if cfg.readOnly && errors.Is(err, ErrTxNotWritable) {
				return indexUndefinedErr(f)
			} else if err != nil {
				return err
			}
			s.fields[f] = rel
			s.fieldNames = append(s.fieldNames, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store[T]) Env() *Env {
	return s.env
}

func (s *Store[T]) Namespace() string {
	return s.ns
}

func (s *Store[T]) Codec() Codec {
	return s.codec
}

// Fields returns the registered index fields in registration order.
func (s *Store[T]) Fields() []string {
	return slices.Clone(s.fieldNames)
}

func (s *Store[T]) Primary() *Relation {
	return s.primary
}

// FieldRelation returns the index relation of field, failing with
// IndexUndefined if the field wasn't registered.
func (s *Store[T]) FieldRelation(field string) (*Relation, error) {
	rel := s.fields[field]
	if rel == nil {
		return nil, indexUndefinedErr(field)
	}
	return rel, nil
}

func (s *Store[T]) resolveFields(idx []IndexValue) ([]*Relation, error) {
	rels := make([]*Relation, len(idx))
	for i, iv := range idx {
		rel, err := s.FieldRelation(iv.Field)
		if err != nil {
			return nil, err
		}
		rels[i] = rel
	}
	return rels, nil
}

func (s *Store[T]) decode(id, data []byte) (*T, error) {
	rec := new(T)
	err := s.codec.Unmarshal(data, rec)
	if err != nil {
		return nil, codecErrf(s.primary.name, id, err, "decode")
	}
	return rec, nil
}

// Get returns the record stored under id, or nil if there is none.
func (s *Store[T]) Get(id []byte) (*T, error) {
	var rec *T
	err := s.env.View(func(tx *Tx) error {
		var err error
		rec, err = s.GetTx(tx, id)
		return err
	})
	return rec, err
}

func (s *Store[T]) GetTx(tx *Tx, id []byte) (*T, error) {
	data, err := tx.Get(s.primary, id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		s.env.logDebug("db: GET.NOTFOUND", "rel", s.primary.name, keyAttr("id", id))
		return nil, nil
	}
	rec, err := s.decode(id, data)
	if err != nil {
		return nil, err
	}
	s.env.logDebug("db: GET", "rel", s.primary.name, keyAttr("id", id))
	return rec, nil
}

// Put stores rec under id and adds every index entry in idx, all in one
// write transaction. An existing record is overwritten, but index entries
// written for its old field values stay: delete it first when indexed
// fields change. An unregistered field fails with IndexUndefined before
// anything is written.
func (s *Store[T]) Put(id []byte, rec *T, idx ...IndexValue) error {
	return s.env.Update(func(tx *Tx) error {
		return s.PutTx(tx, id, rec, idx...)
	})
}

func (s *Store[T]) PutTx(tx *Tx, id []byte, rec *T, idx ...IndexValue) error {
	rels, err := s.resolveFields(idx)
	if err != nil {
		return err
	}
	if rec == nil {
		return codecErrf(s.primary.name, id, nil, "nil record")
	}
	data, err := s.codec.Marshal(rec)
	if err != nil {
		return codecErrf(s.primary.name, id, err, "encode")
	}

	err = tx.Put(s.primary, id, data)
	if err != nil {
		return err
	}
	for i, iv := range idx {
		err = tx.Put(rels[i], iv.Value, id)
		if err != nil {
			return err
		}
	}

	s.env.logDebug("db: PUT", "rel", s.primary.name, keyAttr("id", id), "size", len(data), "index", idx)
	tx.notify(&Change{store: s.ns, op: OpPut, id: cloneBytes(id), index: idx})
	return nil
}

// Delete removes the record stored under id together with the index entries
// in idx, which must be the entries written when the record was last put.
// If the record doesn't exist, or any entry of idx doesn't reference id,
// Delete fails with ValueError and removes nothing.
func (s *Store[T]) Delete(id []byte, idx ...IndexValue) error {
	return s.env.Update(func(tx *Tx) error {
		return s.DeleteTx(tx, id, idx...)
	})
}

func (s *Store[T]) DeleteTx(tx *Tx, id []byte, idx ...IndexValue) error {
	rels, err := s.resolveFields(idx)
	if err != nil {
		return err
	}

	found, err := tx.Has(s.primary, id, nil)
	if err != nil {
		return err
	}
	if !found {
		return valueErrf(s.primary.name, id, "object not found for id")
	}
	for i, iv := range idx {
		found, err = tx.Has(rels[i], iv.Value, id)
		if err != nil {
			return err
		}
		if !found {
			return valueErrf(rels[i].name, iv.Value, "index entry does not reference id %s", printableKey(id))
		}
	}

	_, err = tx.Delete(s.primary, id, nil)
	if err != nil {
		return err
	}
	for i, iv := range idx {
		_, err = tx.Delete(rels[i], iv.Value, id)
		if err != nil {
			return err
		}
	}

	s.env.logDebug("db: DELETE", "rel", s.primary.name, keyAttr("id", id), "index", idx)
	tx.notify(&Change{store: s.ns, op: OpDelete, id: cloneBytes(id), index: idx})
	return nil
}
