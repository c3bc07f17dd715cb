package megadex

import (
	"reflect"
)

// Table is a typed Store whose id and index fields come from megadex struct
// tags on T (see OpenTable). K is the type of the id field.
//
// Unlike Store, a Table always derives the index entries to remove from the
// record currently stored, never from a caller's copy, so modified records
// can be saved and deleted safely.
type Table[T any, K any] struct {
	store   *Store[T]
	keys    KeyCodec[K]
	model   *model
	keyType reflect.Type
}

// OpenTable opens a Store for the struct type T, whose fields are tagged
//
//	`megadex:"name,id"`                  exactly one, the record id of type K
//	`megadex:"name,index"`               indexed field
//	`megadex:"name,index,omitempty"`     indexed field, zero values not indexed
//
// Relations are namespaced by T's type name unless a Namespace option is
// given. Invalid tags panic.
func OpenTable[T any, K any](env *Env, opts ...StoreOption) (*Table[T, K], error) {
	m := modelOf(reflect.TypeFor[T]())
	keyType := reflect.TypeFor[K]()
	if idType := m.idField.field.Type; !idType.ConvertibleTo(keyType) || idType.Kind() != keyType.Kind() {
		return nil, invalidTypeErr("", nil, keyType.String(), idType.String())
	}
	opts = append([]StoreOption{Namespace(m.typ.Name())}, opts...)
	store, err := OpenStore[T](env, m.fieldNames(), opts...)
	if err != nil {
		return nil, err
	}
	return &Table[T, K]{
		store:   store,
		keys:    Keys[K](),
		model:   m,
		keyType: keyType,
	}, nil
}

func (t *Table[T, K]) Store() *Store[T] {
	return t.store
}

func (t *Table[T, K]) Env() *Env {
	return t.store.env
}

// ID returns the id of rec.
func (t *Table[T, K]) ID(rec *T) K {
	fv := t.model.idField.valueIn(reflect.ValueOf(rec).Elem())
	return fv.Convert(t.keyType).Interface().(K)
}

func (t *Table[T, K]) encodeID(id K) ([]byte, error) {
	b, err := t.keys.Encode(id)
	if err != nil {
		return nil, codecErrf(t.store.primary.name, nil, err, "encode id")
	}
	return b, nil
}

func (t *Table[T, K]) entries(rec *T) ([]byte, []IndexValue, error) {
	id, err := t.encodeID(t.ID(rec))
	if err != nil {
		return nil, nil, err
	}
	idx, err := t.model.indexValues(reflect.ValueOf(rec).Elem(), nil)
	if err != nil {
		return nil, nil, codecErrf(t.store.primary.name, id, err, "encode index")
	}
	return id, idx, nil
}

// Insert puts rec with its current index entries. Like Store.Put, it does not
// remove the index entries of a previous version of the record; use Save for
// records that may already exist.
func (t *Table[T, K]) Insert(rec *T) error {
	return t.Env().Update(func(tx *Tx) error {
		return t.InsertTx(tx, rec)
	})
}

func (t *Table[T, K]) InsertTx(tx *Tx, rec *T) error {
	id, idx, err := t.entries(rec)
	if err != nil {
		return err
	}
	return t.store.PutTx(tx, id, rec, idx...)
}

// Save replaces the stored version of rec, if any, together with its index
// entries.
func (t *Table[T, K]) Save(rec *T) error {
	return t.Env().Update(func(tx *Tx) error {
		return t.SaveTx(tx, rec)
	})
}

func (t *Table[T, K]) SaveTx(tx *Tx, rec *T) error {
	id, idx, err := t.entries(rec)
	if err != nil {
		return err
	}
	if _, err := t.deleteTx(tx, id); err != nil {
		return err
	}
	return t.store.PutTx(tx, id, rec, idx...)
}

func (t *Table[T, K]) Get(id K) (*T, error) {
	var rec *T
	err := t.Env().View(func(tx *Tx) error {
		var err error
		rec, err = t.GetTx(tx, id)
		return err
	})
	return rec, err
}

func (t *Table[T, K]) GetTx(tx *Tx, id K) (*T, error) {
	b, err := t.encodeID(id)
	if err != nil {
		return nil, err
	}
	return t.store.GetTx(tx, b)
}

// Delete removes the record with the given id and the index entries of its
// stored version. Returns false if there was no such record.
func (t *Table[T, K]) Delete(id K) (bool, error) {
	var found bool
	err := t.Env().Update(func(tx *Tx) error {
		var err error
		found, err = t.DeleteTx(tx, id)
		return err
	})
	return found, err
}

func (t *Table[T, K]) DeleteTx(tx *Tx, id K) (bool, error) {
	b, err := t.encodeID(id)
	if err != nil {
		return false, err
	}
	return t.deleteTx(tx, b)
}

func (t *Table[T, K]) deleteTx(tx *Tx, id []byte) (bool, error) {
	old, err := t.store.GetTx(tx, id)
	if err != nil || old == nil {
		return false, err
	}
	idx, err := t.model.indexValues(reflect.ValueOf(old).Elem(), nil)
	if err != nil {
		return false, codecErrf(t.store.primary.name, id, err, "encode index")
	}
	err = t.store.DeleteTx(tx, id, idx...)
	if err != nil {
		return false, err
	}
	return true, nil
}

// Erase deletes the stored record with rec's id. Only the id of rec is used.
func (t *Table[T, K]) Erase(rec *T) (bool, error) {
	return t.Delete(t.ID(rec))
}

func (t *Table[T, K]) encodeFieldValue(field string, value any) ([]byte, error) {
	mf := t.model.byName[field]
	if mf == nil {
		return nil, indexUndefinedErr(field)
	}
	ft := mf.field.Type
	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return nil, invalidTypeErr(RelationName(t.store.ns, field), nil, ft.String(), "nil")
	}
	if vt := val.Type(); vt != ft {
		if vt.Kind() != ft.Kind() || !vt.ConvertibleTo(ft) {
			return nil, invalidTypeErr(RelationName(t.store.ns, field), nil, ft.String(), vt.String())
		}
		val = val.Convert(ft)
	}
	b, err := mf.enc.encode(nil, val)
	if err != nil {
		return nil, codecErrf(RelationName(t.store.ns, field), nil, err, "encode")
	}
	return b, nil
}

// FindBy returns the records whose field equals value. value must have the
// field's type (or one with the same underlying kind).
func (t *Table[T, K]) FindBy(field string, value any) ([]*T, error) {
	b, err := t.encodeFieldValue(field, value)
	if err != nil {
		return nil, err
	}
	return t.store.GetByField(field, b)
}

func (t *Table[T, K]) FindByTx(tx *Tx, field string, value any) ([]*T, error) {
	b, err := t.encodeFieldValue(field, value)
	if err != nil {
		return nil, err
	}
	return t.store.GetByFieldTx(tx, field, b)
}

// IDsBy returns the ids of the records whose field equals value. Like
// Store.GetIDsByField, it is best-effort: unreadable entries and ids that
// don't decode as K are skipped.
func (t *Table[T, K]) IDsBy(field string, value any) ([]K, error) {
	b, err := t.encodeFieldValue(field, value)
	if err != nil {
		return nil, err
	}
	raw, err := t.store.GetIDsByField(field, b)
	if err != nil {
		return nil, err
	}
	result := make([]K, 0, len(raw))
	for _, r := range raw {
		id, err := t.keys.Decode(r)
		if err != nil {
			t.Env().logger.Debug("megadex: skipping undecodable id", "rel", RelationName(t.store.ns, field), "id", printableKey(r), "err", err)
			continue
		}
		result = append(result, id)
	}
	return result, nil
}

// Reindex rebuilds the given index relations (all if none are given) from
// the stored records, returning the number of records indexed.
func (t *Table[T, K]) Reindex(fields ...string) (int, error) {
	var n int
	err := t.Env().Update(func(tx *Tx) error {
		var err error
		n, err = t.ReindexTx(tx, fields...)
		return err
	})
	return n, err
}

func (t *Table[T, K]) ReindexTx(tx *Tx, fields ...string) (int, error) {
	if len(fields) == 0 {
		fields = t.model.fieldNames()
	}
	only := make(map[string]bool, len(fields))
	for _, f := range fields {
		rel, err := t.store.FieldRelation(f)
		if err != nil {
			return 0, err
		}
		if err := tx.ClearRelation(rel); err != nil {
			return 0, err
		}
		only[f] = true
	}

	var n int
	for e, err := range tx.Entries(t.store.primary) {
		if err != nil {
			return n, err
		}
		rec, err := t.store.decode(e.Key, e.Value)
		if err != nil {
			return n, err
		}
		idx, err := t.model.indexValues(reflect.ValueOf(rec).Elem(), only)
		if err != nil {
			return n, codecErrf(t.store.primary.name, e.Key, err, "encode index")
		}
		for _, iv := range idx {
			if err := tx.Put(t.store.fields[iv.Field], iv.Value, e.Key); err != nil {
				return n, err
			}
		}
		n++
	}
	t.Env().logDebug("db: REINDEX", "store", t.store.ns, "fields", fields, "records", n)
	return n, nil
}
