package megadex

import (
	"fmt"
)

// GetByField returns every record whose field was indexed with value, in
// the index's iteration order (byte order of ids). An index entry pointing at
// a missing record fails with ValueError.
func (s *Store[T]) GetByField(field string, value []byte) ([]*T, error) {
	var result []*T
	err := s.env.View(func(tx *Tx) error {
		var err error
		result, err = s.GetByFieldTx(tx, field, value)
		return err
	})
	return result, err
}

func (s *Store[T]) GetByFieldTx(tx *Tx, field string, value []byte) ([]*T, error) {
	rel, err := s.FieldRelation(field)
	if err != nil {
		return nil, err
	}
	var result []*T
	for id, err := range tx.Values(rel, value) {
		if err != nil {
			return nil, err
		}
		rec, err := s.GetTx(tx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, valueErrf(s.primary.name, id, "object not found for id")
		}
		result = append(result, rec)
	}
	s.env.logDebug("db: LOOKUP", "rel", rel.name, keyAttr("value", value), "found", len(result))
	return result, nil
}

// GetIDsByField returns the ids indexed under value, without loading the
// records. This is the best-effort variant: an index entry that cannot be
// read is logged and left out of the result instead of failing the query.
func (s *Store[T]) GetIDsByField(field string, value []byte) ([][]byte, error) {
	var result [][]byte
	err := s.env.View(func(tx *Tx) error {
		var err error
		result, err = s.GetIDsByFieldTx(tx, field, value)
		return err
	})
	return result, err
}

func (s *Store[T]) GetIDsByFieldTx(tx *Tx, field string, value []byte) ([][]byte, error) {
	rel, err := s.FieldRelation(field)
	if err != nil {
		return nil, err
	}
	var result [][]byte
	for id, err := range tx.Values(rel, value) {
		if err != nil {
			if k := KindOf(err); k == InvalidType || k == CodecError {
				s.env.logger.Debug("megadex: skipping unreadable index entry", "rel", rel.name, keyAttr("value", value), "err", err)
				continue
			}
			return nil, err
		}
		result = append(result, id)
	}
	return result, nil
}

// GetIDsByFieldStrict is like GetIDsByField, but fails on the first
// unreadable entry, and with ValueError on an id that has no record.
func (s *Store[T]) GetIDsByFieldStrict(field string, value []byte) ([][]byte, error) {
	var result [][]byte
	err := s.env.View(func(tx *Tx) error {
		var err error
		result, err = s.GetIDsByFieldStrictTx(tx, field, value)
		return err
	})
	return result, err
}

func (s *Store[T]) GetIDsByFieldStrictTx(tx *Tx, field string, value []byte) ([][]byte, error) {
	rel, err := s.FieldRelation(field)
	if err != nil {
		return nil, err
	}
	var result [][]byte
	for id, err := range tx.Values(rel, value) {
		if err != nil {
			return nil, err
		}
		found, err := tx.Has(s.primary, id, nil)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, valueErrf(s.primary.name, id, "object not found for id")
		}
		result = append(result, id)
	}
	return result, nil
}

// Inconsistency is a problem found by Check: an index entry referencing a
// missing record or an entry that cannot be read. Field is empty for
// problems with the record itself.
type Inconsistency struct {
	Field string
	Value []byte
	ID    []byte
	Err   error
}

func (inc Inconsistency) String() string {
	if inc.Field == "" {
		return fmt.Sprintf("%s: %v", printableKey(inc.ID), inc.Err)
	}
	if inc.Err != nil {
		return fmt.Sprintf("%s=%s: %v", inc.Field, printableKey(inc.Value), inc.Err)
	}
	return fmt.Sprintf("%s=%s: dangling id %s", inc.Field, printableKey(inc.Value), printableKey(inc.ID))
}

// Check verifies that every record decodes and every index entry is
// readable and references an existing record.
func (s *Store[T]) Check(tx *Tx) ([]Inconsistency, error) {
	var result []Inconsistency
	for e, err := range tx.Entries(s.primary) {
		if err == nil {
			_, err = s.decode(e.Key, e.Value)
		}
		if err != nil {
			if KindOf(err) == EngineError {
				return nil, err
			}
			result = append(result, Inconsistency{ID: e.Key, Err: err})
		}
	}
	for _, field := range s.fieldNames {
		rel := s.fields[field]
		for e, err := range tx.Entries(rel) {
			if err != nil {
				if KindOf(err) == EngineError {
					return nil, err
				}
				result = append(result, Inconsistency{Field: field, Value: e.Key, ID: e.Value, Err: err})
				continue
			}
			found, err := tx.Has(s.primary, e.Value, nil)
			if err != nil {
				return nil, err
			}
			if !found {
				result = append(result, Inconsistency{Field: field, Value: e.Key, ID: e.Value})
			}
		}
	}
	return result, nil
}

// Prune removes the index entries reported by Check in one write
// transaction, returning how many were removed. Records that fail to decode
// are left alone.
func (s *Store[T]) Prune() (int, error) {
	var n int
	err := s.env.Update(func(tx *Tx) error {
		var err error
		n, err = s.PruneTx(tx)
		return err
	})
	return n, err
}

func (s *Store[T]) PruneTx(tx *Tx) (int, error) {
	issues, err := s.Check(tx)
	if err != nil {
		return 0, err
	}
	var n int
	for _, inc := range issues {
		if inc.Field == "" || inc.Value == nil {
			continue
		}
		removed, err := tx.Delete(s.fields[inc.Field], inc.Value, inc.ID)
		if err != nil {
			return n, err
		}
		if removed {
			n++
			s.env.logDebug("db: PRUNE", "rel", s.fields[inc.Field].name, "entry", inc.String())
		}
	}
	return n, nil
}

// StoreStats counts a store's records and index entries.
type StoreStats struct {
	Records int
	Entries map[string]int
}

func (s *Store[T]) Stats() (StoreStats, error) {
	var st StoreStats
	err := s.env.View(func(tx *Tx) error {
		var err error
		st, err = s.StatsTx(tx)
		return err
	})
	return st, err
}

func (s *Store[T]) StatsTx(tx *Tx) (StoreStats, error) {
	st := StoreStats{Entries: make(map[string]int, len(s.fieldNames))}
	var err error
	st.Records, err = tx.Count(s.primary)
	if err != nil {
		return st, err
	}
	for _, field := range s.fieldNames {
		st.Entries[field], err = tx.Count(s.fields[field])
		if err != nil {
			return st, err
		}
	}
	return st, nil
}
