package megadex

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

const structTagKey = "megadex"

var modelCache sync.Map

// model describes a record struct annotated with megadex tags:
//
//	type Veggie struct {
//		Name   string `megadex:"name,id"`
//		Flavor string `megadex:"flavor,index"`
//		Leaves string `megadex:"leaves,index,omitempty"`
//	}
type model struct {
	typ     reflect.Type
	idField modelField
	indices []modelField
	byName  map[string]*modelField
}

type modelField struct {
	name      string
	field     reflect.StructField
	omitEmpty bool
	enc       *keyEncoding
}

func (mf *modelField) valueIn(structVal reflect.Value) reflect.Value {
	return structVal.FieldByIndex(mf.field.Index)
}

func modelOf(typ reflect.Type) *model {
	if v, ok := modelCache.Load(typ); ok {
		return v.(*model)
	}
	m := buildModel(typ)
	actual, _ := modelCache.LoadOrStore(typ, m)
	return actual.(*model)
}

// buildModel panics on invalid tags, the same way a bad schema definition would.
func buildModel(typ reflect.Type) *model {
	if typ.Kind() != reflect.Struct {
		panic(fmt.Errorf("%v not a struct", typ))
	}
	m := &model{
		typ:    typ,
		byName: make(map[string]*modelField),
	}
	var hasID bool
	for _, field := range reflect.VisibleFields(typ) {
		tag, ok := field.Tag.Lookup(structTagKey)
		if !ok || tag == "-" {
			continue
		}
		if !field.IsExported() {
			panic(fmt.Errorf("%v.%s: tagged field must be exported", typ, field.Name))
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		mf := modelField{
			name:  name,
			field: field,
			enc:   keyEncodingOf(field.Type),
		}
		var isID, isIndex bool
		for _, opt := range strings.Split(opts, ",") {
			switch opt {
			case "id":
				isID = true
			case "index":
				isIndex = true
			case "omitempty":
				mf.omitEmpty = true
			case "":
			default:
				panic(fmt.Errorf("%v.%s: unknown megadex tag option %q", typ, field.Name, opt))
			}
		}
		switch {
		case isID && isIndex:
			panic(fmt.Errorf("%v.%s: a field cannot be both id and index", typ, field.Name))
		case isID:
			if hasID {
				panic(fmt.Errorf("%v: more than one id field (%s and %s)", typ, m.idField.field.Name, field.Name))
			}
			hasID = true
			m.idField = mf
		case isIndex:
			if name == PrimaryRelation {
				panic(fmt.Errorf("%v.%s: index name %q is reserved", typ, field.Name, name))
			}
			for _, other := range m.indices {
				if other.name == name {
					panic(fmt.Errorf("%v: duplicate index name %q", typ, name))
				}
			}
			m.indices = append(m.indices, mf)
		default:
			panic(fmt.Errorf("%v.%s: megadex tag needs id or index", typ, field.Name))
		}
	}
	if !hasID {
		panic(fmt.Errorf("%v: no field tagged megadex:\",id\"", typ))
	}
	for i := range m.indices {
		m.byName[m.indices[i].name] = &m.indices[i]
	}
	return m
}

func (m *model) fieldNames() []string {
	names := make([]string, len(m.indices))
	for i, mf := range m.indices {
		names[i] = mf.name
	}
	return names
}

func (m *model) id(structVal reflect.Value) ([]byte, error) {
	return m.idField.enc.encode(nil, m.idField.valueIn(structVal))
}

// indexValues computes the index entries of a record. With only, it is
// limited to the given fields.
func (m *model) indexValues(structVal reflect.Value, only map[string]bool) ([]IndexValue, error) {
	result := make([]IndexValue, 0, len(m.indices))
	for i := range m.indices {
		mf := &m.indices[i]
		if only != nil && !only[mf.name] {
			continue
		}
		fv := mf.valueIn(structVal)
		if mf.omitEmpty && fv.IsZero() {
			continue
		}
		b, err := mf.enc.encode(nil, fv)
		if err != nil {
			return nil, fmt.Errorf("%v.%s: %w", m.typ, mf.field.Name, err)
		}
		result = append(result, IndexValue{Field: mf.name, Value: b})
	}
	return result, nil
}
