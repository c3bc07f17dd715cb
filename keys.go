package megadex

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sync"
	"time"
)

// KeyCodec converts identifiers and indexed field values to canonical bytes.
type KeyCodec[K any] interface {
	Encode(v K) ([]byte, error)
	Decode(data []byte) (K, error)
}

// Keys returns the canonical KeyCodec for K, see EncodeKey.
func Keys[K any]() KeyCodec[K] {
	return reflectKeyCodec[K]{enc: keyEncodingOf(reflect.TypeFor[K]())}
}

type reflectKeyCodec[K any] struct {
	enc *keyEncoding
}

func (c reflectKeyCodec[K]) Encode(v K) ([]byte, error) {
	return c.enc.encode(nil, reflect.ValueOf(&v).Elem())
}

func (c reflectKeyCodec[K]) Decode(data []byte) (K, error) {
	var v K
	err := c.enc.decode(data, reflect.ValueOf(&v).Elem())
	return v, err
}

// EncodeKey returns the canonical byte form of v:
//
//   - strings are their UTF-8 bytes, []byte and byte arrays are copied as is;
//   - bool is a single 0 or 1 byte;
//   - unsigned integers are 8 bytes big-endian;
//   - signed integers are 8 bytes big-endian with the sign bit flipped,
//     so byte order matches numeric order;
//   - floats are their IEEE bits, transformed to sort in numeric order;
//   - time.Time is UnixNano encoded as a signed integer;
//   - encoding.BinaryMarshaler values are their MarshalBinary bytes;
//   - anything else is MsgPack with sorted map keys.
func EncodeKey(v any) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot encode nil key")
	}
	switch v := v.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return cloneBytes(v), nil
	}
	val := reflect.ValueOf(v)
	return keyEncodingOf(val.Type()).encode(nil, val)
}

// DecodeKey is the inverse of EncodeKey; ptr must be a non-nil pointer.
func DecodeKey(data []byte, ptr any) error {
	val := reflect.ValueOf(ptr)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("DecodeKey needs a non-nil pointer, got %T", ptr)
	}
	return keyEncodingOf(val.Type().Elem()).decode(data, val.Elem())
}

var (
	keyEncodings sync.Map

	timeType              = reflect.TypeOf((*time.Time)(nil)).Elem()
	byteType              = reflect.TypeOf((byte)(0))
	binaryMarshalerType   = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalerType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
)

const signBit = 1 << 63

type keyEncoding struct {
	typ    reflect.Type
	Encode func(buf []byte, v reflect.Value) ([]byte, error)
	Decode func(b []byte, v reflect.Value) error
}

func keyEncodingOf(typ reflect.Type) *keyEncoding {
	if e, ok := keyEncodings.Load(typ); ok {
		return e.(*keyEncoding)
	}
	enc := buildKeyEncoding(typ)
	actual, _ := keyEncodings.LoadOrStore(typ, enc)
	return actual.(*keyEncoding)
}

func (enc *keyEncoding) encode(buf []byte, val reflect.Value) ([]byte, error) {
	return enc.Encode(buf, val)
}

func (enc *keyEncoding) decode(data []byte, val reflect.Value) error {
	err := enc.Decode(data, val)
	if err != nil {
		return dataErrf(data, 0, err, "cannot decode key into %v", enc.typ)
	}
	return nil
}

func fixed8(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid length: got %d bytes, wanted 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func buildKeyEncoding(typ reflect.Type) *keyEncoding {
	enc := &keyEncoding{typ: typ}
	switch {
	case typ == timeType:
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			t := v.Interface().(time.Time)
			return binary.BigEndian.AppendUint64(buf, uint64(t.UnixNano())^signBit), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			u, err := fixed8(b)
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(time.Unix(0, int64(u^signBit))))
			return nil
		}
		return enc
	case typ.Kind() != reflect.Ptr && typ.Kind() != reflect.Interface && typ.Implements(binaryMarshalerType) && reflect.PointerTo(typ).Implements(binaryUnmarshalerType):
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			data, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("%v.MarshalBinary: %w", typ, err)
			}
			return append(buf, data...), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			return v.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(cloneBytes(b))
		}
		return enc
	}

	switch typ.Kind() {
	case reflect.String:
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			return append(buf, v.String()...), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			v.SetString(string(b))
			return nil
		}
	case reflect.Bool:
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			if v.Bool() {
				return append(buf, 1), nil
			}
			return append(buf, 0), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			if len(b) != 1 || b[0] > 1 {
				return fmt.Errorf("invalid bool")
			}
			v.SetBool(b[0] == 1)
			return nil
		}
	case reflect.Uint, reflect.Uint64, reflect.Uint32, reflect.Uint16, reflect.Uint8, reflect.Uintptr:
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			return binary.BigEndian.AppendUint64(buf, v.Uint()), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			u, err := fixed8(b)
			if err != nil {
				return err
			}
			if v.OverflowUint(u) {
				return fmt.Errorf("value %d overflows %v", u, typ)
			}
			v.SetUint(u)
			return nil
		}
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Int16, reflect.Int8:
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			return binary.BigEndian.AppendUint64(buf, uint64(v.Int())^signBit), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			u, err := fixed8(b)
			if err != nil {
				return err
			}
			i := int64(u ^ signBit)
			if v.OverflowInt(i) {
				return fmt.Errorf("value %d overflows %v", i, typ)
			}
			v.SetInt(i)
			return nil
		}
	case reflect.Float64, reflect.Float32:
		enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
			bits := math.Float64bits(v.Float())
			if bits&signBit != 0 {
				bits = ^bits
			} else {
				bits |= signBit
			}
			return binary.BigEndian.AppendUint64(buf, bits), nil
		}
		enc.Decode = func(b []byte, v reflect.Value) error {
			bits, err := fixed8(b)
			if err != nil {
				return err
			}
			if bits&signBit != 0 {
				bits &^= signBit
			} else {
				bits = ^bits
			}
			v.SetFloat(math.Float64frombits(bits))
			return nil
		}
	case reflect.Slice:
		if typ.Elem() == byteType {
			enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
				return append(buf, v.Bytes()...), nil
			}
			enc.Decode = func(b []byte, v reflect.Value) error {
				v.SetBytes(cloneBytes(b))
				return nil
			}
			return enc
		}
		useMsgPackKey(enc)
	case reflect.Array:
		if typ.Elem() == byteType {
			n := typ.Len()
			enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
				off := len(buf)
				buf = slices.Grow(buf, n)[:off+n]
				reflect.Copy(reflect.ValueOf(buf[off:]), v)
				return buf, nil
			}
			enc.Decode = func(b []byte, v reflect.Value) error {
				if len(b) != n {
					return fmt.Errorf("invalid length: got %d bytes, wanted %d", len(b), n)
				}
				reflect.Copy(v, reflect.ValueOf(b))
				return nil
			}
			return enc
		}
		useMsgPackKey(enc)
	default:
		useMsgPackKey(enc)
	}
	return enc
}

func useMsgPackKey(enc *keyEncoding) {
	enc.Encode = func(buf []byte, v reflect.Value) ([]byte, error) {
		data, err := MsgPack.Marshal(v.Interface())
		if err != nil {
			return nil, err
		}
		return append(buf, data...), nil
	}
	enc.Decode = func(b []byte, v reflect.Value) error {
		return MsgPack.Unmarshal(b, v.Addr().Interface())
	}
}
