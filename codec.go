package megadex

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts records to and from bytes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// MsgPack encodes records as MessagePack with sorted map keys, so equal
	// records always produce equal bytes.
	MsgPack Codec = msgpackCodec{}

	JSON Codec = jsonCodec{}
)

// CodecByName returns MsgPack or JSON by their Name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", MsgPack.Name():
		return MsgPack, nil
	case JSON.Name():
		return JSON, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type bytesBuilder struct {
	Buf []byte
}

func (bb *bytesBuilder) Write(b []byte) (int, error) {
	bb.Buf = append(bb.Buf, b...)
	return len(b), nil
}

var readerPool = sync.Pool{
	New: func() any { return new(bytes.Reader) },
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	bb := bytesBuilder{}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return bb.Buf, nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	r := readerPool.Get().(*bytes.Reader)
	r.Reset(data)
	dec := msgpack.GetDecoder()
	dec.Reset(r)
	err := dec.Decode(v)
	msgpack.PutDecoder(dec)
	r.Reset(nil)
	readerPool.Put(r)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode msgpack into %T", v)
	}
	return nil
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T to JSON: %w", v, err)
	}
	return raw, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err != nil {
		return dataErrf(data, 0, err, "failed to decode JSON into %T", v)
	}
	return nil
}
