package megadex

import (
	"bytes"
	"errors"
	"testing"
)

type codecSample struct {
	Name  string            `msgpack:"name" json:"name"`
	Tags  map[string]string `msgpack:"tags" json:"tags"`
	Count int               `msgpack:"count" json:"count"`
}

func TestCodecs(t *testing.T) {
	for _, codec := range []Codec{MsgPack, JSON} {
		t.Run(codec.Name(), func(t *testing.T) {
			in := codecSample{Name: "garlic", Tags: map[string]string{"z": "1", "a": "2", "m": "3"}, Count: 3}
			data, err := codec.Marshal(&in)
			ok(t, err)

			var out codecSample
			ok(t, codec.Unmarshal(data, &out))
			deepEqual(t, out, in)

			// map ordering must not affect encoding
			for i := 0; i < 10; i++ {
				again := must(codec.Marshal(&codecSample{Name: "garlic", Tags: map[string]string{"m": "3", "a": "2", "z": "1"}, Count: 3}))
				if !bytes.Equal(again, data) {
					t.Fatalf("encoding is not deterministic: %x vs %x", again, data)
				}
			}

			err = codec.Unmarshal([]byte{0xc1, 0xff}, &out)
			var de *DataError
			if !errors.As(err, &de) {
				t.Fatalf("Unmarshal(garbage) = %v, wanted *DataError", err)
			}
		})
	}
}

func TestCodecByName(t *testing.T) {
	deepEqual(t, must(CodecByName("")), MsgPack)
	deepEqual(t, must(CodecByName("msgpack")), MsgPack)
	deepEqual(t, must(CodecByName("json")), JSON)
	if _, err := CodecByName("xml"); err == nil {
		t.Errorf("CodecByName(xml) succeeded")
	}
}
