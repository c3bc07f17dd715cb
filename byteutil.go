package megadex

import (
	"encoding/binary"
	"math"
)

// appendVarbytes appends v prefixed by its uvarint length.
func appendVarbytes(buf []byte, v []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

// byteReader consumes encoded data front to back. Failures are DataErrors
// pointing at the offset within the original data.
type byteReader struct {
	orig []byte
	rest []byte
}

func newByteReader(data []byte) *byteReader {
	return &byteReader{orig: data, rest: data}
}

func (r *byteReader) offset() int {
	return len(r.orig) - len(r.rest)
}

func (r *byteReader) readByte() (byte, error) {
	if len(r.rest) == 0 {
		return 0, dataErrf(r.orig, r.offset(), nil, "unexpected end of data")
	}
	v := r.rest[0]
	r.rest = r.rest[1:]
	return v, nil
}

func (r *byteReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.rest)
	if n <= 0 {
		return 0, dataErrf(r.orig, r.offset(), nil, "invalid uvarint")
	}
	r.rest = r.rest[n:]
	return v, nil
}

// length reads a uvarint that must fit into an int.
func (r *byteReader) length() (int, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt {
		return 0, dataErrf(r.orig, r.offset(), nil, "length does not fit into int: %d", v)
	}
	return int(v), nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if len(r.rest) < n {
		return nil, dataErrf(r.orig, r.offset(), nil, "not enough data: %d bytes remaining, %d wanted", len(r.rest), n)
	}
	v := r.rest[:n:n]
	r.rest = r.rest[n:]
	return v, nil
}

func (r *byteReader) varbytes() ([]byte, error) {
	n, err := r.length()
	if err != nil {
		return nil, err
	}
	return r.take(n)
}
