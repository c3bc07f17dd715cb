package megadex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Stored value tags. Single relations hold tagBlob envelopes; multi relation
// entries hold a bare tagRef byte.
const (
	tagBlob byte = 'b'
	tagRef  byte = 'r'
)

func tagName(data []byte) string {
	if len(data) == 0 {
		return "empty"
	}
	switch data[0] {
	case tagBlob:
		return "blob"
	case tagRef:
		return "ref"
	default:
		return fmt.Sprintf("tag 0x%02x", data[0])
	}
}

type envelopeFlags uint64

const (
	efCompressionBit0 envelopeFlags = 1 << iota
	efCompressionBit1

	efCompressionMask = efCompressionBit0 | efCompressionBit1
	efZstd            = efCompressionBit0
	efLZ4             = efCompressionBit1
	efSupportedMask   = efCompressionMask

	minEnvelopeSize = 1 + 1 + 1 + 8
	maxEnvelopeSize = math.MaxInt32
)

func (f envelopeFlags) compression() Compression {
	switch f & efCompressionMask {
	case efZstd:
		return CompressionZstd
	case efLZ4:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// ErrChecksum means a stored payload doesn't match its checksum.
var ErrChecksum = errors.New("checksum mismatch")

// envelope is a decoded blob: tag, flags, uncompressed size, stored payload, checksum.
type envelope struct {
	Flags   envelopeFlags
	Size    int
	Payload []byte
}

// appendEnvelope wraps data into a blob envelope, compressing it with comp
// when it is at least threshold bytes long and compression actually helps.
func appendEnvelope(buf []byte, data []byte, comp Compression, threshold int) ([]byte, error) {
	var flags envelopeFlags
	payload := data
	if comp != CompressionNone && len(data) >= threshold {
		compressed, err := compress(data, comp)
		if err != nil {
			return nil, err
		}
		if compressed != nil && len(compressed) < len(data) {
			payload = compressed
			switch comp {
			case CompressionZstd:
				flags = efZstd
			case CompressionLZ4:
				flags = efLZ4
			}
		}
	}

	buf = append(buf, tagBlob)
	buf = binary.AppendUvarint(buf, uint64(flags))
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint64(buf, xxhash.Sum64(payload))
	return buf, nil
}

// decodeEnvelope parses a blob envelope and verifies its checksum. The
// caller must have checked the tag.
func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	if len(data) < minEnvelopeSize {
		return env, dataErrf(data, 0, nil, "invalid envelope: at least %d bytes required", minEnvelopeSize)
	}
	r := newByteReader(data[:len(data)-8])
	if _, err := r.readByte(); err != nil {
		return env, err
	}
	flags, err := r.uvarint()
	if err != nil {
		return env, err
	}
	if (envelopeFlags(flags) &^ efSupportedMask) != 0 {
		return env, dataErrf(data, r.offset(), nil, "invalid envelope: unsupported flags %x", flags)
	}
	env.Flags = envelopeFlags(flags)
	env.Size, err = r.length()
	if err != nil {
		return env, err
	}
	if env.Size > maxEnvelopeSize {
		return env, dataErrf(data, r.offset(), nil, "invalid envelope: size %d too large", env.Size)
	}
	env.Payload = r.rest

	sum := binary.BigEndian.Uint64(data[len(data)-8:])
	if actual := xxhash.Sum64(env.Payload); actual != sum {
		return env, dataErrf(data, len(data)-8, ErrChecksum, "invalid envelope: checksum %016x, computed %016x", sum, actual)
	}
	if env.Flags.compression() == CompressionNone && len(env.Payload) != env.Size {
		return env, dataErrf(data, r.offset(), nil, "invalid envelope: got %d bytes of payload, expected %d", len(env.Payload), env.Size)
	}
	return env, nil
}

// Contents returns the uncompressed payload.
func (env envelope) Contents() ([]byte, error) {
	comp := env.Flags.compression()
	if comp == CompressionNone {
		return env.Payload, nil
	}
	return decompress(env.Payload, env.Size, comp)
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// compress returns nil if data is incompressible.
func compress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		compressed := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return compressed[:n], nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", comp)
	}
}

func decompress(payload []byte, size int, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		result, err := dec.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, dataErrf(payload, 0, err, "zstd")
		}
		if len(result) != size {
			return nil, dataErrf(payload, 0, nil, "zstd: decompressed %d bytes, expected %d", len(result), size)
		}
		return result, nil
	case CompressionLZ4:
		result := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, dataErrf(payload, 0, err, "lz4")
		}
		if n != size {
			return nil, dataErrf(payload, 0, nil, "lz4: decompressed %d bytes, expected %d", n, size)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", comp)
	}
}
