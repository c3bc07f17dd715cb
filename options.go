package megadex

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

const (
	defaultFileMode             os.FileMode = 0666
	defaultLockTimeout                      = 10 * time.Second
	defaultCompressionThreshold             = 512
)

// Backend selects the engine an Env is opened on.
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendPebble Backend = "pebble"
	BackendMemory Backend = "memory"
)

// Compression is the method used to compress record payloads.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

// ParseCompression parses the names returned by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

type Options struct {
	// Backend defaults to BackendBolt.
	Backend Backend

	Logger  *slog.Logger
	Verbose bool

	// IsTesting trades durability for speed: no fsync, small initial mmap.
	IsTesting bool
	MmapSize  int

	// LockTimeout bounds the wait for the Bolt file lock; exceeding it is a LockError.
	LockTimeout time.Duration
	FileMode    os.FileMode

	// Codec is the default record codec of stores opened on the Env.
	Codec Codec

	// Compression applies to record payloads of at least CompressionThreshold bytes.
	Compression          Compression
	CompressionThreshold int
}

func (opt *Options) setDefaults() {
	if opt.Backend == "" {
		opt.Backend = BackendBolt
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.LockTimeout == 0 {
		opt.LockTimeout = defaultLockTimeout
	}
	if opt.FileMode == 0 {
		opt.FileMode = defaultFileMode
	}
	if opt.Codec == nil {
		opt.Codec = MsgPack
	}
	if opt.CompressionThreshold == 0 {
		opt.CompressionThreshold = defaultCompressionThreshold
	}
}
