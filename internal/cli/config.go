package cli

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andreyvit/megadex"
)

// Config is the optional YAML config file:
//
//	backend: bolt
//	codec: msgpack
//	compression: zstd
//	lock_timeout: 5s
//	stores:
//	  - namespace: veg
//	    codec: json
//	    fields: [flavor, color]
type Config struct {
	Backend              string        `yaml:"backend"`
	Codec                string        `yaml:"codec"`
	Compression          string        `yaml:"compression"`
	CompressionThreshold int           `yaml:"compression_threshold,omitempty"`
	LockTimeout          time.Duration `yaml:"lock_timeout,omitempty"`
	MmapSize             int           `yaml:"mmap_size,omitempty"`

	// Stores declare the index fields and codec of namespaces. Namespaces
	// not listed here use the default codec and every multi relation of the
	// namespace as a field.
	Stores []StoreConfig `yaml:"stores,omitempty"`
}

type StoreConfig struct {
	Namespace string   `yaml:"namespace"`
	Codec     string   `yaml:"codec,omitempty"`
	Fields    []string `yaml:"fields"`
}

// LoadConfig reads a config file. An empty path yields the zero Config.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read config", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid config %s", path), err)
	}
	return cfg, nil
}

// Store returns the declaration of namespace ns, or nil.
func (cfg *Config) Store(ns string) *StoreConfig {
	for i := range cfg.Stores {
		if cfg.Stores[i].Namespace == ns {
			return &cfg.Stores[i]
		}
	}
	return nil
}

// Options converts the config into Env options; a non-empty backend
// overrides the configured one.
func (cfg *Config) Options(backend string, verbose bool, logTo io.Writer) (megadex.Options, error) {
	opt := megadex.Options{
		Backend:              megadex.Backend(cfg.Backend),
		LockTimeout:          cfg.LockTimeout,
		MmapSize:             cfg.MmapSize,
		CompressionThreshold: cfg.CompressionThreshold,
		Verbose:              verbose,
	}
	if backend != "" {
		opt.Backend = megadex.Backend(backend)
	}
	switch opt.Backend {
	case "", megadex.BackendBolt, megadex.BackendPebble:
	default:
		return opt, NewExitError(ExitCommandError, fmt.Sprintf("invalid backend %q: must be bolt or pebble", opt.Backend))
	}

	var err error
	opt.Codec, err = megadex.CodecByName(cfg.Codec)
	if err != nil {
		return opt, WrapExitError(ExitCommandError, "invalid config", err)
	}
	opt.Compression, err = megadex.ParseCompression(cfg.Compression)
	if err != nil {
		return opt, WrapExitError(ExitCommandError, "invalid config", err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	opt.Logger = slog.New(slog.NewTextHandler(logTo, &slog.HandlerOptions{Level: level}))
	return opt, nil
}
