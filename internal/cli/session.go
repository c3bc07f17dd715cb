package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreyvit/megadex"
)

// session is an opened environment plus the settings a command runs with.
type session struct {
	env    *megadex.Env
	cfg    *Config
	opt    megadex.Options
	output *OutputFormatter
}

func openSession(opts *RootOptions, cmd *cobra.Command, path string) (*session, error) {
	cfg, err := LoadConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	opt, err := cfg.Options(opts.Backend, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if !megadex.Exists(path, opt.Backend) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no %s environment at %s", backendName(opt.Backend), path))
	}
	env, err := megadex.Open(path, opt)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open environment", err)
	}
	return &session{
		env: env,
		cfg: cfg,
		opt: env.Options(),
		output: &OutputFormatter{
			Format: opts.Format,
			Writer: cmd.OutOrStdout(),
		},
	}, nil
}

func (s *session) Close() {
	s.env.Close()
}

func backendName(b megadex.Backend) string {
	if b == "" {
		return string(megadex.BackendBolt)
	}
	return string(b)
}

// openStore opens the records of namespace ns as untyped values. Index
// fields come from the config, or are every multi relation of ns. Nothing is
// created: a configured field without a relation is an error.
func (s *session) openStore(ns string) (*megadex.Store[any], error) {
	codec := s.opt.Codec
	var fields []string
	sc := s.cfg.Store(ns)
	if sc != nil {
		fields = sc.Fields
		if sc.Codec != "" {
			c, err := megadex.CodecByName(sc.Codec)
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "invalid config", err)
			}
			codec = c
		}
	}

	err := s.env.View(func(tx *megadex.Tx) error {
		primary, err := tx.Relation(megadex.RelationName(ns, megadex.PrimaryRelation))
		if err != nil {
			return err
		}
		if primary == nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("no store in namespace %q", ns))
		}
		if sc != nil {
			return nil
		}
		rels, err := tx.Relations()
		if err != nil {
			return err
		}
		for _, rel := range rels {
			if field, ok := fieldOf(ns, rel); ok {
				fields = append(fields, field)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	store, err := megadex.OpenStore[any](s.env, fields, megadex.Namespace(ns), megadex.WithCodec(codec), megadex.ReadOnly())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("cannot open store %q", ns), err)
	}
	return store, nil
}

// fieldOf returns the field name of an index relation of namespace ns.
func fieldOf(ns string, rel *megadex.Relation) (string, bool) {
	if !rel.IsMulti() {
		return "", false
	}
	name := rel.Name()
	if ns != "" {
		var ok bool
		name, ok = strings.CutPrefix(name, ns+".")
		if !ok {
			return "", false
		}
	}
	if strings.Contains(name, ".") || name == megadex.PrimaryRelation {
		return "", false
	}
	return name, true
}

// KeyTypes lists the accepted values of the --key flag.
var KeyTypes = []string{"string", "int", "uint", "hex"}

// parseKey encodes a command-line argument the way megadex.EncodeKey would
// encode a value of the given type.
func parseKey(keyType, arg string) ([]byte, error) {
	switch keyType {
	case "", "string":
		return []byte(arg), nil
	case "int":
		v, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid int key", err)
		}
		return megadex.EncodeKey(v)
	case "uint":
		v, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid uint key", err)
		}
		return megadex.EncodeKey(v)
	case "hex":
		v, err := hex.DecodeString(arg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid hex key", err)
		}
		return v, nil
	default:
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid key type %q: must be one of %v", keyType, KeyTypes))
	}
}

// formatKey is the inverse of parseKey, for printing ids.
func formatKey(keyType string, key []byte) string {
	switch keyType {
	case "int":
		var v int64
		if megadex.DecodeKey(key, &v) == nil {
			return strconv.FormatInt(v, 10)
		}
	case "uint":
		var v uint64
		if megadex.DecodeKey(key, &v) == nil {
			return strconv.FormatUint(v, 10)
		}
	case "hex":
		return hex.EncodeToString(key)
	default:
		return string(key)
	}
	return hex.EncodeToString(key)
}
