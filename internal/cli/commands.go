package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/andreyvit/megadex"
)

// RelationInfo describes one relation in relations output.
type RelationInfo struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Entries int    `json:"entries"`
}

func NewRelationsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relations <path>",
		Short: "List relations with their kind and entry count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return runRelations(s)
		},
	}
}

func runRelations(s *session) error {
	var infos []RelationInfo
	err := s.env.View(func(tx *megadex.Tx) error {
		rels, err := tx.Relations()
		if err != nil {
			return err
		}
		for _, rel := range rels {
			n, err := tx.Count(rel)
			if err != nil {
				return err
			}
			kind := "single"
			if rel.IsMulti() {
				kind = "multi"
			}
			infos = append(infos, RelationInfo{Name: rel.Name(), Kind: kind, Entries: n})
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list relations", err)
	}
	return s.output.Print(infos, func(w io.Writer) error {
		for _, info := range infos {
			fmt.Fprintf(w, "%-40s %-6s %d\n", info.Name, info.Kind, info.Entries)
		}
		return nil
	})
}

// DumpEntry is one entry in json dump output. Value is the decoded record
// for single relations and the referenced id for multi relations.
type DumpEntry struct {
	Relation string `json:"relation"`
	Key      string `json:"key"`
	Value    any    `json:"value,omitempty"`
	Error    string `json:"error,omitempty"`
}

func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <path>",
		Short: "Dump every relation and entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return runDump(s)
		},
	}
}

func runDump(s *session) error {
	return s.env.View(func(tx *megadex.Tx) error {
		if s.output.Format != "json" {
			_, err := io.WriteString(s.output.Writer, tx.Dump(megadex.DumpAll, s.opt.Codec))
			return err
		}
		rels, err := tx.Relations()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list relations", err)
		}
		entries := []DumpEntry{}
		for _, rel := range rels {
			for e, err := range tx.Entries(rel) {
				de := DumpEntry{Relation: rel.Name(), Key: string(e.Key)}
				switch {
				case err != nil:
					de.Error = err.Error()
				case rel.IsMulti():
					de.Value = string(e.Value)
				default:
					var v any
					if err := s.opt.Codec.Unmarshal(e.Value, &v); err != nil {
						de.Error = err.Error()
					} else {
						de.Value = v
					}
				}
				entries = append(entries, de)
			}
		}
		return s.output.Print(entries, nil)
	})
}

type storeFlags struct {
	ns      string
	keyType string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.ns, "ns", "", "store namespace")
	cmd.Flags().StringVar(&f.keyType, "key", "string", fmt.Sprintf("encoding of ids and values on the command line %v", KeyTypes))
}

func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	var flags storeFlags
	cmd := &cobra.Command{
		Use:   "get <path> <id>",
		Short: "Print a record by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return runGet(s, &flags, args[1])
		},
	}
	flags.register(cmd)
	return cmd
}

func runGet(s *session, flags *storeFlags, idArg string) error {
	id, err := parseKey(flags.keyType, idArg)
	if err != nil {
		return err
	}
	store, err := s.openStore(flags.ns)
	if err != nil {
		return err
	}
	rec, err := store.Get(id)
	if err != nil {
		return WrapExitError(ExitCommandError, "get failed", err)
	}
	if rec == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("%s not found", idArg))
	}
	return s.output.Print(*rec, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, textValue(*rec))
		return err
	})
}

func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	var flags storeFlags
	var idsOnly bool
	cmd := &cobra.Command{
		Use:   "find <path> <field> <value>",
		Short: "Print the records whose indexed field has the given value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return runFind(s, &flags, args[1], args[2], idsOnly)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "print ids only, skipping unreadable index entries")
	return cmd
}

func runFind(s *session, flags *storeFlags, field, valueArg string, idsOnly bool) error {
	value, err := parseKey(flags.keyType, valueArg)
	if err != nil {
		return err
	}
	store, err := s.openStore(flags.ns)
	if err != nil {
		return err
	}

	if idsOnly {
		raw, err := store.GetIDsByField(field, value)
		if err != nil {
			return WrapExitError(ExitCommandError, "lookup failed", err)
		}
		ids := make([]string, len(raw))
		for i, id := range raw {
			ids[i] = formatKey(flags.keyType, id)
		}
		return s.output.Print(ids, func(w io.Writer) error {
			for _, id := range ids {
				fmt.Fprintln(w, id)
			}
			return nil
		})
	}

	recs, err := store.GetByField(field, value)
	if err != nil {
		return WrapExitError(ExitCommandError, "lookup failed", err)
	}
	values := make([]any, len(recs))
	for i, rec := range recs {
		values[i] = *rec
	}
	return s.output.Print(values, func(w io.Writer) error {
		for _, v := range values {
			fmt.Fprintln(w, textValue(v))
		}
		return nil
	})
}

// CheckResult is the json output of check.
type CheckResult struct {
	Issues []string `json:"issues"`
	Pruned int      `json:"pruned"`
}

func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var ns string
	var prune bool
	cmd := &cobra.Command{
		Use:   "check <path>",
		Short: "Report index entries that are unreadable or reference missing records",
		Long: `Report index entries that are unreadable or reference missing records,
and records that cannot be decoded. With --prune, removes the bad index
entries. Exits with status 1 if inconsistencies remain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return runCheck(s, ns, prune)
		},
	}
	cmd.Flags().StringVar(&ns, "ns", "", "store namespace")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove dangling and unreadable index entries")
	return cmd
}

func runCheck(s *session, ns string, prune bool) error {
	store, err := s.openStore(ns)
	if err != nil {
		return err
	}
	var result CheckResult
	if prune {
		result.Pruned, err = store.Prune()
		if err != nil {
			return WrapExitError(ExitCommandError, "prune failed", err)
		}
	}
	err = s.env.View(func(tx *megadex.Tx) error {
		issues, err := store.Check(tx)
		if err != nil {
			return err
		}
		result.Issues = make([]string, len(issues))
		for i, inc := range issues {
			result.Issues[i] = inc.String()
		}
		return nil
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "check failed", err)
	}

	err = s.output.Print(result, func(w io.Writer) error {
		if prune {
			fmt.Fprintf(w, "pruned %d index entries\n", result.Pruned)
		}
		for _, issue := range result.Issues {
			fmt.Fprintln(w, issue)
		}
		if len(result.Issues) == 0 {
			fmt.Fprintln(w, "ok")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(result.Issues) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d inconsistencies found", len(result.Issues)))
	}
	return nil
}

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <path>",
		Short: "Print environment size and relation entry counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(rootOpts, cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			return runStats(s)
		},
	}
}

func runStats(s *session) error {
	var st megadex.EnvStats
	err := s.env.View(func(tx *megadex.Tx) error {
		var err error
		st, err = s.env.Stats(tx)
		return err
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "stats failed", err)
	}
	return s.output.Print(st, func(w io.Writer) error {
		fmt.Fprintf(w, "size: %d bytes\n", st.Size)
		names := make([]string, 0, len(st.Relations))
		for name := range st.Relations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%s: %d\n", name, st.Relations[name])
		}
		return nil
	})
}
