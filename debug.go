package megadex

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

type DumpFlags uint64

const (
	DumpRelationHeaders = DumpFlags(1 << iota)
	DumpEntries
	DumpStats
	DumpDecode

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump describes every relation of the Env in a human-readable form. With
// DumpDecode, single relation values are shown decoded with codec.
func (tx *Tx) Dump(f DumpFlags, codec Codec) string {
	var buf strings.Builder
	rels, err := tx.Relations()
	if err != nil {
		fmt.Fprintf(&buf, "** ERROR: %v\n", err)
		return buf.String()
	}
	for _, rel := range rels {
		tx.dumpRelation(&buf, f, rel, codec)
	}
	return buf.String()
}

func (tx *Tx) dumpRelation(w *strings.Builder, f DumpFlags, rel *Relation, codec Codec) {
	n, err := tx.Count(rel)
	if f.Contains(DumpRelationHeaders) {
		fmt.Fprintln(w, dumpSep1)
		if err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", rel, err)
			return
		}
		fmt.Fprintf(w, "%s (%d entries)\n", rel, n)
	}
	if !f.Contains(DumpEntries) {
		return
	}
	if f.Contains(DumpRelationHeaders) {
		fmt.Fprintln(w, dumpSep2)
	}
	var pos int
	for e, err := range tx.Entries(rel) {
		pos++
		if err != nil {
			fmt.Fprintf(w, "%s.%d: %s ** ERROR: %v\n", rel.name, pos, printableKey(e.Key), err)
			continue
		}
		if rel.multi {
			fmt.Fprintf(w, "%s.%d: %s => %s\n", rel.name, pos, printableKey(e.Key), printableKey(e.Value))
		} else {
			fmt.Fprintf(w, "%s.%d: %s = %s\n", rel.name, pos, printableKey(e.Key), loggableValue(e.Value, f.Contains(DumpDecode), codec))
		}
	}
}

// loggableValue renders a record payload as JSON when it decodes, or as bytes.
func loggableValue(data []byte, decode bool, codec Codec) string {
	if decode && codec != nil {
		var v any
		if err := codec.Unmarshal(data, &v); err == nil {
			if raw, err := json.Marshal(v); err == nil {
				return string(raw)
			}
		}
	}
	return fmt.Sprintf("(%d bytes) %s", len(data), hexstr(data))
}

// EnvStats is a snapshot of an Env's counters.
type EnvStats struct {
	Size               int64
	ReaderCount        int64
	WriterCount        int64
	PendingWriterCount int64
	ReadCount          uint64
	WriteCount         uint64
	CommitCount        uint64
	AbortCount         uint64
	Relations          map[string]int
}

// Stats returns the Env's counters. With tx, entry counts of every relation
// are included.
func (env *Env) Stats(tx *Tx) (EnvStats, error) {
	st := EnvStats{
		Size:               env.Size(),
		ReaderCount:        env.ReaderCount.Load(),
		WriterCount:        env.WriterCount.Load(),
		PendingWriterCount: env.PendingWriterCount.Load(),
		ReadCount:          env.ReadCount.Load(),
		WriteCount:         env.WriteCount.Load(),
		CommitCount:        env.CommitCount.Load(),
		AbortCount:         env.AbortCount.Load(),
	}
	if tx == nil {
		return st, nil
	}
	st.Size = tx.etx.Size()
	rels, err := tx.Relations()
	if err != nil {
		return st, err
	}
	st.Relations = make(map[string]int, len(rels))
	for _, rel := range rels {
		st.Relations[rel.name], err = tx.Count(rel)
		if err != nil {
			return st, err
		}
	}
	return st, nil
}
