package megadex

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every error returned by megadex. Kinds are errors
// themselves, so errors.Is(err, megadex.IndexUndefined) matches any *Error
// of that kind.
type ErrorKind int

const (
	// EngineError is a relation or transaction failure of the underlying store.
	EngineError ErrorKind = iota + 1
	// CodecError is a failure to encode or decode a record, key or value envelope.
	CodecError
	// LockError means the environment handle could not be acquired.
	LockError
	// IndexUndefined is a query or write against a field that was not
	// registered when the store was opened.
	IndexUndefined
	// InvalidType means a relation returned a value of unexpected shape.
	InvalidType
	// ValueError is a referential inconsistency, like an index entry pointing
	// at a missing record.
	ValueError
)

var kindNames = [...]string{
	EngineError:    "engine error",
	CodecError:     "codec error",
	LockError:      "lock error",
	IndexUndefined: "index undefined",
	InvalidType:    "invalid type",
	ValueError:     "value error",
}

func (k ErrorKind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) Error() string {
	return k.String()
}

// ErrClosed is wrapped into a LockError when a transaction is started on a
// closed environment.
var ErrClosed = errors.New("environment closed")

type Error struct {
	Kind     ErrorKind
	Relation string
	Key      []byte
	Msg      string
	Err      error

	// Field is the unregistered field name of an IndexUndefined error.
	Field string

	// Expected and Found describe an InvalidType error.
	Expected string
	Found    string
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

func (e *Error) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Kind.String())
	if e.Relation != "" {
		buf.WriteString(" in ")
		buf.WriteString(e.Relation)
	}
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(printableKey(e.Key))
	}
	switch e.Kind {
	case IndexUndefined:
		fmt.Fprintf(&buf, ": index %s is not defined", e.Field)
	case InvalidType:
		fmt.Fprintf(&buf, ": expected type %s, found type %s", e.Expected, e.Found)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// KindOf returns the kind of a megadex error, or 0 if err is not one.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func engineErrf(rel string, key []byte, err error, format string, args ...any) error {
	return &Error{Kind: EngineError, Relation: rel, Key: key, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func codecErrf(rel string, key []byte, err error, format string, args ...any) error {
	return &Error{Kind: CodecError, Relation: rel, Key: key, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func lockErrf(err error, format string, args ...any) error {
	return &Error{Kind: LockError, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func indexUndefinedErr(field string) error {
	return &Error{Kind: IndexUndefined, Field: field}
}

func invalidTypeErr(rel string, key []byte, expected, found string) error {
	return &Error{Kind: InvalidType, Relation: rel, Key: key, Expected: expected, Found: found}
}

func valueErrf(rel string, key []byte, format string, args ...any) error {
	return &Error{Kind: ValueError, Relation: rel, Key: key, Msg: fmt.Sprintf(format, args...)}
}

// DataError describes malformed bytes found in the store.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
