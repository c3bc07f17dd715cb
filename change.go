package megadex

import "fmt"

type Op int

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// Change describes one store write, delivered to the handler installed by
// Tx.OnChange as the write happens, before the transaction commits.
type Change struct {
	store string
	op    Op
	id    []byte
	index []IndexValue
}

// Store returns the namespace of the store that made the change.
func (chg *Change) Store() string {
	return chg.store
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) ID() []byte {
	return chg.id
}

// Index returns the index entries written or removed along with the record.
func (chg *Change) Index() []IndexValue {
	return chg.index
}

func (chg *Change) String() string {
	return fmt.Sprintf("%s %s/%s", chg.op, chg.store, printableKey(chg.id))
}
