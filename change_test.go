package megadex

import "testing"

func TestOp_String(t *testing.T) {
	deepEqual(t, OpNone.String(), "none")
	deepEqual(t, OpPut.String(), "put")
	deepEqual(t, OpDelete.String(), "delete")
	deepEqual(t, Op(9).String(), "invalid op 9")
}

func TestChange_String(t *testing.T) {
	chg := &Change{store: "veg", op: OpPut, id: []byte{0x00, 0x2a}, index: []IndexValue{Index("flavor", "bold")}}
	deepEqual(t, chg.String(), "put veg/002a")
	deepEqual(t, chg.Index()[0].String(), `flavor="bold"`)
	deepEqual(t, chg.Op(), OpPut)
	deepEqual(t, chg.ID(), []byte{0x00, 0x2a})
}
