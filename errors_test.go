package megadex

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestError_Kinds(t *testing.T) {
	inner := errors.New("inner")
	tests := []struct {
		err  error
		kind ErrorKind
		msg  string
	}{
		{engineErrf("veg", []byte("k"), inner, "put"), EngineError, `engine error in veg/"k": put: inner`},
		{codecErrf("veg", nil, inner, "decode"), CodecError, "codec error in veg: decode: inner"},
		{lockErrf(ErrClosed, "begin"), LockError, "lock error: begin: environment closed"},
		{indexUndefinedErr("color"), IndexUndefined, "index undefined: index color is not defined"},
		{invalidTypeErr("veg", []byte{0}, "blob", "ref"), InvalidType, "invalid type in veg/00: expected type blob, found type ref"},
		{valueErrf("_main_", []byte("garlic"), "object not found for id"), ValueError, `value error in _main_/"garlic": object not found for id`},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.kind) {
			t.Errorf("errors.Is(%v, %v) = false, wanted true", tt.err, tt.kind)
		}
		if KindOf(tt.err) != tt.kind {
			t.Errorf("KindOf(%v) = %v, wanted %v", tt.err, KindOf(tt.err), tt.kind)
		}
		if got := tt.err.Error(); got != tt.msg {
			t.Errorf("Error() = %q, wanted %q", got, tt.msg)
		}
	}

	if !errors.Is(engineErrf("", nil, inner, "x"), inner) {
		t.Errorf("engine error does not unwrap to the cause")
	}
	if errors.Is(indexUndefinedErr("x"), ValueError) {
		t.Errorf("IndexUndefined matches ValueError")
	}
	if KindOf(inner) != 0 {
		t.Errorf("KindOf(plain error) = %v, wanted 0", KindOf(inner))
	}
}

func TestError_FieldAccessors(t *testing.T) {
	var e *Error
	if !errors.As(indexUndefinedErr("color"), &e) || e.Field != "color" {
		t.Fatalf("IndexUndefined field = %+v, wanted color", e)
	}
	if !errors.As(invalidTypeErr("r", nil, "blob", "ref"), &e) || e.Expected != "blob" || e.Found != "ref" {
		t.Fatalf("InvalidType = %+v, wanted blob/ref", e)
	}
}

func TestErrorKind_String(t *testing.T) {
	if s := ErrorKind(42).String(); s != "ErrorKind(42)" {
		t.Fatalf("String = %q, wanted ErrorKind(42)", s)
	}
}
