package megadex

import (
	"encoding/hex"
	"log/slog"
	"strconv"
	"unicode"
	"unicode/utf8"
)

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := cloneBytes(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}

// keyAttr logs a binary key the way printableKey renders it.
func keyAttr(name string, b []byte) slog.Attr {
	return slog.String(name, printableKey(b))
}

// printableKey quotes keys that are readable text and hex-encodes the rest.
func printableKey(b []byte) string {
	if len(b) > 0 && utf8.Valid(b) {
		for _, r := range string(b) {
			if !unicode.IsPrint(r) {
				return hexstr(b)
			}
		}
		return strconv.Quote(string(b))
	}
	return hexstr(b)
}
