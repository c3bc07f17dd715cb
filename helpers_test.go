package megadex

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

var allBackends = []Backend{BackendMemory, BackendBolt, BackendPebble}

// setup opens a throwaway Env: in-memory under -short, Bolt otherwise.
func setup(t testing.TB) *Env {
	t.Helper()
	if testing.Short() {
		return setupBackend(t, BackendMemory)
	}
	return setupBackend(t, BackendBolt)
}

func setupBackend(t testing.TB, backend Backend) *Env {
	t.Helper()
	dir := t.TempDir()
	t.Logf("DB: %s (%s)", dir, backend)
	env := must(Open(dir, Options{
		Backend:   backend,
		IsTesting: true,
		Verbose:   true,
	}))
	t.Cleanup(func() { env.Close() })
	return env
}

func forEachBackend(t *testing.T, f func(t *testing.T, env *Env)) {
	for _, backend := range allBackends {
		t.Run(string(backend), func(t *testing.T) {
			f(t, setupBackend(t, backend))
		})
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func isKind(t testing.TB, err error, kind ErrorKind) {
	if !errors.Is(err, kind) {
		t.Helper()
		t.Fatalf("** got error %v, wanted %v", err, kind)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}

func strs(list [][]byte) []string {
	result := make([]string, len(list))
	for i, b := range list {
		result[i] = string(b)
	}
	return result
}
