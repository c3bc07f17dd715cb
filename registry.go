package megadex

import (
	"fmt"
	"path/filepath"

	"github.com/puzpuzpuz/xsync/v3"
)

// Registry shares one Env per directory among everyone opening it through
// the registry. Each GetOrOpen must be paired with a Release (Env.Release);
// the Env is closed when the last reference goes away.
type Registry struct {
	opt  Options
	envs *xsync.MapOf[string, *registryEntry]
}

type registryEntry struct {
	env  *Env
	refs int
}

// NewRegistry returns a registry opening environments with opt.
func NewRegistry(opt Options) *Registry {
	return &Registry{
		opt:  opt,
		envs: xsync.NewMapOf[string, *registryEntry](),
	}
}

func registryKey(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// GetOrOpen returns the Env for dir, opening it on first use.
func (r *Registry) GetOrOpen(dir string) (*Env, error) {
	key, err := registryKey(dir)
	if err != nil {
		return nil, engineErrf("", nil, err, "resolve %s", dir)
	}
	var openErr error
	entry, ok := r.envs.Compute(key, func(old *registryEntry, loaded bool) (*registryEntry, bool) {
		if loaded && !old.env.IsClosed() {
			return &registryEntry{env: old.env, refs: old.refs + 1}, false
		}
		env, err := Open(key, r.opt)
		if err != nil {
			openErr = err
			return nil, true
		}
		env.registry = r
		return &registryEntry{env: env, refs: 1}, false
	})
	if openErr != nil {
		return nil, openErr
	}
	if !ok {
		return nil, engineErrf("", nil, nil, "open %s", key)
	}
	return entry.env, nil
}

// OpenTemp opens a new temporary environment tracked by the registry.
func (r *Registry) OpenTemp() (*Env, error) {
	env, err := OpenTemp(r.opt)
	if err != nil {
		return nil, err
	}
	env.registry = r
	key, err := registryKey(env.path)
	if err != nil {
		env.Close()
		return nil, engineErrf("", nil, err, "resolve %s", env.path)
	}
	r.envs.Store(key, &registryEntry{env: env, refs: 1})
	return env, nil
}

// Release drops a reference to env, closing it when it was the last one.
func (r *Registry) Release(env *Env) error {
	key, err := registryKey(env.path)
	if err != nil {
		return engineErrf("", nil, err, "resolve %s", env.path)
	}
	var closeErr error
	var found bool
	r.envs.Compute(key, func(old *registryEntry, loaded bool) (*registryEntry, bool) {
		if !loaded || old.env != env {
			return old, !loaded
		}
		found = true
		if old.refs > 1 {
			return &registryEntry{env: env, refs: old.refs - 1}, false
		}
		closeErr = env.Close()
		return nil, true
	})
	if !found {
		return fmt.Errorf("megadex: %s is not open in this registry", key)
	}
	return closeErr
}

// RefCount returns the number of references to the Env open at dir.
func (r *Registry) RefCount(dir string) int {
	key, err := registryKey(dir)
	if err != nil {
		return 0
	}
	entry, ok := r.envs.Load(key)
	if !ok {
		return 0
	}
	return entry.refs
}

// Len returns the number of open environments.
func (r *Registry) Len() int {
	return r.envs.Size()
}

// Close closes every environment regardless of outstanding references.
func (r *Registry) Close() error {
	var firstErr error
	r.envs.Range(func(key string, entry *registryEntry) bool {
		r.envs.Delete(key)
		if err := entry.env.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}
