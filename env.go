package megadex

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	trackTxns = true

	boltFileName  = "megadex.db"
	pebbleDirName = "pebble"
)

// Env is one opened engine bound to a directory. Any number of stores can
// share an Env. Close waits for every open transaction to finish, and
// transactions begun after Close fail with LockError.
type Env struct {
	path     string
	temp     bool
	engine   Engine
	opt      Options
	logger   *slog.Logger
	verbose  bool
	registry *Registry

	lock   sync.RWMutex
	closed bool
	open   sync.WaitGroup // transactions in flight

	lastSize           atomic.Int64
	ReaderCount        atomic.Int64
	WriterCount        atomic.Int64
	PendingWriterCount atomic.Int64
	ReadCount          atomic.Uint64
	WriteCount         atomic.Uint64
	CommitCount        atomic.Uint64
	AbortCount         atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

// Open opens the environment stored in dir, creating it if needed.
func Open(dir string, opt Options) (*Env, error) {
	opt.setDefaults()

	var engine Engine
	var err error
	switch opt.Backend {
	case BackendBolt:
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, engineErrf("", nil, err, "create %s", dir)
		}
		engine, err = OpenBolt(filepath.Join(dir, boltFileName), opt)
	case BackendPebble:
		engine, err = OpenPebble(filepath.Join(dir, pebbleDirName), opt)
	case BackendMemory:
		engine = NewMemory()
	default:
		return nil, engineErrf("", nil, nil, "unknown backend %q", opt.Backend)
	}
	if err != nil {
		return nil, err
	}
	return newEnv(dir, engine, opt)
}

// Exists reports whether dir holds an environment stored with backend.
func Exists(dir string, backend Backend) bool {
	var path string
	switch backend {
	case BackendBolt, "":
		path = filepath.Join(dir, boltFileName)
	case BackendPebble:
		path = filepath.Join(dir, pebbleDirName)
	default:
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// OpenTemp opens an environment in a new temporary directory that is
// removed on Close.
func OpenTemp(opt Options) (*Env, error) {
	dir, err := os.MkdirTemp("", "megadex")
	if err != nil {
		return nil, engineErrf("", nil, err, "create temp dir")
	}
	env, err := Open(dir, opt)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	env.temp = true
	return env, nil
}

// OpenEngine wraps an already opened engine into an Env. Closing the Env
// closes the engine.
func OpenEngine(engine Engine, opt Options) (*Env, error) {
	opt.setDefaults()
	return newEnv("", engine, opt)
}

func newEnv(path string, engine Engine, opt Options) (*Env, error) {
	env := &Env{
		path:    path,
		engine:  engine,
		opt:     opt,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	err := env.Update(func(tx *Tx) error {
		_, err := tx.etx.CreateBucket(metaBucket)
		if err != nil {
			return engineErrf(metaBucket, nil, err, "create")
		}
		return nil
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	env.logger.Debug("megadex: opened", "path", path, "backend", opt.Backend)
	return env, nil
}

func (env *Env) Path() string {
	return env.path
}

func (env *Env) Options() Options {
	return env.opt
}

// Engine returns the underlying engine. Using it directly bypasses the Env's
// locking and bookkeeping.
func (env *Env) Engine() Engine {
	return env.engine
}

// Size returns the engine size as of the last commit.
func (env *Env) Size() int64 {
	return env.lastSize.Load()
}

// Close closes the engine after all open transactions finish. Closing
// a closed Env is a no-op.
func (env *Env) Close() error {
	env.lock.Lock()
	if env.closed {
		env.lock.Unlock()
		return nil
	}
	env.closed = true
	env.lock.Unlock()

	env.open.Wait()
	err := env.engine.Close()
	if env.temp {
		os.RemoveAll(env.path)
	}
	env.logger.Debug("megadex: closed", "path", env.path)
	if err != nil {
		return engineErrf("", nil, err, "closing %s", env.path)
	}
	return nil
}

// Release gives up a reference obtained from a Registry, closing the Env
// when it was the last one. An Env opened directly is simply closed.
func (env *Env) Release() error {
	if env.registry != nil {
		return env.registry.Release(env)
	}
	return env.Close()
}

func (env *Env) IsClosed() bool {
	env.lock.RLock()
	defer env.lock.RUnlock()
	return env.closed
}

func (env *Env) logDebug(msg string, args ...any) {
	if env.verbose {
		env.logger.Debug(msg, args...)
	}
}

func (env *Env) addTx(tx *Tx) {
	env.txnsLock.Lock()
	defer env.txnsLock.Unlock()
	env.txns = append(env.txns, tx)
}

func (env *Env) removeTx(tx *Tx) {
	env.txnsLock.Lock()
	defer env.txnsLock.Unlock()

	found := slices.Index(env.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(env.txns)
	env.txns[found] = env.txns[n-1]
	env.txns[n-1] = nil // ensure it gets collected
	env.txns = env.txns[:n-1]
}

// OpenTxnCount returns the number of transactions currently open.
func (env *Env) OpenTxnCount() int {
	env.txnsLock.Lock()
	defer env.txnsLock.Unlock()
	return len(env.txns)
}

// DescribeOpenTxns lists open transactions, oldest first, with the stack
// that began each one open for 100 ms or longer.
func (env *Env) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	env.txnsLock.Lock()
	txns := slices.Clone(env.txns)
	env.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		mode := "read"
		if tx.writable {
			mode = "write"
		}
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms\n", mode, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s, open for %d ms:\n%s", mode, ms, tx.stack)
		}
	}

	return buf.String()
}
