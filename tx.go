package megadex

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Tx is a read or write transaction on an Env. A Tx must be used by one
// goroutine at a time and must be closed; Close after Commit is a no-op.
//
// Do not begin a write transaction while holding a read transaction on the
// same goroutine: engines may block the writer until the reader finishes.
// Likewise, do not close the Env from a goroutine that holds an open Tx.
type Tx struct {
	env       *Env
	etx       EngineTx
	writable  bool
	closed    bool
	committed bool

	startTime time.Time
	stack     []byte

	changeHandler func(chg *Change)
}

// BeginRead starts a read transaction seeing a snapshot of the committed state.
func (env *Env) BeginRead() (*Tx, error) {
	return env.begin(false)
}

// BeginWrite starts a write transaction, blocking while another one is open.
func (env *Env) BeginWrite() (*Tx, error) {
	return env.begin(true)
}

func (env *Env) begin(writable bool) (*Tx, error) {
	env.lock.RLock()
	if env.closed {
		env.lock.RUnlock()
		return nil, lockErrf(ErrClosed, "begin on %s", env.path)
	}
	env.open.Add(1)
	env.lock.RUnlock()

	if writable {
		env.PendingWriterCount.Add(1)
	}
	etx, err := env.engine.Begin(writable)
	if writable {
		env.PendingWriterCount.Add(-1)
	}
	if err != nil {
		env.open.Done()
		if KindOf(err) != 0 {
			return nil, err
		}
		return nil, engineErrf("", nil, err, "begin")
	}

	if writable {
		env.WriterCount.Add(1)
		env.WriteCount.Add(1)
	} else {
		env.ReaderCount.Add(1)
		env.ReadCount.Add(1)
	}

	tx := &Tx{
		env:       env,
		etx:       etx,
		writable:  writable,
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
		env.addTx(tx)
	}
	return tx, nil
}

// View runs f in a read transaction.
func (env *Env) View(f func(tx *Tx) error) error {
	tx, err := env.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	return f(tx)
}

// Update runs f in a write transaction, committing if f returns nil and
// rolling back otherwise. A panic inside f rolls back and is returned as an
// error.
func (env *Env) Update(f func(tx *Tx) error) error {
	tx, err := env.BeginWrite()
	if err != nil {
		return err
	}
	defer tx.Close()
	err = safelyCall(f, tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) Env() *Env {
	return tx.env
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

// OnChange installs a handler called for every store write made through tx.
// The handler runs during the transaction, before commit, so it also sees
// writes that are later rolled back.
func (tx *Tx) OnChange(f func(chg *Change)) {
	tx.changeHandler = f
}

func (tx *Tx) notify(chg *Change) {
	if tx.changeHandler != nil {
		tx.changeHandler(chg)
	}
}

func (tx *Tx) checkWritable(rel string) error {
	if tx.closed {
		return engineErrf(rel, nil, nil, "tx is closed")
	}
	if !tx.writable {
		return engineErrf(rel, nil, ErrTxNotWritable, "write")
	}
	return nil
}

// Commit makes the transaction's writes durable and visible to new readers.
func (tx *Tx) Commit() error {
	if tx.closed {
		return engineErrf("", nil, nil, "commit: tx is closed")
	}
	if !tx.writable {
		return engineErrf("", nil, ErrTxNotWritable, "commit")
	}
	tx.env.lastSize.Store(tx.etx.Size())
	err := tx.etx.Commit()
	if err != nil {
		tx.Close()
		return engineErrf("", nil, err, "commit")
	}
	tx.committed = true
	tx.env.CommitCount.Add(1)
	tx.release()
	return nil
}

// Rollback discards the transaction's writes. Same as Close.
func (tx *Tx) Rollback() {
	tx.Close()
}

func (tx *Tx) Close() {
	if tx.closed {
		return
	}
	err := tx.etx.Rollback()
	if err != nil {
		tx.env.logger.Error("megadex: rollback failed", "err", err)
	}
	if tx.writable {
		tx.env.AbortCount.Add(1)
	}
	tx.release()
}

func (tx *Tx) release() {
	tx.closed = true
	if tx.writable {
		tx.env.WriterCount.Add(-1)
	} else {
		tx.env.ReaderCount.Add(-1)
	}
	if trackTxns {
		tx.env.removeTx(tx)
	}
	tx.env.open.Done()
}
