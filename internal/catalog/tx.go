package catalog

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
)

var savepointName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type hookMark struct {
	commit   int
	rollback int
}

type sqlTx struct {
	*store
	tx         *sqlx.Tx
	onCommit   []func()
	onRollback []func()
	marks      map[string]hookMark
}

// InTx runs fn in a transaction. The transaction commits when fn returns nil
// and rolls back otherwise; hooks registered on the Tx run afterwards.
func (r *SQLRepository) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	t := &sqlTx{store: &store{q: tx, categories: r.categories}, tx: tx, marks: make(map[string]hookMark)}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			t.runRollbackHooks(0)
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		_ = tx.Rollback()
		t.runRollbackHooks(0)
		return err
	}

	if err := tx.Commit(); err != nil {
		t.runRollbackHooks(0)
		return fmt.Errorf("commit transaction: %w", err)
	}

	for _, hook := range t.onCommit {
		hook()
	}
	return nil
}

func (t *sqlTx) Savepoint(ctx context.Context, name string) error {
	if !savepointName.MatchString(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	t.marks[name] = hookMark{commit: len(t.onCommit), rollback: len(t.onRollback)}
	return nil
}

func (t *sqlTx) RollbackTo(ctx context.Context, name string) error {
	mark, ok := t.marks[name]
	if !ok {
		return fmt.Errorf("unknown savepoint %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return err
	}
	t.onCommit = t.onCommit[:mark.commit]
	t.runRollbackHooks(mark.rollback)
	return nil
}

func (t *sqlTx) Release(ctx context.Context, name string) error {
	if _, ok := t.marks[name]; !ok {
		return fmt.Errorf("unknown savepoint %q", name)
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return err
	}
	delete(t.marks, name)
	return nil
}

func (t *sqlTx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

func (t *sqlTx) OnRollback(fn func()) {
	t.onRollback = append(t.onRollback, fn)
}

// runRollbackHooks runs, newest first, the rollback hooks registered at or
// after index from and forgets them.
func (t *sqlTx) runRollbackHooks(from int) {
	for i := len(t.onRollback) - 1; i >= from; i-- {
		t.onRollback[i]()
	}
	t.onRollback = t.onRollback[:from]
}
