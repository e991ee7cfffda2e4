// Package storage defines the transactional session model shared by every
// store. Stores never own transactions: they execute against the ambient
// Session handed to them, and the UnitOfWork decides commit or rollback.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Session is the subset of database/sql that stores are allowed to touch.
// Both *sql.DB and *sql.Tx satisfy it, so the same store code runs inside a
// unit of work and in plain read paths.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	// ErrAlreadyBegun is returned when Begin is called on an active unit of
	// work. Nesting is not supported.
	ErrAlreadyBegun = errors.New("unit of work already begun")

	// ErrNotBegun is returned when Commit or Rollback is called without an
	// active transaction.
	ErrNotBegun = errors.New("unit of work not begun")
)

// UnitOfWork brackets a single database transaction. Event appends, snapshot
// upserts, and read-model updates made through the same unit of work are
// all-or-nothing: an observer outside the transaction sees either all of
// them or none.
type UnitOfWork struct {
	db *sql.DB
	tx *sql.Tx
}

// NewUnitOfWork creates an unstarted unit of work over the given pool.
func NewUnitOfWork(db *sql.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Begin opens the transaction.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return ErrAlreadyBegun
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	u.tx = tx
	return nil
}

// Session returns the transactional session while the unit of work is
// active, and the pool itself otherwise.
func (u *UnitOfWork) Session() Session {
	if u.tx != nil {
		return u.tx
	}
	return u.db
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return ErrNotBegun
	}
	err := u.tx.Commit()
	u.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit is a no-op, which
// allows the deferred-rollback idiom.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Do runs fn inside a fresh transaction scope: commit on a nil return,
// rollback on error or panic.
func (u *UnitOfWork) Do(ctx context.Context, fn func(sess Session) error) error {
	if err := u.Begin(ctx); err != nil {
		return err
	}
	defer u.Rollback()

	if err := fn(u.tx); err != nil {
		return err
	}
	return u.Commit()
}
