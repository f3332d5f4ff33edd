// internal/store/store.go
// Package store holds the tenant-scoped Postgres repositories.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Store is the single entry point to the relational data.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Page bounds list queries.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page into the allowed range.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// WithTx runs fn inside one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseConnectionFailedError(err)
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewQueryExecutionFailedError("commit", err)
	}
	return nil
}

// Tx exposes the writes that must be grouped atomically.
type Tx struct {
	tx *sqlx.Tx
}

// mapError converts driver errors into the shared taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stdErr *apperrors.StandardError
	if errors.As(err, &stdErr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return apperrors.NewConflictError(fmt.Sprintf("%s: duplicate %s", op, pqErr.Constraint))
		case "23503":
			return apperrors.NewConflictError(fmt.Sprintf("%s: referenced row violates %s", op, pqErr.Constraint))
		case "23514", "22P02":
			return apperrors.NewBadRequestError(fmt.Sprintf("%s: %s", op, pqErr.Message))
		}
	}
	return apperrors.NewQueryExecutionFailedError(op, err)
}

// getOne maps sql.ErrNoRows to NOT_FOUND.
func getOne(err error, op, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError(entity, id)
	}
	return mapError(op, err)
}

// expectAffected maps a zero-row write to NOT_FOUND.
func expectAffected(res sql.Result, err error, op, entity, id string) error {
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(entity, id)
	}
	return nil
}
