package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool  Pool
	users UserRepository
	audit AuditRepository
}

// NewPostgresStore builds a store on top of a connection pool.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{
		pool:  pool,
		users: NewUserRepository(pool),
		audit: NewAuditRepository(pool),
	}
}

func (s *PostgresStore) Users() UserRepository  { return s.users }
func (s *PostgresStore) Audit() AuditRepository { return s.audit }

// WithinTx implements Store. Nested calls reuse the outer transaction. A panic
// in fn rolls back before it propagates.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	txStore := &PostgresStore{
		users: NewUserRepository(tx),
		audit: NewAuditRepository(tx),
	}
	if err = fn(txStore); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
