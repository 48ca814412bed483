// Package postgres runs translated query commands against PostgreSQL through
// pgx, and renders the document tables those commands expect.
package postgres

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-marten/core/linq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Executor is the linq.Executor backed by a pgx connection pool. It can operate
// in both transactional and non-transactional modes.
type Executor struct {
	pool   *pgxpool.Pool
	tx     pgx.Tx
	logger *zap.Logger
}

// Ensure Executor implements linq.Executor.
var _ linq.Executor = (*Executor)(nil)

// NewExecutor creates an executor over pool.
func NewExecutor(pool *pgxpool.Pool, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{pool: pool, logger: logger}
}

func (e *Executor) sendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if e.tx != nil {
		return e.tx.SendBatch(ctx, b)
	}
	return e.pool.SendBatch(ctx, b)
}

// Execute sends every statement of batch in one round trip and passes each
// result set to read, in statement order.
func (e *Executor) Execute(ctx context.Context, batch linq.Batch, read func(i int, rows linq.Rows) error) error {
	b := &pgx.Batch{}
	for i, sql := range batch.Statements {
		b.Queue(sql, batch.Args[i]...)
	}
	e.logger.Debug("Executing SQL batch", zap.Strings("sql", batch.Statements), zap.Any("params", batch.Args))

	results := e.sendBatch(ctx, b)
	for i, sql := range batch.Statements {
		rows, err := results.Query()
		if err != nil {
			results.Close()
			e.logger.Error("Failed to execute query", zap.Error(err), zap.String("sql", sql))
			return fmt.Errorf("failed to execute query: %w \n %s", err, sql)
		}
		err = read(i, rows)
		rows.Close()
		if err == nil {
			err = rows.Err()
		}
		if err != nil {
			results.Close()
			return fmt.Errorf("failed to read result set %d: %w", i, err)
		}
	}
	return results.Close()
}

// Exec runs a statement that returns no rows, such as the DDL from
// DocumentTableSQL.
func (e *Executor) Exec(ctx context.Context, sql string, args ...any) error {
	e.logger.Debug("Executing SQL", zap.String("sql", sql))
	var err error
	if e.tx != nil {
		_, err = e.tx.Exec(ctx, sql, args...)
	} else {
		_, err = e.pool.Exec(ctx, sql, args...)
	}
	if err != nil {
		e.logger.Error("Failed to execute statement", zap.Error(err), zap.String("sql", sql))
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// StartTransaction begins a new database transaction and returns an executor
// scoped to it.
func (e *Executor) StartTransaction(ctx context.Context) (*Executor, error) {
	if e.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional executor")
	}
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	e.logger.Debug("Transaction initiated, returning new transactional executor")
	return &Executor{pool: e.pool, tx: tx, logger: e.logger}, nil
}

// Commit commits the current transaction.
func (e *Executor) Commit(ctx context.Context) error {
	if e.tx == nil {
		return fmt.Errorf("commit not applicable: not in a transactional context")
	}
	e.logger.Debug("Committing transaction")
	return e.tx.Commit(ctx)
}

// Rollback rolls back the current transaction.
func (e *Executor) Rollback(ctx context.Context) error {
	if e.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	e.logger.Debug("Rolling back transaction")
	return e.tx.Rollback(ctx)
}
