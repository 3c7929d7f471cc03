// Package db defines a driver-agnostic SQL executor and transaction
// interface, matching the "connection that supports begin/commit/
// rollback and cursor-style parameterized execution" this broker is
// built against. internal/sqlqueue is written entirely against this
// interface rather than against a specific driver, so a Postgres
// deployment (the only adapter provided here, in pgx.go) is a detail the
// broker logic never has to know about.
package db

import "context"

// Row represents a single row returned by a query.
type Row interface {
	Scan(dest ...any) error
}

// Rows represents a set of rows returned by a query.
type Rows interface {
	// Next advances to the next row, returning false when exhausted.
	Next() bool
	// Scan reads column values from the current row.
	Scan(dest ...any) error
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases the rows.
	Close()
}

// Result describes the outcome of an executed statement.
type Result interface {
	// RowsAffected returns the number of rows affected by the statement.
	RowsAffected() int64
}

// Executor can run queries and statements. Both Database and Tx satisfy
// it, so query-building code can be shared between transactional and
// non-transactional callers.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (Result, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

// Tx represents an in-flight transaction. The broker defers Rollback and
// calls Commit explicitly at the end of the transaction, so a committed
// transaction also sees the deferred Rollback; the pgx adapter turns
// that rollback of an already-closed transaction into a no-op.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Database abstracts a SQL-compatible connection pool.
type Database interface {
	Executor

	// BeginTx starts a new transaction. The broker uses it where one
	// Backend method call needs several statements in one transaction
	// (AcquireTopic); single-statement methods run directly on the
	// Database instead.
	BeginTx(ctx context.Context) (Tx, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases all pooled connections.
	Close()
}
