package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool adapts *pgxpool.Pool to Database.
type pgxPool struct {
	pool *pgxpool.Pool
}

// NewPgxPool opens a pgxpool-backed Database for dsn and verifies
// connectivity before returning.
func NewPgxPool(ctx context.Context, dsn string) (Database, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db: dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: create pgx pool: %w", err)
	}
	d := &pgxPool{pool: pool}
	if err := d.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// WrapPgxPool adapts an already-constructed *pgxpool.Pool. Use this when
// the caller owns pool lifecycle/policy (connection pooling is
// explicitly a caller concern, not this module's).
func WrapPgxPool(pool *pgxpool.Pool) Database {
	return &pgxPool{pool: pool}
}

func (d *pgxPool) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := d.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag}, nil
}

func (d *pgxPool) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return d.pool.QueryRow(ctx, sql, args...)
}

func (d *pgxPool) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows}, nil
}

func (d *pgxPool) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx}, nil
}

func (d *pgxPool) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *pgxPool) Close() {
	d.pool.Close()
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...any) (Result, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxResult{tag}, nil
}

func (t *pgxTx) QueryRow(ctx context.Context, sql string, args ...any) Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows}, nil
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == pgx.ErrTxClosed {
		return nil
	}
	return err
}

type pgxRows struct {
	rows pgx.Rows
}

func (r pgxRows) Next() bool          { return r.rows.Next() }
func (r pgxRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r pgxRows) Err() error           { return r.rows.Err() }
func (r pgxRows) Close()               { r.rows.Close() }

type pgxResult struct {
	tag interface{ RowsAffected() int64 }
}

func (r pgxResult) RowsAffected() int64 { return r.tag.RowsAffected() }

// IsNoRows reports whether err is pgx's "no rows" sentinel, letting
// sqlqueue stay driver-agnostic at the call site while still special-
// casing the one error every backend needs to recognize.
func IsNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
