package sqlqueue

import (
	"context"
	"fmt"

	"github.com/oriys/squeal/internal/db"
)

// call records one Exec/Query/QueryRow invocation, for assertions on the
// SQL text and parameter ordering a Backend method builds.
type call struct {
	sql  string
	args []any
}

// fakeRow is a canned single-row db.Row.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.vals)
}

// fakeRows is a canned multi-row db.Rows.
type fakeRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(dest, r.data[r.idx-1])
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     {}

func scanInto(dest []any, src []any) error {
	if len(dest) != len(src) {
		return fmt.Errorf("fakedb: scan arity mismatch: dest=%d src=%d", len(dest), len(src))
	}
	for i, d := range dest {
		switch d := d.(type) {
		case *uint64:
			*d = src[i].(uint64)
		case *int64:
			*d = src[i].(int64)
		case *[]byte:
			*d = src[i].([]byte)
		default:
			return fmt.Errorf("fakedb: unsupported scan dest %T", d)
		}
	}
	return nil
}

type fakeResult struct{ rows int64 }

func (r fakeResult) RowsAffected() int64 { return r.rows }

// fakeExecutor is a scriptable stand-in for db.Executor: each test sets
// the canned response(s) it wants and reads back the calls that were
// actually made, to assert on the SQL text and argument order a Backend
// method constructs without needing a live PostgreSQL connection.
type fakeExecutor struct {
	execs   []call
	queries []call
	rows    []call

	execResult db.Result
	execErr    error
	queryRows  db.Rows
	queryErr   error
	row        db.Row
}

func (f *fakeExecutor) Exec(ctx context.Context, sql string, args ...any) (db.Result, error) {
	f.execs = append(f.execs, call{sql: sql, args: args})
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execResult != nil {
		return f.execResult, nil
	}
	return fakeResult{}, nil
}

func (f *fakeExecutor) QueryRow(ctx context.Context, sql string, args ...any) db.Row {
	f.rows = append(f.rows, call{sql: sql, args: args})
	return f.row
}

func (f *fakeExecutor) Query(ctx context.Context, sql string, args ...any) (db.Rows, error) {
	f.queries = append(f.queries, call{sql: sql, args: args})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryRows, nil
}

// fakeDatabase adds BeginTx/Ping/Close atop fakeExecutor to satisfy
// db.Database; BeginTx returns a fakeTx embedding its own fakeExecutor so
// transactional and non-transactional calls can be asserted separately.
type fakeDatabase struct {
	fakeExecutor
	tx        *fakeTx
	beginTxErr error
}

func (f *fakeDatabase) BeginTx(ctx context.Context) (db.Tx, error) {
	if f.beginTxErr != nil {
		return nil, f.beginTxErr
	}
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return f.tx, nil
}

func (f *fakeDatabase) Ping(ctx context.Context) error { return nil }
func (f *fakeDatabase) Close()                         {}

type fakeTx struct {
	fakeExecutor
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rolledBack = true
	return nil
}

var _ db.Database = (*fakeDatabase)(nil)
var _ db.Tx = (*fakeTx)(nil)
