package destination

import (
	"context"
	"errors"
	"fmt"

	"github.com/imperiopatitas/bsale_etl/models"
)

type Row = models.Row

// ErrMergeUnsupported is returned by dialects that cannot express an upsert.
// The engine switches to delete+insert for the rest of the call.
var ErrMergeUnsupported = errors.New("destination: merge not supported by dialect")

var ErrEmptyBatch = errors.New("destination: empty batch")

// ErrorClass drives the engine's retry decision after a failed merge.
type ErrorClass int

const (
	// Permanent errors go straight to the fallback path.
	Permanent ErrorClass = iota
	// Transient errors (deadlocks, rate limits, 5xx) are retried as merges.
	Transient
	// Unsupported means the engine rejected the statement shape itself.
	Unsupported
)

func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case Unsupported:
		return "unsupported"
	default:
		return "permanent"
	}
}

type StatementKind int

const (
	StatementMerge StatementKind = iota + 1
	StatementInsert
	StatementDelete
	StatementDeleteAll
)

func (k StatementKind) String() string {
	switch k {
	case StatementMerge:
		return "merge"
	case StatementInsert:
		return "insert"
	case StatementDelete:
		return "delete"
	case StatementDeleteAll:
		return "delete_all"
	default:
		return fmt.Sprintf("statement(%d)", int(k))
	}
}

// Statement carries both the rendered SQL and the intent it encodes, so
// non-SQL destinations can execute it structurally.
type Statement struct {
	Kind  StatementKind
	SQL   string
	Args  []any
	Table models.Table
	Key   string
	Rows  []Row
	Keys  []any
}

type Executor interface {
	InsertRows(ctx context.Context, table models.Table, rows []Row) error
	ExecuteStatement(ctx context.Context, stmt Statement) error
}

type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Dialect renders statements for one storage engine.
type Dialect interface {
	Name() string
	Merge(table models.Table, key string, rows []Row) (Statement, error)
	Insert(table models.Table, rows []Row) (Statement, error)
	Delete(table models.Table, key string, keys []any) (Statement, error)
	DeleteAll(table models.Table) (Statement, error)
}

type Destination interface {
	Executor
	Name() string
	Dialect() Dialect
	// Begin opens a transaction. Engines without multi-statement
	// transactions return a pass-through Tx.
	Begin(ctx context.Context) (Tx, error)
	// ReadKeys returns the non-null integer values of column.
	ReadKeys(ctx context.Context, table models.Table, column string) (models.KeySet, error)
	Classify(err error) ErrorClass
	Close() error
}

// Bootstrapper is implemented by destinations that can create the synced
// tables when they are missing.
type Bootstrapper interface {
	EnsureTables(ctx context.Context) error
}

// ClassifiedError pins a class on an error regardless of destination.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }
func (e *ClassifiedError) Unwrap() error { return e.Err }

func WithClass(class ErrorClass, err error) error {
	return &ClassifiedError{Class: class, Err: err}
}

// classifyCommon handles the cases every destination shares. ok is false
// when the caller must inspect driver-specific errors.
func classifyCommon(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	switch {
	case errors.As(err, &ce):
		return ce.Class, true
	case errors.Is(err, ErrMergeUnsupported):
		return Unsupported, true
	case errors.Is(err, context.DeadlineExceeded):
		return Transient, true
	case errors.Is(err, context.Canceled):
		return Permanent, true
	}
	return Permanent, false
}

// KeysOf extracts key values from rows in order.
func KeysOf(rows []Row, key string) []any {
	keys := make([]any, len(rows))
	for i, r := range rows {
		keys[i] = r[key]
	}
	return keys
}

func checkBatch(table models.Table, key string, rows []Row) error {
	if len(rows) == 0 {
		return ErrEmptyBatch
	}
	if key != "" && !table.HasColumn(key) {
		return fmt.Errorf("destination: %s has no column %q", table.Name, key)
	}
	return nil
}

// toInt64 accepts the integer representations drivers hand back.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		var out int64
		_, err := fmt.Sscan(string(n), &out)
		return out, err == nil
	case string:
		var out int64
		_, err := fmt.Sscan(n, &out)
		return out, err == nil
	}
	return 0, false
}
