package destination

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/imperiopatitas/bsale_etl/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is a local file destination, used for development and tests.
type SQLite struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db, dialect: SQLiteDialect()}
}

func (s *SQLite) Name() string     { return "sqlite" }
func (s *SQLite) Dialect() Dialect { return s.dialect }
func (s *SQLite) Close() error     { return s.db.Close() }

func (s *SQLite) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return sqlInsertRows(ctx, s.db, s.dialect, table, rows)
}

func (s *SQLite) ExecuteStatement(ctx context.Context, stmt Statement) error {
	_, err := s.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	return err
}

func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, dialect: s.dialect}, nil
}

func (s *SQLite) ReadKeys(ctx context.Context, table models.Table, column string) (models.KeySet, error) {
	return sqlReadKeys(ctx, s.db, sq.Question, table, column)
}

func (s *SQLite) EnsureTables(ctx context.Context) error {
	for _, t := range models.AllTables() {
		if _, err := s.db.ExecContext(ctx, CreateTableSQL("sqlite", t)); err != nil {
			return fmt.Errorf("create %s: %w", t.Name, err)
		}
	}
	return nil
}

func (s *SQLite) Classify(err error) ErrorClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return Transient
		case sqlite3.SQLITE_ERROR:
			if strings.Contains(serr.Error(), "syntax error") {
				return Unsupported
			}
		}
	}
	return Permanent
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqlInsertRows(ctx context.Context, db sqlExecer, dialect Dialect, table models.Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := dialect.Insert(table, rows)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	return err
}

func sqlReadKeys(ctx context.Context, db sqlQueryer, ph sq.PlaceholderFormat, table models.Table, column string) (models.KeySet, error) {
	if !table.HasColumn(column) {
		return nil, fmt.Errorf("destination: %s has no column %q", table.Name, column)
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(ph).
		Select("DISTINCT " + column).
		From(table.Name).
		Where(sq.NotEq{column: nil}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := models.NewKeySet()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys.Add(id)
	}
	return keys, rows.Err()
}

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqlTx) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return sqlInsertRows(ctx, t.tx, t.dialect, table, rows)
}

func (t *sqlTx) ExecuteStatement(ctx context.Context, stmt Statement) error {
	_, err := t.tx.ExecContext(ctx, stmt.SQL, stmt.Args...)
	return err
}

func (t *sqlTx) Commit(ctx context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }
