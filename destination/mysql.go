package destination

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-sql-driver/mysql"
	"github.com/imperiopatitas/bsale_etl/models"
	"gorm.io/gorm"
)

// MySQL error numbers the engine cares about.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrParse           = 1064
	mysqlErrNotSupported    = 1235
	mysqlErrTooManyConns    = 1040
)

type MySQL struct {
	db      *gorm.DB
	dialect Dialect
}

func NewMySQL(db *gorm.DB) *MySQL {
	return &MySQL{db: db, dialect: MySQLDialect()}
}

func (m *MySQL) Name() string     { return "mysql" }
func (m *MySQL) Dialect() Dialect { return m.dialect }

// DB exposes the gorm handle for the advisory sync lock.
func (m *MySQL) DB() *gorm.DB { return m.db }

func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *MySQL) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return gormInsertRows(ctx, m.db, m.dialect, table, rows)
}

func (m *MySQL) ExecuteStatement(ctx context.Context, stmt Statement) error {
	return m.db.WithContext(ctx).Exec(stmt.SQL, stmt.Args...).Error
}

func (m *MySQL) Begin(ctx context.Context) (Tx, error) {
	tx := m.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{tx: tx, dialect: m.dialect}, nil
}

func (m *MySQL) ReadKeys(ctx context.Context, table models.Table, column string) (models.KeySet, error) {
	return sqlReadKeys(ctx, gormQueryer{db: m.db}, sq.Question, table, column)
}

// gormQueryer routes reads through gorm so the otel plugin sees them.
type gormQueryer struct {
	db *gorm.DB
}

func (g gormQueryer) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return g.db.WithContext(ctx).Raw(query, args...).Rows()
}

func (m *MySQL) EnsureTables(ctx context.Context) error {
	return models.MigrateTables(m.db.WithContext(ctx))
}

func (m *MySQL) Classify(err error) ErrorClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return Transient
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout, mysqlErrTooManyConns:
			return Transient
		case mysqlErrParse, mysqlErrNotSupported:
			return Unsupported
		}
	}
	return Permanent
}

func gormInsertRows(ctx context.Context, db *gorm.DB, dialect Dialect, table models.Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := dialect.Insert(table, rows)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(stmt.SQL, stmt.Args...).Error
}

type gormTx struct {
	tx      *gorm.DB
	dialect Dialect
}

func (t *gormTx) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return gormInsertRows(ctx, t.tx, t.dialect, table, rows)
}

func (t *gormTx) ExecuteStatement(ctx context.Context, stmt Statement) error {
	return t.tx.WithContext(ctx).Exec(stmt.SQL, stmt.Args...).Error
}

func (t *gormTx) Commit(ctx context.Context) error   { return t.tx.Commit().Error }
func (t *gormTx) Rollback(ctx context.Context) error { return t.tx.Rollback().Error }
