package destination

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// PgxPool is the subset of *pgxpool.Pool used here; pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Close()
}

type Postgres struct {
	pool    PgxPool
	dialect Dialect
}

func NewPostgres(pool PgxPool) *Postgres {
	return &Postgres{pool: pool, dialect: PostgresDialect()}
}

func (p *Postgres) Name() string     { return "postgres" }
func (p *Postgres) Dialect() Dialect { return p.dialect }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// InsertRows bulk loads with the COPY protocol.
func (p *Postgres) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return copyRows(ctx, p.pool, table, rows)
}

func (p *Postgres) ExecuteStatement(ctx context.Context, stmt Statement) error {
	_, err := p.pool.Exec(ctx, stmt.SQL, pgArgs(stmt.Args)...)
	return err
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (p *Postgres) ReadKeys(ctx context.Context, table models.Table, column string) (models.KeySet, error) {
	if !table.HasColumn(column) {
		return nil, fmt.Errorf("destination: %s has no column %q", table.Name, column)
	}
	query, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("DISTINCT " + column).
		From(table.Name).
		Where(sq.NotEq{column: nil}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	return models.NewKeySet(ids...), nil
}

func (p *Postgres) EnsureTables(ctx context.Context) error {
	for _, t := range models.AllTables() {
		if _, err := p.pool.Exec(ctx, CreateTableSQL("postgres", t)); err != nil {
			return fmt.Errorf("create %s: %w", t.Name, err)
		}
	}
	return nil
}

// SQLSTATE codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgTooManyConnections   = "53300"
	pgSyntaxError          = "42601"
	pgFeatureNotSupported  = "0A000"
)

func (p *Postgres) Classify(err error) ErrorClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgTooManyConnections:
			return Transient
		case pgSyntaxError, pgFeatureNotSupported:
			return Unsupported
		}
		return Permanent
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return Transient
	}
	return Permanent
}

type pgExecer interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

func copyRows(ctx context.Context, db pgExecer, table models.Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = pgArgs(table.Values(r))
	}
	n, err := db.CopyFrom(ctx, pgx.Identifier{table.Name}, table.ColumnNames(), pgx.CopyFromRows(values))
	if err != nil {
		return err
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", table.Name, n, len(rows))
	}
	return nil
}

// pgArgs converts decimals to pgtype.Numeric; pgx has no codec for them.
func pgArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case decimal.Decimal:
			out[i] = pgtype.Numeric{Int: v.Coefficient(), Exp: v.Exponent(), Valid: true}
		case *decimal.Decimal:
			if v == nil {
				out[i] = nil
			} else {
				out[i] = pgtype.Numeric{Int: v.Coefficient(), Exp: v.Exponent(), Valid: true}
			}
		default:
			out[i] = a
		}
	}
	return out
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return copyRows(ctx, t.tx, table, rows)
}

func (t *pgTx) ExecuteStatement(ctx context.Context, stmt Statement) error {
	_, err := t.tx.Exec(ctx, stmt.SQL, pgArgs(stmt.Args)...)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
