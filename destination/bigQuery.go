package destination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

var bigQueryTypes = map[models.ColumnType]string{
	models.ColumnInteger:  "INT64",
	models.ColumnString:   "STRING",
	models.ColumnNumeric:  "NUMERIC",
	models.ColumnDatetime: "DATETIME",
	models.ColumnBoolean:  "BOOL",
}

const bigQueryDatetimeLayout = "2006-01-02 15:04:05.999999"

// bigQueryDialect renders GoogleSQL DML with positional parameters. Every
// value is cast to the column type; NULLs are inlined so the MERGE source
// keeps a concrete type.
type bigQueryDialect struct{}

func BigQueryDialect() Dialect { return bigQueryDialect{} }

func (bigQueryDialect) Name() string { return "bigquery" }

func (bigQueryDialect) value(b *strings.Builder, args []any, col models.Column, v any) []any {
	typ := bigQueryTypes[col.Type]
	pv := bigQueryParam(v)
	if pv == nil {
		fmt.Fprintf(b, "CAST(NULL AS %s)", typ)
		return args
	}
	fmt.Fprintf(b, "CAST(? AS %s)", typ)
	return append(args, pv)
}

func (d bigQueryDialect) Merge(table models.Table, key string, rows []Row) (Statement, error) {
	if err := checkBatch(table, key, rows); err != nil {
		return Statement{}, err
	}
	cols := table.ColumnNames()
	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, "MERGE `%s` T USING (", table.Name)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(" UNION ALL ")
		}
		b.WriteString("SELECT ")
		for j, c := range table.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			args = d.value(&b, args, c, r[c.Name])
			fmt.Fprintf(&b, " AS %s", c.Name)
		}
	}
	fmt.Fprintf(&b, ") S ON T.%s = S.%s", key, key)

	sets := make([]string, 0, len(cols))
	for _, c := range nonKeyColumns(table, key) {
		sets = append(sets, fmt.Sprintf("%s = S.%s", c, c))
	}
	if len(sets) > 0 {
		fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(cols, ", "))

	return Statement{
		Kind: StatementMerge, SQL: b.String(), Args: args,
		Table: table, Key: key, Rows: rows, Keys: KeysOf(rows, key),
	}, nil
}

func (d bigQueryDialect) Insert(table models.Table, rows []Row) (Statement, error) {
	if err := checkBatch(table, "", rows); err != nil {
		return Statement{}, err
	}
	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, "INSERT INTO `%s` (%s) VALUES ", table.Name, strings.Join(table.ColumnNames(), ", "))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range table.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			args = d.value(&b, args, c, r[c.Name])
		}
		b.WriteString(")")
	}
	return Statement{Kind: StatementInsert, SQL: b.String(), Args: args, Table: table, Rows: rows}, nil
}

func (d bigQueryDialect) Delete(table models.Table, key string, keys []any) (Statement, error) {
	col, ok := table.Column(key)
	if !ok {
		return Statement{}, fmt.Errorf("destination: %s has no column %q", table.Name, key)
	}
	var (
		b    strings.Builder
		args []any
	)
	fmt.Fprintf(&b, "DELETE FROM `%s` WHERE %s IN (", table.Name, key)
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		args = d.value(&b, args, col, k)
	}
	b.WriteString(")")
	return Statement{Kind: StatementDelete, SQL: b.String(), Args: args, Table: table, Key: key, Keys: keys}, nil
}

func (bigQueryDialect) DeleteAll(table models.Table) (Statement, error) {
	return Statement{Kind: StatementDeleteAll, SQL: fmt.Sprintf("DELETE FROM `%s` WHERE TRUE", table.Name), Table: table}, nil
}

// bigQueryParam maps row values to types the client library can send.
// Decimals and datetimes travel as strings and are cast server side.
func bigQueryParam(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case decimal.Decimal:
		return x.String()
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(bigQueryDatetimeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(bigQueryDatetimeLayout)
	}
	return v
}

// BigQuery runs DML jobs against one dataset. Statements autocommit, so
// Begin returns a pass-through transaction.
type BigQuery struct {
	client  *bigquery.Client
	dataset string
	dialect Dialect
}

func NewBigQuery(client *bigquery.Client, dataset string) *BigQuery {
	return &BigQuery{client: client, dataset: dataset, dialect: BigQueryDialect()}
}

func (b *BigQuery) Name() string     { return "bigquery" }
func (b *BigQuery) Dialect() Dialect { return b.dialect }
func (b *BigQuery) Close() error     { return b.client.Close() }

func (b *BigQuery) query(sql string, args []any) *bigquery.Query {
	q := b.client.Query(sql)
	q.DefaultProjectID = b.client.Project()
	q.DefaultDatasetID = b.dataset
	for _, a := range args {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Value: a})
	}
	return q
}

func (b *BigQuery) run(ctx context.Context, sql string, args []any) error {
	job, err := b.query(sql, args).Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

// InsertRows uses DML rather than the streaming API: streamed rows sit in a
// buffer that later MERGE and DELETE statements cannot touch.
func (b *BigQuery) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := b.dialect.Insert(table, rows)
	if err != nil {
		return err
	}
	return b.run(ctx, stmt.SQL, stmt.Args)
}

func (b *BigQuery) ExecuteStatement(ctx context.Context, stmt Statement) error {
	return b.run(ctx, stmt.SQL, stmt.Args)
}

func (b *BigQuery) Begin(ctx context.Context) (Tx, error) {
	return passThroughTx{exec: b}, nil
}

func (b *BigQuery) ReadKeys(ctx context.Context, table models.Table, column string) (models.KeySet, error) {
	if !table.HasColumn(column) {
		return nil, fmt.Errorf("destination: %s has no column %q", table.Name, column)
	}
	sql := fmt.Sprintf("SELECT DISTINCT %s FROM `%s` WHERE %s IS NOT NULL", column, table.Name, column)
	it, err := b.query(sql, nil).Read(ctx)
	if err != nil {
		return nil, err
	}
	keys := models.NewKeySet()
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(row) == 0 {
			continue
		}
		if id, ok := toInt64(row[0]); ok {
			keys.Add(id)
		}
	}
	return keys, nil
}

// EnsureTables creates missing tables with the schemas from models.
func (b *BigQuery) EnsureTables(ctx context.Context) error {
	ds := b.client.Dataset(b.dataset)
	for _, t := range models.AllTables() {
		ref := ds.Table(t.Name)
		if _, err := ref.Metadata(ctx); err == nil {
			continue
		} else if !isNotFound(err) {
			return fmt.Errorf("inspect %s: %w", t.Name, err)
		}
		if err := ref.Create(ctx, &bigquery.TableMetadata{Schema: models.BigQuerySchema(t)}); err != nil {
			return fmt.Errorf("create %s: %w", t.Name, err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

var transientBigQueryReasons = map[string]bool{
	"backendError":         true,
	"internalError":        true,
	"rateLimitExceeded":    true,
	"jobRateLimitExceeded": true,
}

func (b *BigQuery) Classify(err error) ErrorClass {
	if class, ok := classifyCommon(err); ok {
		return class
	}
	var bqErr *bigquery.Error
	if errors.As(err, &bqErr) {
		switch {
		case transientBigQueryReasons[bqErr.Reason]:
			return Transient
		case bqErr.Reason == "invalidQuery":
			return Unsupported
		}
		return Permanent
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if transientBigQueryReasons[item.Reason] {
				return Transient
			}
			if item.Reason == "invalidQuery" {
				return Unsupported
			}
		}
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return Transient
		}
	}
	return Permanent
}

// passThroughTx executes directly against the destination; Commit and
// Rollback do nothing.
type passThroughTx struct {
	exec Executor
}

func (t passThroughTx) InsertRows(ctx context.Context, table models.Table, rows []Row) error {
	return t.exec.InsertRows(ctx, table, rows)
}

func (t passThroughTx) ExecuteStatement(ctx context.Context, stmt Statement) error {
	return t.exec.ExecuteStatement(ctx, stmt)
}

func (passThroughTx) Commit(context.Context) error   { return nil }
func (passThroughTx) Rollback(context.Context) error { return nil }
