package destination

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/imperiopatitas/bsale_etl/models"
)

// sqlDialect renders standard INSERT and DELETE statements with squirrel.
// upsert appends the engine-specific conflict clause, or renders the whole
// merge when custom is set.
type sqlDialect struct {
	name        string
	placeholder sq.PlaceholderFormat
	upsert      func(table models.Table, key string) string
	custom      func(table models.Table, key string, rows []Row) (string, []any, error)
}

func (d sqlDialect) Name() string { return d.name }

func (d sqlDialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.placeholder)
}

func (d sqlDialect) insertBuilder(table models.Table, rows []Row) sq.InsertBuilder {
	b := d.builder().Insert(table.Name).Columns(table.ColumnNames()...)
	for _, r := range rows {
		b = b.Values(table.Values(r)...)
	}
	return b
}

func (d sqlDialect) Merge(table models.Table, key string, rows []Row) (Statement, error) {
	if err := checkBatch(table, key, rows); err != nil {
		return Statement{}, err
	}
	stmt := Statement{Kind: StatementMerge, Table: table, Key: key, Rows: rows, Keys: KeysOf(rows, key)}

	var err error
	switch {
	case d.custom != nil:
		stmt.SQL, stmt.Args, err = d.custom(table, key, rows)
	case d.upsert != nil:
		stmt.SQL, stmt.Args, err = d.insertBuilder(table, rows).Suffix(d.upsert(table, key)).ToSql()
	default:
		return Statement{}, ErrMergeUnsupported
	}
	if err != nil {
		return Statement{}, fmt.Errorf("render merge into %s: %w", table.Name, err)
	}
	return stmt, nil
}

func (d sqlDialect) Insert(table models.Table, rows []Row) (Statement, error) {
	if err := checkBatch(table, "", rows); err != nil {
		return Statement{}, err
	}
	query, args, err := d.insertBuilder(table, rows).ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render insert into %s: %w", table.Name, err)
	}
	return Statement{Kind: StatementInsert, SQL: query, Args: args, Table: table, Rows: rows}, nil
}

func (d sqlDialect) Delete(table models.Table, key string, keys []any) (Statement, error) {
	if !table.HasColumn(key) {
		return Statement{}, fmt.Errorf("destination: %s has no column %q", table.Name, key)
	}
	query, args, err := d.builder().Delete(table.Name).Where(sq.Eq{key: keys}).ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render delete from %s: %w", table.Name, err)
	}
	return Statement{Kind: StatementDelete, SQL: query, Args: args, Table: table, Key: key, Keys: keys}, nil
}

func (d sqlDialect) DeleteAll(table models.Table) (Statement, error) {
	query, args, err := d.builder().Delete(table.Name).Where("TRUE").ToSql()
	if err != nil {
		return Statement{}, fmt.Errorf("render delete all from %s: %w", table.Name, err)
	}
	return Statement{Kind: StatementDeleteAll, SQL: query, Args: args, Table: table}, nil
}

func nonKeyColumns(table models.Table, key string) []string {
	cols := make([]string, 0, len(table.Columns))
	for _, c := range table.ColumnNames() {
		if c != key {
			cols = append(cols, c)
		}
	}
	return cols
}

// MySQLDialect upserts with ON DUPLICATE KEY UPDATE.
func MySQLDialect() Dialect {
	return sqlDialect{
		name:        "mysql",
		placeholder: sq.Question,
		upsert: func(table models.Table, key string) string {
			sets := make([]string, 0, len(table.Columns))
			for _, c := range nonKeyColumns(table, key) {
				sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
			}
			return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
		},
	}
}

// SQLiteDialect upserts with ON CONFLICT DO UPDATE.
func SQLiteDialect() Dialect {
	return sqlDialect{
		name:        "sqlite",
		placeholder: sq.Question,
		upsert: func(table models.Table, key string) string {
			sets := make([]string, 0, len(table.Columns))
			for _, c := range nonKeyColumns(table, key) {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
			}
			return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", key, strings.Join(sets, ", "))
		},
	}
}

var postgresTypes = map[models.ColumnType]string{
	models.ColumnInteger:  "bigint",
	models.ColumnString:   "text",
	models.ColumnNumeric:  "numeric",
	models.ColumnDatetime: "timestamp",
	models.ColumnBoolean:  "boolean",
}

// PostgresDialect renders MERGE (PostgreSQL 15+). The VALUES list is cast per
// column so NULLs in the first row keep their type.
func PostgresDialect() Dialect {
	return sqlDialect{
		name:        "postgres",
		placeholder: sq.Dollar,
		custom:      postgresMerge,
	}
}

func postgresMerge(table models.Table, key string, rows []Row) (string, []any, error) {
	cols := table.ColumnNames()
	var (
		b    strings.Builder
		args = make([]any, 0, len(rows)*len(cols))
	)
	fmt.Fprintf(&b, "MERGE INTO %s AS t USING (VALUES ", table.Name)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, c := range table.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "?::%s", postgresTypes[c.Type])
			args = append(args, r[c.Name])
		}
		b.WriteString(")")
	}
	fmt.Fprintf(&b, ") AS s(%s) ON t.%s = s.%s", strings.Join(cols, ", "), key, key)

	sets := make([]string, 0, len(cols))
	for _, c := range nonKeyColumns(table, key) {
		sets = append(sets, fmt.Sprintf("%s = s.%s", c, c))
	}
	if len(sets) > 0 {
		fmt.Fprintf(&b, " WHEN MATCHED THEN UPDATE SET %s", strings.Join(sets, ", "))
	}
	src := make([]string, len(cols))
	for i, c := range cols {
		src[i] = "s." + c
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(src, ", "))

	query, err := sq.Dollar.ReplacePlaceholders(b.String())
	return query, args, err
}

// CreateTableSQL renders CREATE TABLE IF NOT EXISTS for a SQL dialect.
func CreateTableSQL(dialect string, table models.Table) string {
	cols := make([]string, 0, len(table.Columns)+1)
	for _, c := range table.Columns {
		def := fmt.Sprintf("%s %s", c.Name, sqlColumnType(dialect, c.Type))
		if c.Name == table.PrimaryKey {
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", table.PrimaryKey))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Name, strings.Join(cols, ", "))
}

func sqlColumnType(dialect string, t models.ColumnType) string {
	if dialect == "postgres" {
		return postgresTypes[t]
	}
	switch t {
	case models.ColumnInteger:
		return "INTEGER"
	case models.ColumnNumeric:
		return "NUMERIC"
	case models.ColumnDatetime:
		return "DATETIME"
	case models.ColumnBoolean:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}
