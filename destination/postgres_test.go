package destination

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresExecutesMerge(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := NewPostgres(mock)
	stmt, err := p.Dialect().Merge(models.ClienteTable, "id_bsale", []Row{clienteRow(1, "Ana")})
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("MERGE INTO cliente AS t USING (VALUES ($1::bigint")).
		WillReturnResult(pgxmock.NewResult("MERGE", 1))

	require.NoError(t, p.ExecuteStatement(context.Background(), stmt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFallbackUsesCopyInTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	p := NewPostgres(mock)
	ctx := context.Background()
	rows := []Row{clienteRow(1, "Ana"), clienteRow(2, "Luis")}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM cliente WHERE id_bsale IN ($1,$2)")).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"cliente"}, models.ClienteTable.ColumnNames()).
		WillReturnResult(2)
	mock.ExpectCommit()

	tx, err := p.Begin(ctx)
	require.NoError(t, err)
	del, err := p.Dialect().Delete(models.ClienteTable, "id_bsale", KeysOf(rows, "id_bsale"))
	require.NoError(t, err)
	require.NoError(t, tx.ExecuteStatement(ctx, del))
	require.NoError(t, tx.InsertRows(ctx, models.ClienteTable, rows))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReadKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT id_bsale FROM producto WHERE id_bsale IS NOT NULL")).
		WillReturnRows(pgxmock.NewRows([]string{"id_bsale"}).AddRow(int64(11)).AddRow(int64(12)))

	keys, err := NewPostgres(mock).ReadKeys(context.Background(), models.ProductoTable, "id_bsale")
	require.NoError(t, err)
	assert.Equal(t, models.NewKeySet(11, 12), keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClassify(t *testing.T) {
	p := &Postgres{}
	assert.Equal(t, Transient, p.Classify(&pgconn.PgError{Code: "40P01"}))
	assert.Equal(t, Transient, p.Classify(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, Unsupported, p.Classify(&pgconn.PgError{Code: "42601"}))
	assert.Equal(t, Permanent, p.Classify(&pgconn.PgError{Code: "23505"}))
	assert.Equal(t, Unsupported, p.Classify(ErrMergeUnsupported))
	assert.Equal(t, Permanent, p.Classify(errors.New("boom")))
}

func TestPgArgsConvertsDecimals(t *testing.T) {
	d := decimal.RequireFromString("12.50")
	out := pgArgs([]any{d, nil, int64(3)})
	require.Len(t, out, 3)
	assert.Nil(t, out[1])
	assert.Equal(t, int64(3), out[2])
	assert.NotEqual(t, d, out[0])
}
