package upsert

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/imperiopatitas/bsale_etl/destination"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientes(from, to int) []destination.Row {
	rows := make([]destination.Row, 0, to-from+1)
	for i := from; i <= to; i++ {
		rows = append(rows, models.Cliente{IdBsale: int64(i), Nombre: fmt.Sprintf("cliente %d", i)}.Row())
	}
	return rows
}

func newTestEngine(dest destination.Destination, batch int) (*Engine, *[]time.Duration) {
	e := NewEngine(dest, Options{BatchSize: batch, RetryBackoff: 10 * time.Millisecond})
	waits := &[]time.Duration{}
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return e, waits
}

func firstKey(op destination.Operation) int64 {
	if len(op.Keys) == 0 {
		return 0
	}
	id, _ := op.Keys[0].(int64)
	return id
}

func TestUpsertSplitsIntoOrderedBatches(t *testing.T) {
	mem := destination.NewMemory()
	e, _ := newTestEngine(mem, 50)

	stats, err := e.Upsert(context.Background(), models.ClienteTable, clientes(1, 120), "id_bsale")
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 120, Written: 120, Batches: 3, Merged: 3}, stats)
	assert.Equal(t, 120, mem.Count("cliente"))

	ops := mem.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, []int{50, 50, 20}, []int{ops[0].Rows, ops[1].Rows, ops[2].Rows})
	assert.Equal(t, []int64{1, 51, 101}, []int64{firstKey(ops[0]), firstKey(ops[1]), firstKey(ops[2])})
}

func TestUpsertIsolatesFailedBatch(t *testing.T) {
	mem := destination.NewMemory()
	mem.Hook = func(op destination.Operation) error {
		if (op.Kind == destination.StatementMerge || op.Kind == destination.StatementDelete) && firstKey(op) == 51 {
			return errors.New("disk full")
		}
		return nil
	}
	e, _ := newTestEngine(mem, 50)

	stats, err := e.Upsert(context.Background(), models.ClienteTable, clientes(1, 120), "id_bsale")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 2, stats.Merged)
	assert.Equal(t, 1, stats.FailedBatches)
	assert.Equal(t, 120, stats.Processed)
	assert.Equal(t, 70, stats.Written)
	assert.Equal(t, 70, mem.Count("cliente"))

	keys, err := mem.ReadKeys(context.Background(), models.ClienteTable, "id_bsale")
	require.NoError(t, err)
	assert.True(t, keys.Has(50))
	assert.False(t, keys.Has(51))
	assert.False(t, keys.Has(100))
	assert.True(t, keys.Has(101))
}

func TestUpsertRetriesTransientMerge(t *testing.T) {
	mem := destination.NewMemory()
	failures := 2
	mem.Hook = func(op destination.Operation) error {
		if op.Kind == destination.StatementMerge && failures > 0 {
			failures--
			return destination.WithClass(destination.Transient, errors.New("deadlock"))
		}
		return nil
	}
	e, waits := newTestEngine(mem, 50)

	stats, err := e.Upsert(context.Background(), models.ClienteTable, clientes(1, 10), "id_bsale")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Merged)
	assert.Zero(t, stats.FallbackBatches)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
	assert.Equal(t, 10, mem.Count("cliente"))
}

func TestUpsertFallsBackAfterExhaustedRetries(t *testing.T) {
	mem := destination.NewMemory()
	mem.Hook = func(op destination.Operation) error {
		if op.Kind == destination.StatementMerge {
			return destination.WithClass(destination.Transient, errors.New("rate limited"))
		}
		return nil
	}
	e, waits := newTestEngine(mem, 50)

	stats, err := e.Upsert(context.Background(), models.ClienteTable, clientes(1, 5), "id_bsale")
	require.NoError(t, err)
	assert.Len(t, *waits, DefaultMergeAttempts-1)
	assert.Equal(t, 1, stats.FallbackBatches)
	assert.Equal(t, 5, mem.Count("cliente"))
}

func TestUpsertPermanentErrorGoesStraightToFallback(t *testing.T) {
	mem := destination.NewMemory()
	require.NoError(t, mem.InsertRows(context.Background(), models.ClienteTable, clientes(1, 3)))
	mem.Hook = func(op destination.Operation) error {
		if op.Kind == destination.StatementMerge {
			return errors.New("syntax")
		}
		return nil
	}
	e, waits := newTestEngine(mem, 50)

	updated := clientes(1, 3)
	updated[0]["nombre"] = "Ana Ruiz"
	stats, err := e.Upsert(context.Background(), models.ClienteTable, updated, "id_bsale")
	require.NoError(t, err)
	assert.Empty(t, *waits)
	assert.Equal(t, 1, stats.FallbackBatches)
	assert.Equal(t, 3, mem.Count("cliente"))
	assert.Equal(t, "Ana Ruiz", mem.Rows("cliente")[0]["nombre"])
}

func TestUpsertWithoutMergeUsesFallbackForEveryBatch(t *testing.T) {
	mem := destination.NewMemoryWithoutMerge()
	e, _ := newTestEngine(mem, 50)
	ctx := context.Background()

	for run := 0; run < 2; run++ {
		stats, err := e.Upsert(ctx, models.ClienteTable, clientes(1, 120), "id_bsale")
		require.NoError(t, err)
		assert.Equal(t, 3, stats.FallbackBatches)
		assert.Zero(t, stats.Merged)
		assert.Equal(t, 120, mem.Count("cliente"))
	}
	for _, op := range mem.Operations() {
		assert.True(t, op.InTx)
		assert.NotEqual(t, destination.StatementMerge, op.Kind)
	}
}

func TestUpsertMergeIsIdempotent(t *testing.T) {
	mem := destination.NewMemory()
	e, _ := newTestEngine(mem, 50)
	ctx := context.Background()

	_, err := e.Upsert(ctx, models.ClienteTable, clientes(1, 60), "id_bsale")
	require.NoError(t, err)
	before := mem.Rows("cliente")
	_, err = e.Upsert(ctx, models.ClienteTable, clientes(1, 60), "id_bsale")
	require.NoError(t, err)
	assert.Equal(t, before, mem.Rows("cliente"))
}

func TestUpsertRejectsUnknownKey(t *testing.T) {
	e, _ := newTestEngine(destination.NewMemory(), 50)
	_, err := e.Upsert(context.Background(), models.ClienteTable, clientes(1, 2), "id_detalle")
	require.ErrorIs(t, err, ErrUnknownKey)
}

func TestUpsertEmptyInputIsNoop(t *testing.T) {
	mem := destination.NewMemory()
	e, _ := newTestEngine(mem, 50)
	stats, err := e.Upsert(context.Background(), models.ClienteTable, nil, "id_bsale")
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.Empty(t, mem.Operations())
}

func TestUpsertStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, _ := newTestEngine(destination.NewMemory(), 50)
	_, err := e.Upsert(ctx, models.ClienteTable, clientes(1, 2), "id_bsale")
	require.ErrorIs(t, err, context.Canceled)
}
