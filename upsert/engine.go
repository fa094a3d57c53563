package upsert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/destination"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize     = 50
	DefaultMergeAttempts = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
)

var ErrUnknownKey = errors.New("upsert: key is not a column of the table")

type Options struct {
	BatchSize     int
	MergeAttempts int
	RetryBackoff  time.Duration
	Logger        logrus.FieldLogger
}

// Stats summarizes one Upsert call. Processed counts records attempted,
// including those in failed batches; Written counts those that landed.
type Stats struct {
	Processed       int
	Written         int
	Batches         int
	Merged          int
	FallbackBatches int
	FailedBatches   int
}

type Engine struct {
	dest   destination.Destination
	opts   Options
	logger logrus.FieldLogger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewEngine(dest destination.Destination, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MergeAttempts <= 0 {
		opts.MergeAttempts = DefaultMergeAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = config.DiscardLogger()
	}
	return &Engine{
		dest:   dest,
		opts:   opts,
		logger: logger.WithFields(logrus.Fields{"module": "upsert", "destination": dest.Name()}),
		sleep:  sleepContext,
	}
}

func (e *Engine) BatchSize() int { return e.opts.BatchSize }

// Upsert writes rows in fixed-size batches, strictly in order. Each batch is
// merged on pk; when the merge cannot succeed the batch is replaced inside a
// transaction (delete by key, then insert). A batch that fails both ways is
// logged and skipped. The returned error is reserved for invalid input and
// cancellation.
func (e *Engine) Upsert(ctx context.Context, table models.Table, rows []destination.Row, pk string) (Stats, error) {
	var stats Stats
	if !table.HasColumn(pk) {
		return stats, fmt.Errorf("%w: %s.%s", ErrUnknownKey, table.Name, pk)
	}
	if len(rows) == 0 {
		return stats, nil
	}

	log := e.logger.WithField("table", table.Name)
	fallbackOnly := false

	for start := 0; start < len(rows); start += e.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		end := min(start+e.opts.BatchSize, len(rows))
		batch := rows[start:end]
		batchNo := stats.Batches + 1
		stats.Batches++
		stats.Processed += len(batch)
		blog := log.WithFields(logrus.Fields{"batch": batchNo, "size": len(batch)})

		if !fallbackOnly {
			err := e.merge(ctx, table, pk, batch, blog)
			if err == nil {
				stats.Merged++
				stats.Written += len(batch)
				continue
			}
			if errors.Is(err, destination.ErrMergeUnsupported) {
				blog.Warn("dialect cannot merge; using delete+insert for the remaining batches")
				fallbackOnly = true
			} else {
				blog.WithError(err).WithField("class", e.dest.Classify(err).String()).Warn("merge failed; falling back to delete+insert")
			}
		}

		if err := e.replace(ctx, table, pk, batch); err != nil {
			stats.FailedBatches++
			config.LogError(blog, "upsert", "Upsert", "fallback failed; batch abandoned", destination.KeysOf(batch, pk), err)
			continue
		}
		stats.FallbackBatches++
		stats.Written += len(batch)
	}

	log.WithFields(logrus.Fields{
		"processed": stats.Processed,
		"written":   stats.Written,
		"batches":   stats.Batches,
		"merged":    stats.Merged,
		"fallback":  stats.FallbackBatches,
		"failed":    stats.FailedBatches,
	}).Info("upsert finished")
	return stats, nil
}

// merge retries transient failures up to the attempt budget.
func (e *Engine) merge(ctx context.Context, table models.Table, pk string, batch []destination.Row, log logrus.FieldLogger) error {
	stmt, err := e.dest.Dialect().Merge(table, pk, batch)
	if err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		err = e.dest.ExecuteStatement(ctx, stmt)
		if err == nil {
			return nil
		}
		if e.dest.Classify(err) != destination.Transient || attempt >= e.opts.MergeAttempts {
			return err
		}
		wait := e.opts.RetryBackoff * time.Duration(attempt)
		log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retryIn": wait.String()}).Warn("transient merge failure")
		if serr := e.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func (e *Engine) replace(ctx context.Context, table models.Table, pk string, batch []destination.Row) (err error) {
	del, err := e.dest.Dialect().Delete(table, pk, destination.KeysOf(batch, pk))
	if err != nil {
		return err
	}
	tx, err := e.dest.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = tx.ExecuteStatement(ctx, del); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if err = tx.InsertRows(ctx, table, batch); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
