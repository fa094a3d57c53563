package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imperiopatitas/bsale_etl/appctx"
	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/destination"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/imperiopatitas/bsale_etl/upsert"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bsale-etl/workflow")

type Entity string

const (
	EntityClients   Entity = "clients"
	EntityProducts  Entity = "products"
	EntityDocuments Entity = "documents"
	EntityAll       Entity = "all"
	// EntityDetails only appears in summaries; details sync with documents.
	EntityDetails Entity = "details"
)

var (
	ErrUnknownEntity   = errors.New("workflow: unknown entity")
	ErrNoValidProducts = errors.New("workflow: no valid products to load")
	ErrDocumentFetch   = errors.New("workflow: document fetch failed")
)

// ParseEntity accepts the entity names exposed to triggers.
func ParseEntity(s string) (Entity, error) {
	switch e := Entity(strings.ToLower(strings.TrimSpace(s))); e {
	case EntityClients, EntityProducts, EntityDocuments, EntityAll:
		return e, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, s)
	}
}

// Source is the slice of the Bsale client the syncs depend on.
type Source interface {
	GetClients(ctx context.Context) []bsale.Decoded[bsale.Client]
	GetProducts(ctx context.Context) []bsale.Decoded[bsale.Product]
	GetDocuments(ctx context.Context, since *time.Time) ([]bsale.Decoded[bsale.Document], error)
	GetVariantPrice(ctx context.Context, priceListID int64, variantID int64) *decimal.Decimal
	GetVariantCost(ctx context.Context, variantID int64) *decimal.Decimal
	Sample(ctx context.Context, path string, limit int) []json.RawMessage
}

// Mirror receives a copy of every table written by a sync. Failures are
// logged and never fail the sync.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, table models.Table, rows []models.Row) error
}

// Archiver stores the raw extract of a run before validation.
type Archiver interface {
	Archive(ctx context.Context, entity string, payloads []json.RawMessage) error
}

type Dependencies struct {
	Source      Source
	Destination destination.Destination
	Engine      *upsert.Engine
	Locker      Locker
	Mirrors     []Mirror
	Archiver    Archiver
	Logger      logrus.FieldLogger
}

type Options struct {
	PriceListID int64
	FKChecks    bool
	PhoneRegion string
}

const DefaultPriceListID = 2

func DefaultOptions() Options {
	return Options{PriceListID: DefaultPriceListID, FKChecks: true, PhoneRegion: "CL"}
}

// OptionsFromSettings maps the process settings onto sync options.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		PriceListID: s.Bsale.PriceListID,
		FKChecks:    s.FKChecks,
		PhoneRegion: s.PhoneRegion,
	}
}

// Summary is the outcome of one entity sync. Counts are per record except
// FailedBatches.
type Summary struct {
	Entity        Entity        `json:"entity"`
	Fetched       int           `json:"fetched"`
	Valid         int           `json:"valid"`
	Rejected      int           `json:"rejected"`
	Skipped       int           `json:"skipped"`
	Warnings      int           `json:"warnings"`
	Upserted      int           `json:"upserted"`
	FailedBatches int           `json:"failedBatches"`
	Duration      time.Duration `json:"duration"`
	Details       *Summary      `json:"details,omitempty"`
}

func (s Summary) fields() logrus.Fields {
	return logrus.Fields{
		"entity":        s.Entity,
		"fetched":       s.Fetched,
		"valid":         s.Valid,
		"rejected":      s.Rejected,
		"skipped":       s.Skipped,
		"warnings":      s.Warnings,
		"upserted":      s.Upserted,
		"failedBatches": s.FailedBatches,
		"durationMs":    s.Duration.Milliseconds(),
	}
}

type Service struct {
	source   Source
	dest     destination.Destination
	engine   *upsert.Engine
	locker   Locker
	mirrors  []Mirror
	archiver Archiver
	logger   logrus.FieldLogger
	opts     Options
	now      func() time.Time
}

func NewService(deps Dependencies, opts Options) *Service {
	if opts.PriceListID <= 0 {
		opts.PriceListID = DefaultPriceListID
	}
	logger := deps.Logger
	if logger == nil {
		logger = config.DiscardLogger()
	}
	engine := deps.Engine
	if engine == nil {
		engine = upsert.NewEngine(deps.Destination, upsert.Options{Logger: logger})
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Service{
		source:   deps.Source,
		dest:     deps.Destination,
		engine:   engine,
		locker:   locker,
		mirrors:  deps.Mirrors,
		archiver: deps.Archiver,
		logger:   logger.WithField("module", "workflow"),
		opts:     opts,
		now:      time.Now,
	}
}

func (s *Service) Options() Options { return s.opts }

func (s *Service) DestinationName() string { return s.dest.Name() }

func (s *Service) SyncClients(ctx context.Context) (Summary, error) {
	return s.guarded(ctx, EntityClients, s.syncClients)
}

func (s *Service) SyncProducts(ctx context.Context) (Summary, error) {
	return s.guarded(ctx, EntityProducts, s.syncProducts)
}

// SyncDocuments loads documents and their details. A nil since loads every
// document Bsale returns.
func (s *Service) SyncDocuments(ctx context.Context, since *time.Time) (Summary, error) {
	return s.guarded(ctx, EntityDocuments, func(ctx context.Context) (Summary, error) {
		return s.syncDocuments(ctx, since)
	})
}

// FullResync runs clients, products and documents in that order and stops
// at the first fatal error.
func (s *Service) FullResync(ctx context.Context, since *time.Time) ([]Summary, error) {
	ctx = s.runContext(ctx)
	var out []Summary
	for _, step := range s.steps(since) {
		sum, err := s.guarded(ctx, step.entity, step.run)
		out = append(out, sum)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// Sync dispatches one trigger request.
func (s *Service) Sync(ctx context.Context, entity Entity, since *time.Time) ([]Summary, error) {
	switch entity {
	case EntityClients:
		sum, err := s.SyncClients(ctx)
		return []Summary{sum}, err
	case EntityProducts:
		sum, err := s.SyncProducts(ctx)
		return []Summary{sum}, err
	case EntityDocuments:
		sum, err := s.SyncDocuments(ctx, since)
		return []Summary{sum}, err
	case EntityAll:
		return s.FullResync(ctx, since)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
}

type step struct {
	entity Entity
	run    func(ctx context.Context) (Summary, error)
}

func (s *Service) steps(since *time.Time) []step {
	return []step{
		{EntityClients, s.syncClients},
		{EntityProducts, s.syncProducts},
		{EntityDocuments, func(ctx context.Context) (Summary, error) { return s.syncDocuments(ctx, since) }},
	}
}

// CleanAndReload erases all four tables, children first, and reloads
// everything. Every entity lock is held for the whole run.
func (s *Service) CleanAndReload(ctx context.Context) ([]Summary, error) {
	ctx = s.runContext(ctx)
	names := []string{lockName(EntityClients), lockName(EntityProducts), lockName(EntityDocuments)}

	var out []Summary
	err := withLocks(ctx, s.locker, names, func(ctx context.Context) error {
		ctx, span := tracer.Start(ctx, "etl.clean_and_reload")
		defer span.End()

		if err := s.truncateAll(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		for _, step := range s.steps(nil) {
			sum, err := s.traced(ctx, step.entity, step.run)
			out = append(out, sum)
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) truncateAll(ctx context.Context) error {
	tables := models.AllTables()
	for i := len(tables) - 1; i >= 0; i-- {
		stmt, err := s.dest.Dialect().DeleteAll(tables[i])
		if err != nil {
			return fmt.Errorf("render delete %s: %w", tables[i].Name, err)
		}
		if err := s.dest.ExecuteStatement(ctx, stmt); err != nil {
			return fmt.Errorf("delete %s: %w", tables[i].Name, err)
		}
		s.logger.WithFields(appctx.Fields(ctx)).WithField("table", tables[i].Name).Warn("table erased")
	}
	return nil
}

// Sample fetches a handful of raw records for entity without writing.
func (s *Service) Sample(ctx context.Context, entity Entity, limit int) ([]json.RawMessage, error) {
	var path string
	switch entity {
	case EntityClients:
		path = bsale.PathClients
	case EntityProducts:
		path = bsale.PathProducts
	case EntityDocuments:
		path = bsale.PathDocuments
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
	}
	return s.source.Sample(ctx, path, limit), nil
}

func (s *Service) runContext(ctx context.Context) context.Context {
	if _, ok := appctx.GetString(ctx, appctx.ContextKeyRunId); !ok {
		ctx = appctx.Set(ctx, appctx.ContextKeyRunId, uuid.NewString())
	}
	return ctx
}

func (s *Service) guarded(ctx context.Context, entity Entity, run func(ctx context.Context) (Summary, error)) (Summary, error) {
	ctx = s.runContext(ctx)
	var sum Summary
	err := s.locker.WithLock(ctx, lockName(entity), func(ctx context.Context) error {
		var err error
		sum, err = s.traced(ctx, entity, run)
		return err
	})
	if errors.Is(err, ErrSyncInProgress) {
		s.logger.WithFields(appctx.Fields(ctx)).WithField("entity", entity).Warn("sync skipped: another run holds the lock")
		sum.Entity = entity
	}
	return sum, err
}

func (s *Service) traced(ctx context.Context, entity Entity, run func(ctx context.Context) (Summary, error)) (Summary, error) {
	ctx, span := tracer.Start(ctx, "etl.sync."+string(entity),
		trace.WithAttributes(attribute.String("etl.entity", string(entity)), attribute.String("etl.destination", s.dest.Name())))
	defer span.End()

	start := s.now()
	sum, err := run(ctx)
	sum.Entity = entity
	sum.Duration = s.now().Sub(start)

	span.SetAttributes(
		attribute.Int("etl.fetched", sum.Fetched),
		attribute.Int("etl.valid", sum.Valid),
		attribute.Int("etl.rejected", sum.Rejected),
		attribute.Int("etl.failed_batches", sum.FailedBatches),
	)
	log := s.logger.WithFields(appctx.Fields(ctx)).WithFields(sum.fields())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(log, "workflow", "Sync", "sync failed", entity, err)
		return sum, err
	}
	if sum.Details != nil {
		log = log.WithFields(logrus.Fields{
			"detailsValid":    sum.Details.Valid,
			"detailsRejected": sum.Details.Rejected,
			"detailsUpserted": sum.Details.Upserted,
		})
	}
	log.Info("sync finished")
	return sum, nil
}

func (s *Service) archive(ctx context.Context, entity Entity, payloads []json.RawMessage) {
	if s.archiver == nil || len(payloads) == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, string(entity), payloads); err != nil {
		s.logger.WithFields(appctx.Fields(ctx)).WithError(err).WithField("entity", entity).Warn("raw archive failed")
	}
}

func (s *Service) mirror(ctx context.Context, table models.Table, rows []models.Row) {
	for _, m := range s.mirrors {
		if err := m.Mirror(ctx, table, rows); err != nil {
			s.logger.WithFields(appctx.Fields(ctx)).WithError(err).WithFields(logrus.Fields{
				"mirror": m.Name(),
				"table":  table.Name,
			}).Warn("mirror failed")
		}
	}
}

// load upserts rows and mirrors them, folding the engine stats into sum.
func (s *Service) load(ctx context.Context, table models.Table, rows []models.Row, sum *Summary) error {
	stats, err := s.engine.Upsert(ctx, table, rows, table.PrimaryKey)
	sum.Upserted += stats.Written
	sum.FailedBatches += stats.FailedBatches
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table.Name, err)
	}
	if len(rows) > 0 {
		s.mirror(ctx, table, rows)
	}
	return nil
}

func (s *Service) recordLog(ctx context.Context, entity Entity, id string) *logrus.Entry {
	return s.logger.WithFields(appctx.Fields(ctx)).WithFields(logrus.Fields{"entity": entity, "id": id})
}

func rawPayloads[T any](decoded []bsale.Decoded[T]) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(decoded))
	for _, d := range decoded {
		out = append(out, d.Raw)
	}
	return out
}

// dedupe keeps the last row per primary key. Bsale pages can repeat a
// record when data shifts between requests, and a MERGE source may not
// hold the same key twice.
func dedupe(rows []models.Row, pk string) ([]models.Row, int) {
	index := make(map[any]int, len(rows))
	out := make([]models.Row, 0, len(rows))
	for _, r := range rows {
		k := r[pk]
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out, len(rows) - len(out)
}
