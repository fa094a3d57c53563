package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imperiopatitas/bsale_etl/appctx"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/imperiopatitas/bsale_etl/validation"
	"github.com/sirupsen/logrus"
)

func (s *Service) syncDocuments(ctx context.Context, since *time.Time) (Summary, error) {
	var sum Summary
	details := Summary{Entity: EntityDetails}
	sum.Details = &details

	decoded, err := s.source.GetDocuments(ctx, since)
	if err != nil {
		return sum, fmt.Errorf("%w: %w", ErrDocumentFetch, err)
	}
	sum.Fetched = len(decoded)
	s.archive(ctx, EntityDocuments, rawPayloads(decoded))

	refs := s.references(ctx)
	docRows := make([]models.Row, 0, len(decoded))
	var detailRows []models.Row

	for _, d := range decoded {
		if d.Err != nil {
			sum.Rejected++
			s.recordLog(ctx, EntityDocuments, "").WithError(d.Err).Warn("undecodable document payload")
			continue
		}
		res := validation.ValidateDocument(d.Record, refs)
		sum.Warnings += len(res.Warnings)
		items := d.Record.Details.Items
		details.Fetched += len(items)
		if !res.OK() {
			sum.Rejected++
			details.Skipped += len(items)
			s.recordLog(ctx, EntityDocuments, d.Record.ID.String()).WithFields(logrus.Fields{
				"reasons":        res.Rejection.Reasons,
				"droppedDetails": len(items),
			}).Warn("document rejected")
			continue
		}
		if len(res.Warnings) > 0 {
			s.recordLog(ctx, EntityDocuments, d.Record.ID.String()).Debug(strings.Join(res.Warnings, "; "))
		}
		sum.Valid++
		docRows = append(docRows, res.Record.Row())

		for _, item := range items {
			dres := validation.ValidateDetail(res.Record.IdBsale, item, refs)
			details.Warnings += len(dres.Warnings)
			if !dres.OK() {
				details.Rejected++
				s.recordLog(ctx, EntityDetails, item.ID.String()).WithField("reasons", dres.Rejection.Reasons).Warn("detail rejected")
				continue
			}
			details.Valid++
			detailRows = append(detailRows, dres.Record.Row())
		}
	}

	docRows, dups := dedupe(docRows, models.DocumentoVentaTable.PrimaryKey)
	sum.Skipped += dups
	if err := s.load(ctx, models.DocumentoVentaTable, docRows, &sum); err != nil {
		return sum, err
	}
	detailRows, dups = dedupe(detailRows, models.DetalleDocumentoTable.PrimaryKey)
	details.Skipped += dups
	if err := s.load(ctx, models.DetalleDocumentoTable, detailRows, &details); err != nil {
		return sum, err
	}
	sum.FailedBatches += details.FailedBatches
	return sum, nil
}

// references loads the keys documents may point at. When the destination
// cannot list them, references are kept as sent.
func (s *Service) references(ctx context.Context) validation.References {
	if !s.opts.FKChecks {
		return validation.References{}
	}
	clients, err := s.dest.ReadKeys(ctx, models.ClienteTable, models.ClienteTable.PrimaryKey)
	if err == nil {
		var products models.KeySet
		products, err = s.dest.ReadKeys(ctx, models.ProductoTable, models.ProductoTable.PrimaryKey)
		if err == nil {
			return validation.References{Clients: clients, Products: products, Enforce: true}
		}
	}
	s.logger.WithFields(appctx.Fields(ctx)).WithError(err).Warn("could not read reference keys; foreign key checks disabled for this run")
	return validation.References{}
}
