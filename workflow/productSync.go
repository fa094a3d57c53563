package workflow

import (
	"context"
	"strings"

	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/imperiopatitas/bsale_etl/validation"
	"github.com/shopspring/decimal"
)

// syncProducts keeps one variant per parent product: the first active
// variant that passes validation, price and cost lookups included.
func (s *Service) syncProducts(ctx context.Context) (Summary, error) {
	var sum Summary
	decoded := s.source.GetProducts(ctx)
	sum.Fetched = len(decoded)
	s.archive(ctx, EntityProducts, rawPayloads(decoded))

	rows := make([]models.Row, 0, len(decoded))
	for _, d := range decoded {
		if d.Err != nil {
			sum.Rejected++
			s.recordLog(ctx, EntityProducts, "").WithError(d.Err).Warn("undecodable product payload")
			continue
		}
		res, tried := s.pickVariant(ctx, d.Record)
		if tried == 0 {
			sum.Skipped++
			s.recordLog(ctx, EntityProducts, d.Record.ID.String()).Debug("product has no active variant")
			continue
		}
		sum.Warnings += len(res.Warnings)
		if !res.OK() {
			sum.Rejected++
			s.recordLog(ctx, EntityProducts, d.Record.ID.String()).WithField("reasons", res.Rejection.Reasons).Warn("product rejected: no active variant passed validation")
			continue
		}
		if len(res.Warnings) > 0 {
			s.recordLog(ctx, EntityProducts, d.Record.ID.String()).Debug(strings.Join(res.Warnings, "; "))
		}
		sum.Valid++
		rows = append(rows, res.Record.Row())
	}

	if sum.Fetched > 0 && sum.Valid == 0 {
		return sum, ErrNoValidProducts
	}
	rows, dups := dedupe(rows, models.ProductoTable.PrimaryKey)
	sum.Skipped += dups
	return sum, s.load(ctx, models.ProductoTable, rows, &sum)
}

// pickVariant returns the first accepted active variant, or the last
// rejection when none passes. tried counts the active variants examined.
func (s *Service) pickVariant(ctx context.Context, product bsale.Product) (validation.Result[models.Producto], int) {
	var last validation.Result[models.Producto]
	tried := 0
	for _, v := range product.Variants.Items {
		if !validation.IsActiveVariant(v) {
			continue
		}
		tried++
		var price, cost *decimal.Decimal
		if id := bsale.Int64Ptr(v.ID); id != nil {
			price = s.source.GetVariantPrice(ctx, s.opts.PriceListID, *id)
			cost = s.source.GetVariantCost(ctx, *id)
		}
		last = validation.ValidateProductVariant(product, v, price, cost)
		if last.OK() {
			return last, tried
		}
	}
	return last, tried
}
