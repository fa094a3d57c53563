package workflow

import (
	"context"
	"strings"

	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/imperiopatitas/bsale_etl/validation"
)

func (s *Service) syncClients(ctx context.Context) (Summary, error) {
	var sum Summary
	decoded := s.source.GetClients(ctx)
	sum.Fetched = len(decoded)
	s.archive(ctx, EntityClients, rawPayloads(decoded))

	opts := validation.ClientOptions{PhoneRegion: s.opts.PhoneRegion}
	rows := make([]models.Row, 0, len(decoded))
	for _, d := range decoded {
		if d.Err != nil {
			sum.Rejected++
			s.recordLog(ctx, EntityClients, "").WithError(d.Err).Warn("undecodable client payload")
			continue
		}
		res := validation.ValidateClient(d.Record, opts)
		sum.Warnings += len(res.Warnings)
		if !res.OK() {
			sum.Rejected++
			s.recordLog(ctx, EntityClients, d.Record.ID.String()).WithField("reasons", res.Rejection.Reasons).Warn("client rejected")
			continue
		}
		if len(res.Warnings) > 0 {
			s.recordLog(ctx, EntityClients, d.Record.ID.String()).Debug(strings.Join(res.Warnings, "; "))
		}
		sum.Valid++
		rows = append(rows, res.Record.Row())
	}

	rows, dups := dedupe(rows, models.ClienteTable.PrimaryKey)
	sum.Skipped += dups
	return sum, s.load(ctx, models.ClienteTable, rows, &sum)
}
