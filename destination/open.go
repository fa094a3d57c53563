package destination

import (
	"context"
	"fmt"

	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/sirupsen/logrus"
)

// Open connects the destination selected by DESTINATION. With AUTO_MIGRATE
// set, missing tables are created before the first sync.
func Open(ctx context.Context, s *config.Settings, logg *logrus.Logger) (Destination, error) {
	var (
		dest Destination
		err  error
	)
	switch s.Destination {
	case config.DestinationBigQuery:
		client, cerr := config.NewBigQueryClient(ctx, s.BigQuery)
		if cerr != nil {
			return nil, fmt.Errorf("bigquery client: %w", cerr)
		}
		dest = NewBigQuery(client, s.BigQuery.Dataset)
	case config.DestinationMySQL:
		db, cerr := config.ConnectDatabaseWithRetry(ctx, s.MySQL, logg)
		if cerr != nil {
			return nil, cerr
		}
		dest = NewMySQL(db)
	case config.DestinationPostgres:
		pool, cerr := config.ConnectPostgres(ctx, s.DatabaseURL, logg)
		if cerr != nil {
			return nil, cerr
		}
		dest = NewPostgres(pool)
	case config.DestinationSQLite:
		db, cerr := config.OpenSQLite(ctx, s.SQLitePath)
		if cerr != nil {
			return nil, cerr
		}
		dest = NewSQLite(db)
	case config.DestinationMemory:
		dest = NewMemory()
	default:
		return nil, fmt.Errorf("unknown destination %q", s.Destination)
	}

	if b, ok := dest.(Bootstrapper); ok && (s.AutoMigrate || s.Destination == config.DestinationSQLite) {
		if err = b.EnsureTables(ctx); err != nil {
			_ = dest.Close()
			return nil, fmt.Errorf("ensure tables on %s: %w", dest.Name(), err)
		}
	}
	logg.WithField("destination", dest.Name()).Info("destination ready")
	return dest, nil
}
