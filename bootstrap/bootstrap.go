// Package bootstrap assembles the sync service from settings. Both binaries
// share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/destination"
	"github.com/imperiopatitas/bsale_etl/mirror"
	"github.com/imperiopatitas/bsale_etl/upsert"
	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Options struct {
	// Publisher connects Pub/Sub so triggers can be queued.
	Publisher bool
	// DryRun forces the in-memory destination.
	DryRun bool
}

type Runtime struct {
	Settings    *config.Settings
	Service     *workflow.Service
	Destination destination.Destination
	Publisher   *config.SyncPublisher

	closers []func() error
}

func Open(ctx context.Context, s *config.Settings, logg *logrus.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{Settings: s}
	if err := rt.open(ctx, s, logg, opts); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, s *config.Settings, logg *logrus.Logger, opts Options) error {
	client, err := bsale.NewClient(bsale.ClientOptions{
		Token:     s.Bsale.Token,
		BaseURL:   s.Bsale.BaseURL,
		PageSize:  s.Bsale.PageSize,
		PageDelay: s.Bsale.PageDelay,
		Timeout:   s.Bsale.Timeout,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	if opts.DryRun {
		rt.Destination = destination.NewMemory()
	} else {
		rt.Destination, err = destination.Open(ctx, s, logg)
		if err != nil {
			return err
		}
	}
	rt.closers = append(rt.closers, rt.Destination.Close)

	locker, err := rt.openLocker(ctx, s, logg)
	if err != nil {
		return err
	}

	sinks, err := mirror.Open(ctx, s.Mirror, logg)
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, sinks.Close)

	engine := upsert.NewEngine(rt.Destination, upsert.Options{
		BatchSize:     s.BatchSize,
		MergeAttempts: s.MergeAttempts,
		Logger:        logg,
	})
	rt.Service = workflow.NewService(workflow.Dependencies{
		Source:      client,
		Destination: rt.Destination,
		Engine:      engine,
		Locker:      locker,
		Mirrors:     sinks.Mirrors,
		Archiver:    sinks.Archiver,
		Logger:      logg,
	}, workflow.OptionsFromSettings(s))

	if opts.Publisher && s.PubSub.ProjectID != "" && s.PubSub.Topic != "" {
		ps, perr := config.NewPubSubClient(ctx, s.PubSub, logg)
		if perr != nil {
			return perr
		}
		rt.closers = append(rt.closers, ps.Close)
		topic, perr := config.CreateTopicIfNotExists(ctx, ps, s.PubSub.Topic)
		if perr != nil {
			return perr
		}
		rt.Publisher = config.NewSyncPublisher(topic)
		rt.closers = append(rt.closers, func() error { rt.Publisher.Stop(); return nil })
	}
	return nil
}

func (rt *Runtime) openLocker(ctx context.Context, s *config.Settings, logg *logrus.Logger) (workflow.Locker, error) {
	switch s.LockBackend {
	case config.LockRedis:
		rdb, locks, err := config.ConnectRedisWithRetry(ctx, s.RedisAddress, logg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rdb.Close)
		return workflow.NewRedisLocker(locks, s.LockTTL, logg), nil
	case config.LockMySQL:
		var db *gorm.DB
		if m, ok := rt.Destination.(*destination.MySQL); ok {
			db = m.DB()
		} else {
			var err error
			db, err = config.ConnectDatabaseWithRetry(ctx, s.MySQL, logg)
			if err != nil {
				return nil, err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			rt.closers = append(rt.closers, sqlDB.Close)
		}
		return workflow.NewMySQLLocker(db), nil
	case config.LockLocal, "":
		return workflow.NewLocalLocker(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", s.LockBackend)
	}
}

// Close releases every connection in reverse order of opening.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
