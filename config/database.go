package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// MySQLDSN renders the go-sql-driver DSN. A DB_HOST of "/cloudsql/<CONNECTION_NAME>"
// switches to the unix socket exposed by the Cloud SQL proxy.
func MySQLDSN(s MySQLSettings) string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", s.Host, s.Port)
	if strings.HasPrefix(s.Host, "/cloudsql/") {
		network = "unix"
		address = s.Host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=UTC",
		s.User,
		s.Password,
		network,
		address,
		s.Name,
	)
}

// ConnectDatabaseWithRetry opens the MySQL destination, retrying with
// exponential backoff until it succeeds or ctx is done.
func ConnectDatabaseWithRetry(ctx context.Context, s MySQLSettings, logg *logrus.Logger) (*gorm.DB, error) {
	dsn := MySQLDSN(s)

	var attempt int
	for {
		attempt++
		db, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			if sqlDB, derr := db.DB(); derr == nil && sqlDB != nil {
				if s.MaxOpenConns > 0 {
					sqlDB.SetMaxOpenConns(s.MaxOpenConns)
				}
				if s.MaxIdleConns >= 0 {
					sqlDB.SetMaxIdleConns(s.MaxIdleConns)
				}
				if s.ConnMaxLifetime > 0 {
					sqlDB.SetConnMaxLifetime(s.ConnMaxLifetime)
				}
				if s.ConnMaxIdleTime > 0 {
					sqlDB.SetConnMaxIdleTime(s.ConnMaxIdleTime)
				}
			}

			if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
				logg.WithError(pluginErr).Warn("db connected but failed to install otelgorm plugin")
			}
			logg.WithField("attempt", attempt).Info("connected to database")
			return db, nil
		}

		sleep := retryDelay(attempt)
		logg.WithFields(logrus.Fields{
			"attempt": attempt,
			"retryIn": sleep.String(),
		}).WithError(err).Warn("failed to connect database")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect database: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}

// Table names come from models.Table, so gorm must not pluralize.
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: true,
		TablePrefix:   "",
	}
}
