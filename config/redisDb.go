package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedisWithRetry connects to REDIS_ADDRESS and returns the client with
// a lock client bound to it.
func ConnectRedisWithRetry(ctx context.Context, addr string, logg *logrus.Logger) (*redis.Client, *redislock.Client, error) {
	if addr == "" {
		addr = "localhost:6379"
		logg.Warnf("REDIS_ADDRESS not set; defaulting to %s", addr)
	}

	var attempt int
	for {
		attempt++
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: "",
			DB:       0,
			PoolSize: 10,
		})
		err := rdb.Ping(ctx).Err()
		if err == nil {
			logg.WithFields(logrus.Fields{"attempt": attempt, "addr": addr}).Info("connected to redis")
			return rdb, redislock.New(rdb), nil
		}
		_ = rdb.Close()

		sleep := retryDelay(attempt)
		logg.WithFields(logrus.Fields{
			"attempt": attempt,
			"addr":    addr,
			"retryIn": sleep.String(),
		}).WithError(err).Warn("failed to connect redis")
		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("connect redis: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
}
