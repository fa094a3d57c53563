package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrSyncInProgress is returned when another run holds the lock for the
// same entity.
var ErrSyncInProgress = errors.New("workflow: sync already in progress")

// Locker runs fn while holding a named lock. Contention fails fast with
// ErrSyncInProgress.
type Locker interface {
	WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

func lockName(entity Entity) string {
	return fmt.Sprintf("etl:sync:%s", entity)
}

// RedisLocker serializes runs across instances through bsm/redislock. The
// lease is refreshed at half its TTL while fn runs.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger logrus.FieldLogger
}

func NewRedisLocker(client *redislock.Client, ttl time.Duration, logger logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}
}

func (l *RedisLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	lock, err := l.client.Obtain(ctx, name, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrSyncInProgress
	}
	if err != nil {
		return fmt.Errorf("obtain lock %s: %w", name, err)
	}
	defer func() {
		// release on a fresh context so a cancelled run still frees the key
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			l.logger.WithError(rerr).WithField("lock", name).Warn("failed to release sync lock")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := lock.Refresh(runCtx, l.ttl, nil); err != nil && runCtx.Err() == nil {
					l.logger.WithError(err).WithField("lock", name).Warn("failed to refresh sync lock")
				}
			}
		}
	}()
	return fn(runCtx)
}

// MySQLLocker uses GET_LOCK advisory locks. GET_LOCK is connection-scoped,
// so the lock is taken and released on one pinned connection.
type MySQLLocker struct {
	db *gorm.DB
}

func NewMySQLLocker(db *gorm.DB) *MySQLLocker {
	return &MySQLLocker{db: db}
}

func (l *MySQLLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var ok *int
		if err := conn.Raw("SELECT GET_LOCK(?, 0)", name).Scan(&ok).Error; err != nil {
			return fmt.Errorf("get lock %s: %w", name, err)
		}
		if ok == nil || *ok != 1 {
			return ErrSyncInProgress
		}
		defer func() {
			var released *int
			_ = conn.WithContext(context.WithoutCancel(ctx)).Raw("SELECT RELEASE_LOCK(?)", name).Scan(&released).Error
		}()
		return fn(ctx)
	})
}

// LocalLocker only serializes runs inside this process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]bool{}}
}

func (l *LocalLocker) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return ErrSyncInProgress
	}
	l.held[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()
	return fn(ctx)
}

// withLocks nests WithLock over names in order.
func withLocks(ctx context.Context, locker Locker, names []string, fn func(ctx context.Context) error) error {
	if len(names) == 0 {
		return fn(ctx)
	}
	return locker.WithLock(ctx, names[0], func(ctx context.Context) error {
		return withLocks(ctx, locker, names[1:], fn)
	})
}
