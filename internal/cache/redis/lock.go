package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callSpread/internal/keeper"
	"callSpread/internal/model"
)

// Both scripts act only while the key still holds the caller's token.
var (
	renewLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
	dropLease = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
)

// LeaseManager hands out keeper leases stored under "lease:<key>". A lease is
// renewed every third of its ttl until released, so a batch stuck on a slow
// oracle read does not let a second keeper in.
type LeaseManager struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewLeaseManager(c *Client, logger *zap.Logger) *LeaseManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeaseManager{rdb: c.rdb, logger: logger}
}

// Acquire takes key for ttl or returns model.ErrLockHeld. The release func is
// idempotent and does not use ctx, so a cancelled keeper still frees the lease.
func (m *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl < 3*time.Millisecond {
		return nil, fmt.Errorf("lease %s: ttl %s too short", key, ttl)
	}
	token := uuid.NewString()
	k := "lease:" + key

	ok, err := m.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("lease %s: %w", key, model.ErrLockHeld)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go m.renew(k, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			dropCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := dropLease.Run(dropCtx, m.rdb, []string{k}, token).Err(); err != nil {
				m.logger.Warn("release keeper lease", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (m *LeaseManager) renew(k, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			kept, err := renewLease.Run(ctx, m.rdb, []string{k}, token, ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err != nil:
				m.logger.Warn("renew keeper lease", zap.String("key", k), zap.Error(err))
			case kept == 0:
				m.logger.Error("keeper lease lost", zap.String("key", k))
				return
			}
		}
	}
}

var _ keeper.Locker = (*LeaseManager)(nil)
