package scheduler

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/referralledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const leaderLockPrefix = "referralledger:scheduler:"

// Locker hands out a single-holder lease on key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// acquireLeader takes the per-job lease when leader locking is on. It
// returns ErrLockUnavailable when another instance is sweeping. A lock
// backend failure is logged and the sweep runs unlocked; each promotion
// still checks the referral status at commit time.
func (s *Scheduler) acquireLeader(ctx context.Context, job string) (func(), error) {
	noop := func() {}
	if !s.cfg.LeaderLock || s.locker == nil {
		return noop, nil
	}

	key := leaderLockPrefix + job
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("scheduler.lock.unavailable_backend",
			zap.String("job", job),
			zap.Error(err),
		)
		return noop, nil
	}
	if !ok {
		return noop, obsmetrics.ErrLockUnavailable
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.log.Warn("scheduler.lock.release_failed",
				zap.String("job", job),
				zap.Error(err),
			)
		}
	}, nil
}
