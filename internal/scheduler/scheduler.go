package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/metricspush"
	obsmetrics "github.com/smallbiznis/referralledger/internal/observability/metrics"
	"github.com/smallbiznis/referralledger/internal/ratelimit"
	referraldomain "github.com/smallbiznis/referralledger/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobHoldRelease     = "hold_release"
	metricsPushTimeout = 10 * time.Second
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// HoldSweeper is the slice of the referral service the sweep drives.
type HoldSweeper interface {
	DueHolds(ctx context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	PromoteHold(ctx context.Context, id snowflake.ID) (bool, error)
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Referrals referraldomain.Service
	Locker    *ratelimit.Locker            `optional:"true"`
	Config    Config                       `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Pusher    metricspush.Pusher           `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	holds   HoldSweeper
	locker  Locker
	metrics *obsmetrics.SchedulerMetrics

	pusher   metricspush.Pusher
	gatherer prometheus.Gatherer
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Referrals == nil {
		return nil, ErrInvalidConfig
	}
	var locker Locker
	if p.Locker != nil {
		locker = p.Locker
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	s := newScheduler(p.Log, p.Clock, p.Referrals, locker, p.Config, metrics)
	s.pusher = p.Pusher
	return s, nil
}

func newScheduler(log *zap.Logger, clk clock.Clock, holds HoldSweeper, locker Locker, cfg Config, metrics *obsmetrics.SchedulerMetrics) *Scheduler {
	return &Scheduler{
		log:      log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg.withDefaults(),
		clock:    clk,
		holds:    holds,
		locker:   locker,
		metrics:  metrics,
		gatherer: prometheus.DefaultGatherer,
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a timed out sweep resumes on the next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce performs a single hold-release sweep. It is a no-op when another
// instance holds the sweep lease.
func (s *Scheduler) RunOnce(parent context.Context) error {
	release, err := s.acquireLeader(parent, jobHoldRelease)
	if err != nil {
		if errors.Is(err, obsmetrics.ErrLockUnavailable) {
			s.metrics.IncJobError(jobHoldRelease, err)
			s.log.Debug("scheduler.job.skipped", zap.String("job", jobHoldRelease), zap.Error(err))
			return nil
		}
		return err
	}
	defer release()

	err = s.runJob(parent, jobHoldRelease, s.cfg.BatchSize, s.cfg.JobTimeout, func(ctx context.Context) error {
		_, err := s.ReleaseExpiredHolds(ctx)
		return err
	})
	s.pushMetrics(parent)
	return err
}

func (s *Scheduler) pushMetrics(parent context.Context) {
	if s.pusher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, metricsPushTimeout)
	defer cancel()
	if err := s.pusher.Push(ctx, s.gatherer); err != nil {
		s.log.Warn("scheduler.metrics.push_failed", zap.Error(err))
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = s.clock.Now().Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
