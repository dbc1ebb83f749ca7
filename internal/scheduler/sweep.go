package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/referralledger/internal/observability/metrics"
)

// SweepSummary counts what a single hold-release pass did.
type SweepSummary struct {
	Due      int
	Promoted int
	Stale    int
	Failed   int
}

type promotion struct {
	id       snowflake.ID
	promoted bool
	err      error
}

// ReleaseExpiredHolds promotes every on_hold referral whose hold has
// lapsed. Due ids are paged by id and routed to a fixed worker by
// id % workers, so one referral is only ever handled by one goroutine.
// Each promotion commits on its own; no lock spans the sweep.
func (s *Scheduler) ReleaseExpiredHolds(ctx context.Context) (SweepSummary, error) {
	ctx, run, owner := s.ensureJobRun(ctx, jobHoldRelease, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	workers := s.cfg.Workers
	queues := make([]chan snowflake.ID, workers)
	results := make(chan promotion, s.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan snowflake.ID, s.cfg.BatchSize)
		wg.Add(1)
		go func(queue <-chan snowflake.ID) {
			defer wg.Done()
			for id := range queue {
				ok, err := s.holds.PromoteHold(ctx, id)
				results <- promotion{id: id, promoted: ok, err: err}
			}
		}(queues[i])
	}

	var summary SweepSummary
	var firstErr error
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range results {
			switch {
			case res.err != nil:
				summary.Failed++
				if firstErr == nil {
					firstErr = res.err
				}
				s.logReferralError(ctx, run, "scheduler.hold_release.failed", res.id, res.err)
			case res.promoted:
				summary.Promoted++
				run.AddProcessed(1)
			default:
				summary.Stale++
			}
		}
	}()

	due, listErr := s.enqueueDue(ctx, queues)
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	close(results)
	<-collected

	summary.Due = due
	s.metrics.SetSweepBacklog(jobHoldRelease, due)
	s.metrics.AddSweepResult(jobHoldRelease, obsmetrics.SweepOutcomePromoted, summary.Promoted)
	s.metrics.AddSweepResult(jobHoldRelease, obsmetrics.SweepOutcomeStale, summary.Stale)
	s.metrics.AddSweepResult(jobHoldRelease, obsmetrics.SweepOutcomeFailed, summary.Failed)

	var err error
	if listErr != nil {
		err = listErr
	}
	if summary.Failed > 0 {
		err = errors.Join(err, fmt.Errorf("%d of %d holds not released: %w", summary.Failed, due, firstErr))
	}
	return summary, err
}

func (s *Scheduler) enqueueDue(ctx context.Context, queues []chan snowflake.ID) (int, error) {
	var (
		after snowflake.ID
		due   int
	)
	for {
		ids, err := s.holds.DueHolds(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return due, err
		}
		for _, id := range ids {
			select {
			case queues[partition(id, len(queues))] <- id:
				due++
			case <-ctx.Done():
				return due, ctx.Err()
			}
		}
		if len(ids) < s.cfg.BatchSize {
			return due, nil
		}
		after = ids[len(ids)-1]
	}
}

func partition(id snowflake.ID, n int) int {
	return int(uint64(id) % uint64(n))
}
