package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/referralledger/internal/clock"
	obsmetrics "github.com/smallbiznis/referralledger/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeHolds struct {
	mu       sync.Mutex
	due      map[snowflake.ID]bool
	stale    map[snowflake.ID]bool
	fail     map[snowflake.ID]error
	promoted map[snowflake.ID]int
	listErr  error
	pages    int
}

func newFakeHolds(ids ...snowflake.ID) *fakeHolds {
	f := &fakeHolds{
		due:      map[snowflake.ID]bool{},
		stale:    map[snowflake.ID]bool{},
		fail:     map[snowflake.ID]error{},
		promoted: map[snowflake.ID]int{},
	}
	for _, id := range ids {
		f.due[id] = true
	}
	return f
}

func (f *fakeHolds) DueHolds(_ context.Context, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []snowflake.ID
	for id, due := range f.due {
		if due && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeHolds) PromoteHold(_ context.Context, id snowflake.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return false, err
	}
	if f.stale[id] || !f.due[id] {
		return false, nil
	}
	f.due[id] = false
	f.promoted[id]++
	return true, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	released []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.held = true
	return "token-" + key, true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released = append(l.released, key+"="+token)
	return nil
}

func newTestScheduler(t *testing.T, holds HoldSweeper, locker Locker, cfg Config) (*Scheduler, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewSchedulerMetricsForTest(registry)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newScheduler(zap.NewNop(), clk, holds, locker, cfg, metrics)
	s.gatherer = registry
	return s, registry
}

type fakePusher struct {
	pushes int
	runs   float64
	err    error
}

func (p *fakePusher) Push(_ context.Context, gatherer prometheus.Gatherer) error {
	p.pushes++
	families, err := gatherer.Gather()
	if err != nil {
		return err
	}
	for _, family := range families {
		if family.GetName() == "referralledger_scheduler_job_runs_total" {
			for _, metric := range family.GetMetric() {
				p.runs += metric.GetCounter().GetValue()
			}
		}
	}
	return p.err
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric.GetLabel(), labels) {
				return metricValue(metric)
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	for k, v := range want {
		found := false
		for _, pair := range pairs {
			if pair.GetName() == k && pair.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func metricValue(m *dto.Metric) float64 {
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue()
	}
	return 0
}

func ids(from, to int64) []snowflake.ID {
	out := make([]snowflake.ID, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, snowflake.ID(i))
	}
	return out
}

func TestReleaseExpiredHoldsPromotesEveryDueHoldOnce(t *testing.T) {
	holds := newFakeHolds(ids(1, 23)...)
	s, registry := newTestScheduler(t, holds, nil, Config{BatchSize: 5, Workers: 3})

	summary, err := s.ReleaseExpiredHolds(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepSummary{Due: 23, Promoted: 23}, summary)
	assert.Len(t, holds.promoted, 23)
	for id, n := range holds.promoted {
		assert.Equalf(t, 1, n, "referral %d promoted %d times", id, n)
	}
	// 23 ids at 5 per page is 5 pages
	assert.Equal(t, 5, holds.pages)

	promoted := getCounterValue(t, registry, "referralledger_sweep_referrals_total", map[string]string{
		"job": jobHoldRelease, "outcome": obsmetrics.SweepOutcomePromoted,
	})
	assert.Equal(t, float64(23), promoted)
	backlog := getCounterValue(t, registry, "referralledger_sweep_due_referrals", map[string]string{"job": jobHoldRelease})
	assert.Equal(t, float64(23), backlog)
}

func TestReleaseExpiredHoldsCountsStaleAndFailed(t *testing.T) {
	holds := newFakeHolds(ids(1, 6)...)
	holds.stale[2] = true
	holds.fail[4] = errors.New("db gone")
	s, _ := newTestScheduler(t, holds, nil, Config{BatchSize: 10, Workers: 2})

	summary, err := s.ReleaseExpiredHolds(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db gone")

	assert.Equal(t, SweepSummary{Due: 6, Promoted: 4, Stale: 1, Failed: 1}, summary)
	assert.NotContains(t, holds.promoted, snowflake.ID(2))
	assert.NotContains(t, holds.promoted, snowflake.ID(4))
}

func TestReleaseExpiredHoldsNothingDue(t *testing.T) {
	holds := newFakeHolds()
	s, _ := newTestScheduler(t, holds, nil, Config{})

	summary, err := s.ReleaseExpiredHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepSummary{}, summary)
	assert.Equal(t, 1, holds.pages)
}

func TestPartitionIsStable(t *testing.T) {
	for _, id := range ids(1, 50) {
		p := partition(id, 4)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 4)
		assert.Equal(t, p, partition(id, 4))
	}
	assert.Equal(t, 0, partition(snowflake.ID(8), 4))
	assert.Equal(t, 3, partition(snowflake.ID(7), 4))
}

func TestRunOnceSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	holds := newFakeHolds(ids(1, 3)...)
	locker := &fakeLocker{held: true}
	s, registry := newTestScheduler(t, holds, locker, Config{LeaderLock: true})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, holds.pages)
	assert.Empty(t, holds.promoted)

	skipped := getCounterValue(t, registry, "referralledger_scheduler_job_errors_total", map[string]string{
		"job": jobHoldRelease, "reason": obsmetrics.SchedulerJobReasonLockUnavailable,
	})
	assert.Equal(t, float64(1), skipped)
}

func TestRunOnceTakesAndReleasesLease(t *testing.T) {
	holds := newFakeHolds(ids(1, 3)...)
	locker := &fakeLocker{}
	s, registry := newTestScheduler(t, holds, locker, Config{LeaderLock: true})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, holds.promoted, 3)
	assert.False(t, locker.held)
	assert.Equal(t, []string{"referralledger:scheduler:hold_release=token-referralledger:scheduler:hold_release"}, locker.released)

	runs := getCounterValue(t, registry, "referralledger_scheduler_job_runs_total", map[string]string{"job": jobHoldRelease})
	assert.Equal(t, float64(1), runs)
}

func TestRunOncePushesMetricsAfterSweep(t *testing.T) {
	holds := newFakeHolds(ids(1, 2)...)
	s, _ := newTestScheduler(t, holds, nil, Config{})
	pusher := &fakePusher{}
	s.pusher = pusher

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, pusher.pushes)
	assert.Equal(t, float64(1), pusher.runs)
}

func TestRunOnceIgnoresPushFailures(t *testing.T) {
	holds := newFakeHolds(ids(1, 2)...)
	s, _ := newTestScheduler(t, holds, nil, Config{})
	s.pusher = &fakePusher{err: errors.New("remote write returned 503 Service Unavailable")}

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, holds.promoted, 2)
}

func TestRunOnceSkippedSweepDoesNotPush(t *testing.T) {
	holds := newFakeHolds(ids(1, 2)...)
	s, _ := newTestScheduler(t, holds, &fakeLocker{held: true}, Config{LeaderLock: true})
	pusher := &fakePusher{}
	s.pusher = pusher

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Zero(t, pusher.pushes)
}

func TestRunOnceSweepsWhenLockBackendFails(t *testing.T) {
	holds := newFakeHolds(ids(1, 2)...)
	locker := &fakeLocker{err: errors.New("redis: connection refused")}
	s, _ := newTestScheduler(t, holds, locker, Config{LeaderLock: true})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, holds.promoted, 2)
}

func TestRunOnceWrapsSweepErrors(t *testing.T) {
	holds := newFakeHolds()
	holds.listErr = errors.New("relation does not exist")
	s, registry := newTestScheduler(t, holds, nil, Config{})

	err := s.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected sweep error")
	}
	assert.Contains(t, err.Error(), jobHoldRelease+": ")

	errs := getCounterValue(t, registry, "referralledger_scheduler_job_errors_total", map[string]string{
		"job": jobHoldRelease, "reason": obsmetrics.SchedulerJobReasonUnknown,
	})
	assert.Equal(t, float64(1), errs)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	s, registry := newTestScheduler(t, newFakeHolds(), nil, Config{})

	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := getCounterValue(t, registry, "referralledger_scheduler_job_timeouts_total", map[string]string{"job": "timeout_job"}); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}
	errorLabels := map[string]string{
		"job":    "timeout_job",
		"reason": obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "referralledger_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	holds := newFakeHolds(ids(1, 2)...)
	s, _ := newTestScheduler(t, holds, nil, Config{RunInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunForever(ctx)
	}()

	require.Eventually(t, func() bool {
		holds.mu.Lock()
		defer holds.mu.Unlock()
		return holds.pages >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunForever did not return after cancel")
	}
	assert.Len(t, holds.promoted, 2)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Hour, cfg.RunInterval)
	assert.Equal(t, 200, cfg.BatchSize)
	assert.Equal(t, 4, cfg.Workers)
	assert.Greater(t, cfg.LockTTL, cfg.JobTimeout)
}
