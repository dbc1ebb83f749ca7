package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "lock_unavailable", err: fmt.Errorf("sweep: %w", ErrLockUnavailable), want: SchedulerJobReasonLockUnavailable},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddSweepResult(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewSchedulerMetricsForTest(registry)

	metrics.AddSweepResult("hold_release", SweepOutcomePromoted, 3)
	metrics.AddSweepResult("hold_release", SweepOutcomeStale, 0)

	got := testutil.ToFloat64(metrics.sweepResults.WithLabelValues("hold_release", SweepOutcomePromoted))
	if got != 3 {
		t.Fatalf("expected promoted count 3, got %v", got)
	}
	if n := testutil.CollectAndCount(metrics.sweepResults); n != 1 {
		t.Fatalf("expected a single series, got %d", n)
	}
}
