package service

import (
	"context"
	"errors"
	"testing"
	"time"

	auditrepo "github.com/smallbiznis/referralledger/internal/audit/repository"
	auditsvc "github.com/smallbiznis/referralledger/internal/audit/service"
	"github.com/smallbiznis/referralledger/internal/broker/domain"
	"github.com/smallbiznis/referralledger/internal/broker/repository"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) AllowVisit(context.Context, string, string) (bool, error) {
	s.calls++
	return s.allow, s.err
}

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   domain.Service
}

func newFixture(t *testing.T, limiter domain.VisitLimiter) fixture {
	t.Helper()
	conn := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	audit := auditsvc.NewService(auditsvc.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	svc := NewService(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Repo:    repository.Provide(),
		Audit:   audit,
		Limiter: limiter,
	})
	return fixture{db: conn, clock: clk, svc: svc}
}

func TestRegisterAssignsSlugCode(t *testing.T) {
	f := newFixture(t, nil)

	broker, err := f.svc.Register(context.Background(), domain.RegisterRequest{
		Name:            "Acme Insurance Partners",
		Email:           "Owner@Acme.example",
		CommissionModel: "bounty",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, broker.Status)
	assert.Equal(t, "owner@acme.example", broker.Email)
	assert.Regexp(t, `^acme-insurance-partners-[0-9a-z]{6}$`, broker.ReferralCode)
	assert.Nil(t, broker.ApprovedAt)
}

func TestRegisterValidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, domain.RegisterRequest{Name: "", Email: "a@b.co", CommissionModel: "bounty"})
	assert.ErrorIs(t, err, domain.ErrInvalidName)
	_, err = f.svc.Register(ctx, domain.RegisterRequest{Name: "A", Email: "nope", CommissionModel: "bounty"})
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	_, err = f.svc.Register(ctx, domain.RegisterRequest{Name: "A", Email: "a@b.co", CommissionModel: "weekly"})
	assert.ErrorIs(t, err, domain.ErrInvalidCommissionModel)
}

func TestApproveLocksCommissionModel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	broker, err := f.svc.Register(ctx, domain.RegisterRequest{Name: "B", Email: "b@b.co", CommissionModel: "bounty"})
	require.NoError(t, err)

	approved, err := f.svc.Approve(ctx, broker.ID, domain.ApproveRequest{CommissionModel: "recurring"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	assert.Equal(t, domain.CommissionModelRecurring, approved.CommissionModel)
	require.NotNil(t, approved.ApprovedAt)
	assert.True(t, approved.ApprovedAt.Equal(f.clock.Now()))

	f.clock.Advance(time.Hour)
	again, err := f.svc.Approve(ctx, broker.ID, domain.ApproveRequest{})
	require.NoError(t, err)
	assert.True(t, again.ApprovedAt.Equal(*approved.ApprovedAt), "re-approval must not move approved_at")

	_, err = f.svc.Approve(ctx, broker.ID, domain.ApproveRequest{CommissionModel: "bounty"})
	assert.ErrorIs(t, err, domain.ErrModelImmutable)

	stored, err := f.svc.Get(ctx, broker.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommissionModelRecurring, stored.CommissionModel)
}

func TestDeniedBrokerCannotBeApproved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	broker, err := f.svc.Register(ctx, domain.RegisterRequest{Name: "C", Email: "c@c.co", CommissionModel: "bounty"})
	require.NoError(t, err)

	denied, err := f.svc.Deny(ctx, broker.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDenied, denied.Status)

	_, err = f.svc.Approve(ctx, broker.ID, domain.ApproveRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidBrokerStatus)
}

func TestSetPayoutDestination(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	broker, err := f.svc.Register(ctx, domain.RegisterRequest{Name: "D", Email: "d@d.co", CommissionModel: "bounty"})
	require.NoError(t, err)

	_, err = f.svc.SetPayoutDestination(ctx, broker.ID, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidPayoutDestination)

	updated, err := f.svc.SetPayoutDestination(ctx, broker.ID, "acct_1Nabcdef")
	require.NoError(t, err)
	assert.True(t, updated.HasPayoutDestination())

	_, err = f.svc.SetPayoutDestination(ctx, 12345, "acct_x")
	assert.ErrorIs(t, err, domain.ErrBrokerNotFound)
}

func TestRecordLinkVisit(t *testing.T) {
	limiter := &stubLimiter{allow: true}
	f := newFixture(t, limiter)
	ctx := context.Background()

	broker, err := f.svc.Register(ctx, domain.RegisterRequest{Name: "E", Email: "e@e.co", CommissionModel: "bounty"})
	require.NoError(t, err)

	_, err = f.svc.RecordLinkVisit(ctx, domain.LinkVisitRequest{ReferralCode: broker.ReferralCode, VisitorIP: "10.0.0.1"})
	assert.ErrorIs(t, err, domain.ErrBrokerNotFound, "pending brokers have no live link")

	_, err = f.svc.Approve(ctx, broker.ID, domain.ApproveRequest{})
	require.NoError(t, err)

	_, err = f.svc.RecordLinkVisit(ctx, domain.LinkVisitRequest{ReferralCode: broker.ReferralCode, VisitorIP: "10.0.0.1", UserAgent: "curl"})
	require.NoError(t, err)

	limiter.allow = false
	_, err = f.svc.RecordLinkVisit(ctx, domain.LinkVisitRequest{ReferralCode: broker.ReferralCode, VisitorIP: "10.0.0.1"})
	assert.ErrorIs(t, err, domain.ErrLinkVisitRateLimited)

	limiter.err = errors.New("redis down")
	_, err = f.svc.RecordLinkVisit(ctx, domain.LinkVisitRequest{ReferralCode: broker.ReferralCode, VisitorIP: "10.0.0.1"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM broker_link_visits WHERE broker_id = ?`, broker.ID).Scan(&count).Error)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 3, limiter.calls)
}
