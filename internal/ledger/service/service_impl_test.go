package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	brokerrepo "github.com/smallbiznis/referralledger/internal/broker/repository"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	ledgerdomain "github.com/smallbiznis/referralledger/internal/ledger/domain"
	"github.com/smallbiznis/referralledger/internal/ledger/repository"
	"github.com/smallbiznis/referralledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ledgerNow = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   ledgerdomain.Service
	seq   int64
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	conn := testutil.OpenDB(t)
	clk := clock.NewFakeClock(ledgerNow)
	svc := NewService(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   clk,
		Policy:  config.StaticPolicy(config.DefaultCommissionPolicy()),
		Repo:    repository.Provide(),
		Brokers: brokerrepo.Provide(),
	})
	return &ledgerFixture{db: conn, clock: clk, svc: svc, seq: 1000}
}

func (f *ledgerFixture) broker(t *testing.T, id snowflake.ID, status brokerdomain.Status, approvedAt *time.Time, destination string) {
	t.Helper()
	b := &brokerdomain.Broker{
		ID:              id,
		Name:            "Broker",
		Email:           "b@brokers.test",
		ReferralCode:    id.String(),
		CommissionModel: brokerdomain.CommissionModelBounty,
		Status:          status,
		ApprovedAt:      approvedAt,
		PaidTotal:       12_000,
		CreatedAt:       ledgerNow.AddDate(-1, 0, 0),
		UpdatedAt:       ledgerNow.AddDate(-1, 0, 0),
	}
	if destination != "" {
		b.PayoutDestination = &destination
	}
	require.NoError(t, brokerrepo.Provide().Insert(context.Background(), f.db, b))
}

func (f *ledgerFixture) referral(t *testing.T, brokerID snowflake.ID, status string, amount int64, holdUntil *time.Time) {
	t.Helper()
	f.seq++
	require.NoError(t, f.db.Exec(
		`INSERT INTO referrals (id, broker_id, attribution_id, customer_id, payout_type, amount, currency,
		  status, risk_score, hold_until, version, created_at, updated_at)
		 VALUES (?, ?, 1, ?, 'bounty', ?, 'usd', ?, 0, ?, 1, ?, ?)`,
		f.seq, brokerID, "cus_"+snowflake.ID(f.seq).String(), amount, status, holdUntil, ledgerNow, ledgerNow,
	).Error)
}

func ptr(t time.Time) *time.Time { return &t }

func TestPayableBalanceIncludesUnsweptHolds(t *testing.T) {
	f := newLedgerFixture(t)
	f.broker(t, 1, brokerdomain.StatusApproved, ptr(ledgerNow.AddDate(0, -6, 0)), "acct_1")

	f.referral(t, 1, "ready_to_pay", 50_000, nil)
	f.referral(t, 1, "on_hold", 5_000, ptr(ledgerNow.Add(-time.Minute)))
	f.referral(t, 1, "on_hold", 5_000, ptr(ledgerNow))
	f.referral(t, 1, "on_hold", 7_000, ptr(ledgerNow.Add(time.Hour)))
	f.referral(t, 1, "paid", 50_000, nil)
	f.referral(t, 1, "flagged_for_review", 50_000, nil)
	f.referral(t, 1, "past_due", 5_000, ptr(ledgerNow.Add(-time.Hour)))

	balance, err := f.svc.PayableBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), balance)

	f.clock.Advance(2 * time.Hour)
	balance, err = f.svc.PayableBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(67_000), balance)
}

func TestPaymentReadiness(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.broker(t, 1, brokerdomain.StatusApproved, ptr(ledgerNow.AddDate(0, 0, -61)), "acct_1")
	f.referral(t, 1, "ready_to_pay", 50_000, nil)
	ready, err := f.svc.PaymentReadiness(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ReadinessReady, ready.Readiness)
	assert.Empty(t, ready.Reasons)

	f.broker(t, 2, brokerdomain.StatusApproved, ptr(ledgerNow.AddDate(0, 0, -10)), "acct_2")
	f.referral(t, 2, "ready_to_pay", 50_000, nil)
	young, err := f.svc.PaymentReadiness(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ReadinessNotReady, young.Readiness)
	assert.Equal(t, []string{ledgerdomain.ReasonActivationPending}, young.Reasons)
	require.NotNil(t, young.EligibleAt)
	assert.WithinDuration(t, ledgerNow.AddDate(0, 0, 50), *young.EligibleAt, time.Second)

	f.broker(t, 3, brokerdomain.StatusPending, nil, "")
	pending, err := f.svc.PaymentReadiness(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.ReadinessNotReady, pending.Readiness)
	assert.Equal(t, []string{
		ledgerdomain.ReasonBrokerNotApproved,
		ledgerdomain.ReasonNoPayableBalance,
		ledgerdomain.ReasonNoPayoutDestination,
	}, pending.Reasons)

	_, err = f.svc.PaymentReadiness(ctx, 404)
	assert.ErrorIs(t, err, brokerdomain.ErrBrokerNotFound)
}

func TestSummaryDoesNotWrite(t *testing.T) {
	f := newLedgerFixture(t)
	f.broker(t, 1, brokerdomain.StatusApproved, ptr(ledgerNow.AddDate(0, -6, 0)), "acct_1")
	f.referral(t, 1, "ready_to_pay", 50_000, nil)
	f.referral(t, 1, "on_hold", 5_000, ptr(ledgerNow.Add(-time.Hour)))
	f.referral(t, 1, "on_hold", 5_000, ptr(ledgerNow.Add(time.Hour)))

	summary, err := f.svc.Summary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(55_000), summary.PayableBalance)
	assert.Equal(t, int64(12_000), summary.PaidTotal)
	assert.Equal(t, ledgerdomain.ReadinessReady, summary.Readiness.Readiness)
	assert.Equal(t, []ledgerdomain.StatusTotal{
		{Status: "on_hold", Count: 2, Amount: 10_000},
		{Status: "ready_to_pay", Count: 1, Amount: 50_000},
	}, summary.ByStatus)

	var stillOnHold int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM referrals WHERE status = 'on_hold'`).Scan(&stillOnHold).Error)
	assert.Equal(t, int64(2), stillOnHold)
}

func TestStatementListsNewestReferralsFirst(t *testing.T) {
	f := newLedgerFixture(t)
	f.broker(t, 1, brokerdomain.StatusApproved, ptr(ledgerNow.AddDate(0, -3, 0)), "acct_1")
	f.referral(t, 1, "paid", 25_000, nil)
	f.referral(t, 1, "ready_to_pay", 25_000, nil)
	f.referral(t, 1, "on_hold", 10_000, ptr(ledgerNow.AddDate(0, 0, 30)))

	stmt, err := f.svc.Statement(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "Broker", stmt.BrokerName)
	assert.Equal(t, "1", stmt.ReferralCode)
	assert.Equal(t, "usd", stmt.Currency)
	assert.False(t, stmt.Truncated)
	assert.Equal(t, int64(25_000), stmt.Summary.PayableBalance)

	require.Len(t, stmt.Lines, 3)
	assert.Equal(t, snowflake.ID(1003), stmt.Lines[0].ReferralID)
	assert.Equal(t, "on_hold", stmt.Lines[0].Status)
	assert.Equal(t, snowflake.ID(1001), stmt.Lines[2].ReferralID)
	assert.Equal(t, "bounty", stmt.Lines[2].PayoutType)
}

func TestStatementForBrokerWithoutReferrals(t *testing.T) {
	f := newLedgerFixture(t)
	f.broker(t, 2, brokerdomain.StatusPending, nil, "")

	stmt, err := f.svc.Statement(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, stmt.Lines)
	assert.NotNil(t, stmt.Lines)
	assert.Empty(t, stmt.Currency)
}

func TestStatementUnknownBroker(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.svc.Statement(context.Background(), 404)
	assert.ErrorIs(t, err, brokerdomain.ErrBrokerNotFound)
}
