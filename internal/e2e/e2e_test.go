package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/referralledger/internal/audit"
	"github.com/smallbiznis/referralledger/internal/authorization"
	"github.com/smallbiznis/referralledger/internal/broker"
	"github.com/smallbiznis/referralledger/internal/clock"
	"github.com/smallbiznis/referralledger/internal/config"
	"github.com/smallbiznis/referralledger/internal/ledger"
	"github.com/smallbiznis/referralledger/internal/metricspush"
	"github.com/smallbiznis/referralledger/internal/observability"
	"github.com/smallbiznis/referralledger/internal/payment"
	"github.com/smallbiznis/referralledger/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	"github.com/smallbiznis/referralledger/internal/ratelimit"
	"github.com/smallbiznis/referralledger/internal/referral"
	"github.com/smallbiznis/referralledger/internal/risk"
	"github.com/smallbiznis/referralledger/internal/scheduler"
	"github.com/smallbiznis/referralledger/internal/server"
	"github.com/smallbiznis/referralledger/internal/testutil"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const (
	adminToken    = "e2e-admin-token"
	auditorToken  = "e2e-auditor-token"
	webhookSecret = "whsec_e2e"
)

var startAt = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	app       *fx.App
	db        *gorm.DB
	clock     *clock.FakeClock
	platform  *fakePlatform
	scheduler *scheduler.Scheduler
	httpSrv   *httptest.Server
	baseURL   string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resetDatabase(t)

	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_BountyReferralLifecycle(t *testing.T) {
	resetDatabase(t)

	b := createApprovedBroker(t, "bounty")
	setPayoutDestination(t, b.ID, "acct_1Ne2ebroker")

	resp, body := postWebhook(t, subscriptionCreated("evt_sub_1", "cus_e2e_1", b.ReferralCode))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for subscription webhook, got %d: %s", resp.StatusCode, string(body))
	}
	if outcome := decodeWebhook(t, body).Outcome; outcome != string(paymentdomain.OutcomeApplied) {
		t.Fatalf("expected outcome applied, got %q", outcome)
	}

	// A redelivery is acknowledged without creating anything.
	resp, body = postWebhook(t, subscriptionCreated("evt_sub_1", "cus_e2e_1", b.ReferralCode))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for replay, got %d: %s", resp.StatusCode, string(body))
	}
	if outcome := decodeWebhook(t, body).Outcome; outcome != string(paymentdomain.OutcomeAlreadyProcessed) {
		t.Fatalf("expected outcome already_processed, got %q", outcome)
	}

	refs := listReferrals(t, b.ID)
	if len(refs) != 1 {
		t.Fatalf("expected 1 referral, got %d", len(refs))
	}
	ref := refs[0]
	if ref.Status != "on_hold" || ref.PayoutType != "bounty" {
		t.Fatalf("expected on_hold bounty referral, got %s %s", ref.Status, ref.PayoutType)
	}

	// Held commissions cannot be paid.
	resp, body = adminRequest(t, http.MethodPost, "/admin/referrals/"+ref.ID+"/mark-paid", nil, adminToken)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 for held referral, got %d: %s", resp.StatusCode, string(body))
	}

	env.clock.Advance(61 * 24 * time.Hour)
	if err := env.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run hold sweep: %v", err)
	}
	if got := getReferral(t, ref.ID).Status; got != "ready_to_pay" {
		t.Fatalf("expected ready_to_pay after the hold, got %s", got)
	}

	summary := getLedger(t, b.ID, adminToken)
	if summary.PayableBalance != ref.Amount {
		t.Fatalf("expected payable balance %d, got %d", ref.Amount, summary.PayableBalance)
	}

	resp, body = adminRequest(t, http.MethodPost, "/admin/referrals/"+ref.ID+"/mark-paid", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for mark-paid, got %d: %s", resp.StatusCode, string(body))
	}
	transfers := env.platform.Transfers()
	if len(transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(transfers))
	}
	if transfers[0].Destination != "acct_1Ne2ebroker" || transfers[0].Amount != ref.Amount {
		t.Fatalf("unexpected transfer %+v", transfers[0])
	}

	paid := getReferral(t, ref.ID)
	if paid.Status != "paid" {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
	summary = getLedger(t, b.ID, adminToken)
	if summary.PaidTotal != ref.Amount || summary.PayableBalance != 0 {
		t.Fatalf("expected paid total %d and no balance, got %d / %d", ref.Amount, summary.PaidTotal, summary.PayableBalance)
	}

	// A refund inside the clawback window reverses the paid commission.
	env.clock.Advance(10 * 24 * time.Hour)
	resp, body = postWebhook(t, chargeRefunded("evt_refund_1", "cus_e2e_1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for refund webhook, got %d: %s", resp.StatusCode, string(body))
	}
	if got := getReferral(t, ref.ID).Status; got != "clawed_back" {
		t.Fatalf("expected clawed_back after refund, got %s", got)
	}
}

func TestE2E_WebhookRejectsBadSignature(t *testing.T) {
	resetDatabase(t)

	payload := subscriptionCreated("evt_forged", "cus_forged", "NOPE")
	req, err := http.NewRequest(http.MethodPost, env.baseURL+"/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Stripe-Signature", stripe.SignatureHeader("whsec_wrong", payload, env.clock.Now()))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400 for forged signature, got %d", resp.StatusCode)
	}

	var count int64
	if err := env.db.Table("webhook_events").Count(&count).Error; err != nil {
		t.Fatalf("count webhook events: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no stored webhook events, got %d", count)
	}
}

func TestE2E_UnknownReferralCodeIsIgnored(t *testing.T) {
	resetDatabase(t)

	resp, body := postWebhook(t, subscriptionCreated("evt_sub_unknown", "cus_e2e_2", "DOESNOTEXIST"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.StatusCode, string(body))
	}
	if outcome := decodeWebhook(t, body).Outcome; outcome != string(paymentdomain.OutcomeIgnored) {
		t.Fatalf("expected outcome ignored, got %q", outcome)
	}

	resp, body = adminRequest(t, http.MethodGet, "/admin/audit-logs?target_type=customer&target_id=cus_e2e_2", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for audit logs, got %d: %s", resp.StatusCode, string(body))
	}
	var logs struct {
		Data []struct {
			Action string `json:"action"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &logs); err != nil {
		t.Fatalf("decode audit logs: %v", err)
	}
	if len(logs.Data) != 1 || logs.Data[0].Action != "referral.ignored" {
		t.Fatalf("expected one referral.ignored entry, got %+v", logs.Data)
	}
}

func TestE2E_AuditorIsReadOnly(t *testing.T) {
	resetDatabase(t)

	b := registerBroker(t, "recurring")

	resp, body := adminRequest(t, http.MethodGet, "/admin/brokers/"+b.ID, nil, auditorToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for auditor read, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = adminRequest(t, http.MethodPost, "/admin/brokers/"+b.ID+"/approve", nil, auditorToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403 for auditor write, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = adminRequest(t, http.MethodGet, "/admin/brokers/"+b.ID, nil, "not-a-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown token, got %d: %s", resp.StatusCode, string(body))
	}
}

func TestE2E_BrokerStatement(t *testing.T) {
	resetDatabase(t)

	b := createApprovedBroker(t, "bounty")
	resp, body := postWebhook(t, subscriptionCreated("evt_sub_stmt", "cus_e2e_3", b.ReferralCode))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for subscription webhook, got %d: %s", resp.StatusCode, string(body))
	}

	resp, body = adminRequest(t, http.MethodGet, "/admin/brokers/"+b.ID+"/statement", nil, auditorToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for statement, got %d: %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		t.Fatalf("expected a pdf document")
	}
}

func startEnv() (*testEnv, error) {
	conn, err := testutil.OpenMemory()
	if err != nil {
		return nil, err
	}

	fakeClock := clock.NewFakeClock(startAt)
	platform := &fakePlatform{}

	var (
		srv   *server.Server
		sched *scheduler.Scheduler
	)
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		fx.Supply(conn),
		clock.Module,
		ratelimit.Module,

		audit.Module,
		authorization.Module,
		broker.Module,
		risk.Module,
		payment.Module,
		referral.Module,
		ledger.Module,

		server.Module,
		metricspush.Module,
		scheduler.Module,

		fx.Decorate(func(clock.Clock) clock.Clock { return fakeClock }),
		fx.Decorate(func(paymentdomain.PlatformClient) paymentdomain.PlatformClient { return platform }),
		fx.Populate(&srv, &sched),
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		_ = testutil.Close(conn)
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		app:       app,
		db:        conn,
		clock:     fakeClock,
		platform:  platform,
		scheduler: sched,
		httpSrv:   httpSrv,
		baseURL:   httpSrv.URL,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.db != nil {
		_ = testutil.Close(e.db)
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("SCHEDULER_ENABLED", "false")
	setEnvIfEmpty("SCHEDULER_LEADER_LOCK", "false")
	setEnvIfEmpty("ADMIN_API_TOKEN", adminToken)
	setEnvIfEmpty("AUDITOR_API_TOKEN", auditorToken)
	setEnvIfEmpty("STRIPE_WEBHOOK_SECRET", webhookSecret)
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

// resetDatabase clears domain tables between tests. Authorization policies
// are seeded at startup and survive.
func resetDatabase(t *testing.T) {
	t.Helper()
	for _, table := range []string{
		"audit_logs",
		"webhook_events",
		"referrals",
		"referred_customers",
		"broker_link_visits",
		"brokers",
	} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	env.clock.Set(startAt)
	env.platform.Reset()
}

type brokerResponse struct {
	ID           string `json:"id"`
	ReferralCode string `json:"referral_code"`
	Status       string `json:"status"`
}

type referralResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PayoutType string `json:"payout_type"`
	Amount     int64  `json:"amount"`
}

type ledgerResponse struct {
	PayableBalance int64 `json:"payable_balance"`
	PaidTotal      int64 `json:"paid_total"`
}

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

func registerBroker(t *testing.T, model string) brokerResponse {
	t.Helper()
	suffix := strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
	resp, body := adminRequest(t, http.MethodPost, "/admin/brokers", map[string]any{
		"name":             "Agency " + suffix,
		"email":            suffix + "@agency.test",
		"commission_model": model,
	}, adminToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected status 201 for broker, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data brokerResponse `json:"data"`
	}
	decodeJSON(t, body, &out)
	return out.Data
}

func createApprovedBroker(t *testing.T, model string) brokerResponse {
	t.Helper()
	b := registerBroker(t, model)
	resp, body := adminRequest(t, http.MethodPost, "/admin/brokers/"+b.ID+"/approve", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for approve, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data brokerResponse `json:"data"`
	}
	decodeJSON(t, body, &out)
	if out.Data.Status != "approved" {
		t.Fatalf("expected approved broker, got %s", out.Data.Status)
	}
	return out.Data
}

func setPayoutDestination(t *testing.T, brokerID, destination string) {
	t.Helper()
	resp, body := adminRequest(t, http.MethodPost, "/admin/brokers/"+brokerID+"/payout-destination", map[string]any{
		"destination": destination,
	}, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for payout destination, got %d: %s", resp.StatusCode, string(body))
	}
}

func listReferrals(t *testing.T, brokerID string) []referralResponse {
	t.Helper()
	resp, body := adminRequest(t, http.MethodGet, "/admin/brokers/"+brokerID+"/referrals", nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for referrals, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data []referralResponse `json:"data"`
	}
	decodeJSON(t, body, &out)
	return out.Data
}

func getReferral(t *testing.T, id string) referralResponse {
	t.Helper()
	resp, body := adminRequest(t, http.MethodGet, "/admin/referrals/"+id, nil, adminToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for referral, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data referralResponse `json:"data"`
	}
	decodeJSON(t, body, &out)
	return out.Data
}

func getLedger(t *testing.T, brokerID, token string) ledgerResponse {
	t.Helper()
	resp, body := adminRequest(t, http.MethodGet, "/admin/brokers/"+brokerID+"/ledger", nil, token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200 for ledger, got %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		Data ledgerResponse `json:"data"`
	}
	decodeJSON(t, body, &out)
	return out.Data
}

func subscriptionCreated(eventID, customerID, code string) []byte {
	return mustJSON(map[string]any{
		"id":      eventID,
		"type":    "customer.subscription.created",
		"created": env.clock.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":       "sub_" + customerID,
				"customer": customerID,
				"created":  env.clock.Now().Unix(),
				"metadata": map[string]any{
					"referral_code":       code,
					"customer_email":      customerID + "@customers.example",
					"payment_fingerprint": "fp_" + customerID,
					"signup_ip":           "203.0.113.10",
					"risk_level":          "normal",
				},
			},
		},
	})
}

func chargeRefunded(eventID, customerID string) []byte {
	return mustJSON(map[string]any{
		"id":      eventID,
		"type":    "charge.refunded",
		"created": env.clock.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":              "ch_" + customerID,
				"customer":        customerID,
				"amount":          9900,
				"amount_refunded": 9900,
				"currency":        "usd",
				"created":         env.clock.Now().Unix(),
			},
		},
	})
}

func postWebhook(t *testing.T, payload []byte) (*http.Response, []byte) {
	t.Helper()
	return doRequest(t, http.MethodPost, env.baseURL+"/webhooks/stripe", bytes.NewReader(payload), map[string]string{
		"Content-Type":     "application/json",
		"Stripe-Signature": stripe.SignatureHeader(webhookSecret, payload, env.clock.Now()),
	})
}

func decodeWebhook(t *testing.T, body []byte) webhookResponse {
	t.Helper()
	var out webhookResponse
	decodeJSON(t, body, &out)
	if !out.Received {
		t.Fatalf("expected webhook to be received: %s", string(body))
	}
	return out
}

func adminRequest(t *testing.T, method, path string, payload any, token string) (*http.Response, []byte) {
	t.Helper()
	headers := map[string]string{"Authorization": "Bearer " + token}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(mustJSON(payload))
		headers["Content-Type"] = "application/json"
	}
	return doRequest(t, method, env.baseURL+path, body, headers)
}

func doRequest(t *testing.T, method, reqURL string, body io.Reader, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func decodeJSON(t *testing.T, body []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode response: %v: %s", err, string(body))
	}
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

type fakePlatform struct {
	mu        sync.Mutex
	transfers []paymentdomain.TransferRequest
}

func (p *fakePlatform) RiskLevel(context.Context, string) (paymentdomain.RiskLevel, error) {
	return paymentdomain.RiskLevelNormal, nil
}

func (p *fakePlatform) CustomerProfile(_ context.Context, customerID string) (paymentdomain.CustomerProfile, error) {
	return paymentdomain.CustomerProfile{CustomerID: customerID}, nil
}

func (p *fakePlatform) ChargeDetails(_ context.Context, chargeID string) (paymentdomain.ChargeDetails, error) {
	return paymentdomain.ChargeDetails{ChargeID: chargeID}, nil
}

func (p *fakePlatform) Transfer(_ context.Context, req paymentdomain.TransferRequest) (paymentdomain.TransferResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transfers = append(p.transfers, req)
	return paymentdomain.TransferResult{TransferID: "tr_" + req.Reference}, nil
}

func (p *fakePlatform) Transfers() []paymentdomain.TransferRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]paymentdomain.TransferRequest(nil), p.transfers...)
}

func (p *fakePlatform) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transfers = nil
}
