package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
)

const providerName = "stripe"

// Metadata keys the checkout flow stamps on the subscription.
const (
	metaReferralCode       = "referral_code"
	metaCustomerEmail      = "customer_email"
	metaSignupIP           = "signup_ip"
	metaPaymentFingerprint = "payment_fingerprint"
	metaReferralVisitAt    = "referral_visit_at"
	metaRiskLevel          = "risk_level"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Adapter{
		webhookSecret: secret,
		tolerance:     cfg.Tolerance,
		now:           now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	tolerance     time.Duration
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		unix, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return paymentdomain.ErrInvalidSignature
		}
		age := a.now().Sub(time.Unix(unix, 0))
		if age > a.tolerance || age < -a.tolerance {
			return paymentdomain.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	env := paymentdomain.Envelope{
		ID:       event.ID,
		Provider: providerName,
		RawType:  event.Type,
		Occurred: timestamp(event.Created, 0),
		Payload:  payload,
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created":
		return parseSubscriptionCreated(env, event)
	case "customer.subscription.deleted":
		return parseSubscriptionCanceled(env, event)
	case "invoice.paid", "invoice.payment_succeeded":
		return parseInvoicePaid(env, event)
	case "invoice.payment_failed":
		return parseInvoicePaymentFailed(env, event)
	case "charge.dispute.created":
		return parseDisputeOpened(env, event)
	case "charge.refunded":
		return parseChargeRefunded(env, event)
	default:
		return &paymentdomain.Unrecognized{Envelope: env}, nil
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID       string         `json:"id"`
	Customer expandable     `json:"customer"`
	Created  int64          `json:"created"`
	Metadata map[string]any `json:"metadata"`
}

type stripeInvoice struct {
	ID            string         `json:"id"`
	Customer      expandable     `json:"customer"`
	CustomerEmail string         `json:"customer_email"`
	Subscription  expandable     `json:"subscription"`
	BillingReason string         `json:"billing_reason"`
	AmountPaid    int64          `json:"amount_paid"`
	Currency      string         `json:"currency"`
	PeriodStart   int64          `json:"period_start"`
	PeriodEnd     int64          `json:"period_end"`
	Created       int64          `json:"created"`
	Lines         stripeLineList `json:"lines"`
}

type stripeLineList struct {
	Data []stripeLine `json:"data"`
}

type stripeLine struct {
	Period struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	} `json:"period"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	Customer       expandable     `json:"customer"`
	Invoice        expandable     `json:"invoice"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeDispute struct {
	ID       string          `json:"id"`
	Charge   json.RawMessage `json:"charge"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Reason   string          `json:"reason"`
	Created  int64           `json:"created"`
	Metadata map[string]any  `json:"metadata"`
}

// expandable decodes a Stripe reference that is either an id string or an
// expanded object carrying an id.
type expandable string

func (e *expandable) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*e = expandable(strings.TrimSpace(id))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandable(strings.TrimSpace(obj.ID))
	return nil
}

func parseSubscriptionCreated(env paymentdomain.Envelope, event stripeEvent) (paymentdomain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if sub.ID == "" || sub.Customer == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	env.CustomerID = string(sub.Customer)
	env.Occurred = timestamp(sub.Created, event.Created)

	out := &paymentdomain.SubscriptionCreated{
		Envelope:           env,
		SubscriptionID:     sub.ID,
		ReferralCode:       strings.ToLower(readMetadataValue(sub.Metadata, metaReferralCode)),
		Email:              strings.ToLower(readMetadataValue(sub.Metadata, metaCustomerEmail)),
		PaymentFingerprint: readMetadataValue(sub.Metadata, metaPaymentFingerprint),
		SignupIP:           readMetadataValue(sub.Metadata, metaSignupIP),
		PlatformRisk:       paymentdomain.NormalizeRiskLevel(readMetadataValue(sub.Metadata, metaRiskLevel)),
	}
	if visited, ok := parseMetadataTime(readMetadataValue(sub.Metadata, metaReferralVisitAt)); ok {
		out.LinkVisitedAt = &visited
	}
	return out, nil
}

func parseSubscriptionCanceled(env paymentdomain.Envelope, event stripeEvent) (paymentdomain.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if sub.ID == "" || sub.Customer == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	env.CustomerID = string(sub.Customer)
	return &paymentdomain.SubscriptionCanceled{Envelope: env, SubscriptionID: sub.ID}, nil
}

func parseInvoicePaid(env paymentdomain.Envelope, event stripeEvent) (paymentdomain.Event, error) {
	inv, err := decodeInvoice(event)
	if err != nil {
		return nil, err
	}
	env.CustomerID = string(inv.Customer)
	start, end := invoicePeriod(inv)
	return &paymentdomain.InvoicePaid{
		Envelope:       env,
		InvoiceID:      inv.ID,
		SubscriptionID: string(inv.Subscription),
		BillingReason:  strings.TrimSpace(inv.BillingReason),
		PeriodStart:    start,
		PeriodEnd:      end,
		AmountPaid:     inv.AmountPaid,
		Currency:       strings.ToLower(strings.TrimSpace(inv.Currency)),
	}, nil
}

func parseInvoicePaymentFailed(env paymentdomain.Envelope, event stripeEvent) (paymentdomain.Event, error) {
	inv, err := decodeInvoice(event)
	if err != nil {
		return nil, err
	}
	env.CustomerID = string(inv.Customer)
	start, _ := invoicePeriod(inv)
	return &paymentdomain.InvoicePaymentFailed{
		Envelope:       env,
		InvoiceID:      inv.ID,
		SubscriptionID: string(inv.Subscription),
		PeriodStart:    start,
	}, nil
}

func parseDisputeOpened(env paymentdomain.Envelope, event stripeEvent) (paymentdomain.Event, error) {
	var dispute stripeDispute
	if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(dispute.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.DisputeOpened{
		DisputeID: dispute.ID,
		Amount:    dispute.Amount,
		Currency:  strings.ToLower(strings.TrimSpace(dispute.Currency)),
		Reason:    strings.TrimSpace(dispute.Reason),
	}

	// The charge is an id unless the endpoint expands it.
	if len(dispute.Charge) > 0 && dispute.Charge[0] == '{' {
		var charge stripeCharge
		if err := json.Unmarshal(dispute.Charge, &charge); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.ChargeID = charge.ID
		env.CustomerID = string(charge.Customer)
		out.InvoiceID = string(charge.Invoice)
	} else {
		var chargeID expandable
		if err := json.Unmarshal(dispute.Charge, &chargeID); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		out.ChargeID = string(chargeID)
	}
	if env.CustomerID == "" {
		env.CustomerID = readMetadataValue(dispute.Metadata, "customer_id")
	}
	if out.ChargeID == "" && env.CustomerID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	env.Occurred = timestamp(dispute.Created, event.Created)
	out.Envelope = env
	return out, nil
}

func parseChargeRefunded(env paymentdomain.Envelope, event stripeEvent) (paymentdomain.Event, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if charge.ID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	env.CustomerID = string(charge.Customer)
	return &paymentdomain.ChargeRefunded{
		Envelope:       env,
		ChargeID:       charge.ID,
		InvoiceID:      string(charge.Invoice),
		Amount:         charge.Amount,
		AmountRefunded: charge.AmountRefunded,
		Currency:       strings.ToLower(strings.TrimSpace(charge.Currency)),
	}, nil
}

func decodeInvoice(event stripeEvent) (stripeInvoice, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return inv, paymentdomain.ErrInvalidPayload
	}
	if inv.ID == "" || inv.Customer == "" {
		return inv, paymentdomain.ErrInvalidEvent
	}
	return inv, nil
}

// invoicePeriod prefers the first line's service period. The invoice-level
// period on a renewal describes the period just ended.
func invoicePeriod(inv stripeInvoice) (time.Time, time.Time) {
	if len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period.Start > 0 {
		line := inv.Lines.Data[0]
		return time.Unix(line.Period.Start, 0).UTC(), time.Unix(line.Period.End, 0).UTC()
	}
	if inv.PeriodStart > 0 {
		return time.Unix(inv.PeriodStart, 0).UTC(), time.Unix(inv.PeriodEnd, 0).UTC()
	}
	return time.Time{}, time.Time{}
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

// parseMetadataTime accepts RFC3339 or unix seconds.
func parseMetadataTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0).UTC(), true
	}
	return time.Time{}, false
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}

// SignatureHeader builds a Stripe-Signature header value for payload. It is
// used to replay captured events against a local endpoint.
func SignatureHeader(secret string, payload []byte, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, string(payload))))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
