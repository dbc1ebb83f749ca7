package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/referralledger/internal/config"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeClient talks to the Stripe API for enrichment lookups and payouts.
type StripeClient struct {
	api *client.API
	log *zap.Logger
}

// NewClient returns a Stripe-backed client, or a disabled client when no
// secret key is configured.
func NewClient(cfg config.Config, log *zap.Logger) paymentdomain.PlatformClient {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		log.Warn("stripe secret key not configured, enrichment and payouts disabled")
		return disabledClient{}
	}
	api := &client.API{}
	api.Init(key, nil)
	return &StripeClient{api: api, log: log.Named("payment.platform")}
}

func (c *StripeClient) RiskLevel(ctx context.Context, customerID string) (paymentdomain.RiskLevel, error) {
	params := &stripe.ChargeListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := c.api.Charges.List(params)
	for it.Next() {
		ch := it.Charge()
		if ch.Outcome == nil {
			return paymentdomain.RiskLevelUnknown, nil
		}
		return paymentdomain.NormalizeRiskLevel(ch.Outcome.RiskLevel), nil
	}
	if err := it.Err(); err != nil {
		return paymentdomain.RiskLevelUnknown, fmt.Errorf("list charges: %w", err)
	}
	return paymentdomain.RiskLevelUnknown, nil
}

func (c *StripeClient) CustomerProfile(ctx context.Context, customerID string) (paymentdomain.CustomerProfile, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.AddExpand("invoice_settings.default_payment_method")

	cus, err := c.api.Customers.Get(customerID, params)
	if err != nil {
		return paymentdomain.CustomerProfile{}, fmt.Errorf("get customer: %w", err)
	}

	profile := paymentdomain.CustomerProfile{
		CustomerID: cus.ID,
		Email:      strings.ToLower(strings.TrimSpace(cus.Email)),
	}
	if cus.Created > 0 {
		profile.Created = unixUTC(cus.Created)
	}
	if cus.InvoiceSettings != nil && cus.InvoiceSettings.DefaultPaymentMethod != nil {
		if card := cus.InvoiceSettings.DefaultPaymentMethod.Card; card != nil {
			profile.PaymentFingerprint = card.Fingerprint
		}
	}
	return profile, nil
}

func (c *StripeClient) ChargeDetails(ctx context.Context, chargeID string) (paymentdomain.ChargeDetails, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx

	ch, err := c.api.Charges.Get(chargeID, params)
	if err != nil {
		return paymentdomain.ChargeDetails{}, fmt.Errorf("get charge: %w", err)
	}
	details := paymentdomain.ChargeDetails{ChargeID: ch.ID}
	if ch.Customer != nil {
		details.CustomerID = ch.Customer.ID
	}
	if ch.Invoice != nil {
		details.InvoiceID = ch.Invoice.ID
	}
	return details, nil
}

func (c *StripeClient) Transfer(ctx context.Context, req paymentdomain.TransferRequest) (paymentdomain.TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Destination:   stripe.String(req.Destination),
		TransferGroup: stripe.String(req.Reference),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	tr, err := c.api.Transfers.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			c.log.Warn("stripe transfer rejected",
				zap.String("reference", req.Reference),
				zap.String("code", string(stripeErr.Code)),
				zap.String("type", string(stripeErr.Type)),
			)
		}
		return paymentdomain.TransferResult{}, fmt.Errorf("%w: %v", paymentdomain.ErrTransferFailed, err)
	}
	return paymentdomain.TransferResult{TransferID: tr.ID}, nil
}

type disabledClient struct{}

func (disabledClient) RiskLevel(context.Context, string) (paymentdomain.RiskLevel, error) {
	return paymentdomain.RiskLevelUnknown, paymentdomain.ErrPlatformNotConfigured
}

func (disabledClient) CustomerProfile(context.Context, string) (paymentdomain.CustomerProfile, error) {
	return paymentdomain.CustomerProfile{}, paymentdomain.ErrPlatformNotConfigured
}

func (disabledClient) ChargeDetails(context.Context, string) (paymentdomain.ChargeDetails, error) {
	return paymentdomain.ChargeDetails{}, paymentdomain.ErrPlatformNotConfigured
}

func (disabledClient) Transfer(context.Context, paymentdomain.TransferRequest) (paymentdomain.TransferResult, error) {
	return paymentdomain.TransferResult{}, fmt.Errorf("%w: %v", paymentdomain.ErrTransferFailed, paymentdomain.ErrPlatformNotConfigured)
}
