package service

import (
	"fmt"
	"time"

	"github.com/smallbiznis/referralledger/internal/audit/masking"
	"github.com/smallbiznis/referralledger/internal/risk/domain"
)

const (
	pointsFingerprint     = 50
	pointsLinkFast        = 35
	pointsLinkSlow        = 15
	pointsSharedIP        = 40
	pointsPlatformHigh    = 50
	pointsPlatformRaised  = 30
	pointsFirstReferral   = 10
	brokerEmailSampleSize = 500
)

// DefaultRules is the signal set applied to every new referred customer.
func DefaultRules() []domain.Rule {
	return []domain.Rule{
		fingerprintRule{},
		emailRule{},
		linkVelocityRule{},
		sharedIPRule{},
		platformRiskRule{},
		firstReferralRule{},
	}
}

type fingerprintRule struct{}

func (fingerprintRule) Evaluate(c domain.Candidate, _ domain.Thresholds) (domain.Signal, bool) {
	if c.PaymentFingerprint == "" || len(c.FingerprintMatches) == 0 {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Code:         domain.SignalPaymentFingerprint,
		Points:       pointsFingerprint,
		Rationale:    fmt.Sprintf("payment method already used by %d other referred customer(s)", len(c.FingerprintMatches)),
		ForcesReview: true,
	}, true
}

type emailRule struct{}

func (emailRule) Evaluate(c domain.Candidate, th domain.Thresholds) (domain.Signal, bool) {
	match, ok := bestEmailMatch(c.Email, c.BrokerEmails, th.EmailDistance)
	if !ok {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Code:      domain.SignalEmailSimilarity,
		Points:    match.points,
		Rationale: fmt.Sprintf("%s: resembles %s", match.kind, masking.MaskEmail(match.other)),
	}, true
}

type linkVelocityRule struct{}

func (linkVelocityRule) Evaluate(c domain.Candidate, th domain.Thresholds) (domain.Signal, bool) {
	if c.LinkVisitedAt == nil || c.SignupAt.IsZero() || c.SignupAt.Before(*c.LinkVisitedAt) {
		return domain.Signal{}, false
	}
	elapsed := c.SignupAt.Sub(*c.LinkVisitedAt)
	switch {
	case elapsed <= th.LinkFast:
		return domain.Signal{
			Code:      domain.SignalLinkVelocity,
			Points:    pointsLinkFast,
			Rationale: fmt.Sprintf("signed up %s after using the referral link", elapsed.Round(time.Second)),
		}, true
	case elapsed <= th.LinkSlow:
		return domain.Signal{
			Code:      domain.SignalLinkVelocity,
			Points:    pointsLinkSlow,
			Rationale: fmt.Sprintf("signed up %s after using the referral link", elapsed.Round(time.Second)),
		}, true
	default:
		return domain.Signal{}, false
	}
}

type sharedIPRule struct{}

func (sharedIPRule) Evaluate(c domain.Candidate, _ domain.Thresholds) (domain.Signal, bool) {
	if c.SignupIP == "" || len(c.SharedIPCustomers) == 0 {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Code:      domain.SignalSharedIP,
		Points:    pointsSharedIP,
		Rationale: fmt.Sprintf("signup IP matches %d other referral(s) from this broker", len(c.SharedIPCustomers)),
	}, true
}

type platformRiskRule struct{}

func (platformRiskRule) Evaluate(c domain.Candidate, _ domain.Thresholds) (domain.Signal, bool) {
	switch c.PlatformRisk {
	case "highest":
		return domain.Signal{
			Code:      domain.SignalPlatformRisk,
			Points:    pointsPlatformHigh,
			Rationale: "payment platform reported highest risk",
		}, true
	case "elevated":
		return domain.Signal{
			Code:      domain.SignalPlatformRisk,
			Points:    pointsPlatformRaised,
			Rationale: "payment platform reported elevated risk",
		}, true
	default:
		return domain.Signal{}, false
	}
}

// firstReferralRule counts prior attributions only. A long-approved
// broker with no referrals yet still gets the extra scrutiny.
type firstReferralRule struct{}

func (firstReferralRule) Evaluate(c domain.Candidate, _ domain.Thresholds) (domain.Signal, bool) {
	if c.PriorReferrals > 0 {
		return domain.Signal{}, false
	}
	return domain.Signal{
		Code:      domain.SignalFirstReferral,
		Points:    pointsFirstReferral,
		Rationale: "first referral for this broker",
	}, true
}
