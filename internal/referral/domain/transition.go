package domain

import (
	"github.com/smallbiznis/referralledger/internal/config"
)

type Trigger string

const (
	TriggerHoldExpired          Trigger = "hold_expired"
	TriggerAdminRelease         Trigger = "admin_release"
	TriggerAdminApprove         Trigger = "admin_approve"
	TriggerAdminReject          Trigger = "admin_reject"
	TriggerMarkPaid             Trigger = "mark_paid"
	TriggerSubscriptionCanceled Trigger = "subscription_canceled"
	TriggerPaymentFailed        Trigger = "payment_failed"
	TriggerPaymentRecovered     Trigger = "payment_recovered"
	TriggerRefund               Trigger = "refund"
	TriggerDispute              Trigger = "dispute"
)

// statusPrior marks a transition back to the status recorded before past_due.
const statusPrior Status = "@prior"

var transitions = map[Status]map[Trigger]Status{
	StatusOnHold: {
		TriggerHoldExpired:          StatusReadyToPay,
		TriggerAdminRelease:         StatusReadyToPay,
		TriggerSubscriptionCanceled: StatusCanceled,
		TriggerPaymentFailed:        StatusPastDue,
		TriggerRefund:               StatusRefunded,
		TriggerDispute:              StatusChargeback,
	},
	StatusReadyToPay: {
		TriggerMarkPaid:             StatusPaid,
		TriggerSubscriptionCanceled: StatusCanceled,
		TriggerPaymentFailed:        StatusPastDue,
		TriggerRefund:               StatusRefunded,
		TriggerDispute:              StatusChargeback,
	},
	StatusFlagged: {
		TriggerAdminApprove: StatusOnHold,
		TriggerAdminReject:  StatusCanceled,
	},
	StatusPastDue: {
		TriggerPaymentRecovered: statusPrior,
	},
	StatusPaid: {
		TriggerRefund:  StatusClawedBack,
		TriggerDispute: StatusClawedBack,
	},
}

// Next returns the status r moves to on trigger, or ErrInvalidTransition
// when the table has no such edge.
func Next(r *Referral, trigger Trigger) (Status, error) {
	if r == nil {
		return "", ErrReferralNotFound
	}
	next, ok := transitions[r.Status][trigger]
	if !ok {
		return "", ErrInvalidTransition
	}
	if next == statusPrior {
		if r.PriorStatus == nil || !r.PriorStatus.Valid() {
			return "", ErrInvalidTransition
		}
		return *r.PriorStatus, nil
	}
	return next, nil
}

// Allowed reports whether trigger is a legal edge out of status.
func Allowed(status Status, trigger Trigger) bool {
	_, ok := transitions[status][trigger]
	return ok
}

// PayoutAmount is the commission owed for one referral of the given type.
func PayoutAmount(payoutType PayoutType, policy config.CommissionPolicy) int64 {
	switch payoutType {
	case PayoutTypeBounty:
		return policy.BountyAmount
	case PayoutTypeRecurring:
		return policy.RecurringAmount
	default:
		return 0
	}
}
