package authorization

import (
	"context"
	"errors"
)

const (
	RoleAdmin   = "role:admin"
	RoleAuditor = "role:auditor"
)

const (
	ObjectBroker   = "broker"
	ObjectReferral = "referral"
	ObjectLedger   = "ledger"
	ObjectAuditLog = "audit_log"
)

const (
	ActionBrokerView         = "broker.view"
	ActionBrokerCreate       = "broker.create"
	ActionBrokerApprove      = "broker.approve"
	ActionBrokerDeny         = "broker.deny"
	ActionBrokerPayoutManage = "broker.payout_manage"
	ActionReferralView       = "referral.view"
	ActionReferralApprove    = "referral.approve"
	ActionReferralReject     = "referral.reject"
	ActionReferralRelease    = "referral.release"
	ActionReferralMarkPaid   = "referral.mark_paid"
	ActionLedgerView         = "ledger.view"
	ActionAuditLogView       = "audit_log.view"
)

// Service decides whether an authenticated admin credential may perform
// an action on an object.
type Service interface {
	Authorize(ctx context.Context, subject, role, object, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
