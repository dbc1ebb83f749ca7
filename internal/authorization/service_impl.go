package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads the role policy from the casbin_rule table and seeds
// the built-in roles.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject, role, object, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidActor
	}
	role = strings.TrimSpace(role)
	if role != RoleAdmin && role != RoleAuditor {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	if err := s.ensureGrouping(subject, role); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, subject, role, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject.
func (s *ServiceImpl) ensureGrouping(subject string, role string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == role {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, role)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, subject, role, object, action string) {
	s.log.Warn("authorization denied",
		zap.String("subject", subject),
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeAdmin,
		ActorID:    subject,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   role,
		},
	})
	if err != nil {
		s.log.Warn("failed to audit authorization denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Auditor permissions (read-only)
		{RoleAuditor, ObjectBroker, ActionBrokerView},
		{RoleAuditor, ObjectReferral, ActionReferralView},
		{RoleAuditor, ObjectLedger, ActionLedgerView},
		{RoleAuditor, ObjectAuditLog, ActionAuditLogView},

		// Admin permissions
		{RoleAdmin, ObjectBroker, ActionBrokerView},
		{RoleAdmin, ObjectBroker, ActionBrokerCreate},
		{RoleAdmin, ObjectBroker, ActionBrokerApprove},
		{RoleAdmin, ObjectBroker, ActionBrokerDeny},
		{RoleAdmin, ObjectBroker, ActionBrokerPayoutManage},
		{RoleAdmin, ObjectReferral, ActionReferralView},
		{RoleAdmin, ObjectReferral, ActionReferralApprove},
		{RoleAdmin, ObjectReferral, ActionReferralReject},
		{RoleAdmin, ObjectReferral, ActionReferralRelease},
		{RoleAdmin, ObjectReferral, ActionReferralMarkPaid},
		{RoleAdmin, ObjectLedger, ActionLedgerView},
		{RoleAdmin, ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
