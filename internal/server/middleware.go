package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"github.com/smallbiznis/referralledger/internal/authorization"
	"github.com/smallbiznis/referralledger/internal/authorization/tokenhash"
	obscontext "github.com/smallbiznis/referralledger/internal/observability/context"
)

const (
	adminActorID   = "admin_api_token"
	auditorActorID = "auditor_api_token"

	contextAdminRoleKey = "admin_role"
)

type adminCredential struct {
	actorID string
	role    string
	token   string
}

func (s *Server) adminCredentials() []adminCredential {
	creds := make([]adminCredential, 0, 2)
	if token := strings.TrimSpace(s.cfg.AdminAPIToken); token != "" {
		creds = append(creds, adminCredential{actorID: adminActorID, role: authorization.RoleAdmin, token: token})
	}
	if token := strings.TrimSpace(s.cfg.AuditorAPIToken); token != "" {
		creds = append(creds, adminCredential{actorID: auditorActorID, role: authorization.RoleAuditor, token: token})
	}
	return creds
}

// AdminAuthRequired checks the bearer token against the configured admin
// and auditor tokens. With none configured every admin request is refused.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	creds := s.adminCredentials()
	return func(c *gin.Context) {
		if len(creds) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var matched *adminCredential
		for i := range creds {
			if tokenhash.Match(parts[1], creds[i].token) {
				matched = &creds[i]
				break
			}
		}
		if matched == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeAdmin), matched.actorID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextAdminRoleKey, matched.role)
		c.Next()
	}
}

// authorizeAdminAction gates a route on the role resolved by
// AdminAuthRequired.
func (s *Server) authorizeAdminAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeAdminActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeAdminActionWithContext(c *gin.Context, object string, action string) error {
	role := c.GetString(contextAdminRoleKey)
	_, actorID := obscontext.ActorFromContext(c.Request.Context())
	if role == "" || actorID == "" {
		return ErrUnauthorized
	}

	if s.authzSvc == nil {
		if role != authorization.RoleAdmin {
			return ErrForbidden
		}
		return nil
	}
	return s.authzSvc.Authorize(c.Request.Context(), actorID, role, object, action)
}
