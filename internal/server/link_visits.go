package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
)

// TrackLinkVisit records a referral link click and sends the visitor on
// to the signup page with the code attached.
func (s *Server) TrackLinkVisit(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	broker, err := s.brokerSvc.RecordLinkVisit(c.Request.Context(), brokerdomain.LinkVisitRequest{
		ReferralCode: code,
		VisitorIP:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	target := s.signupRedirect(broker.ReferralCode)
	if target == "" {
		c.JSON(http.StatusOK, gin.H{"referral_code": broker.ReferralCode})
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (s *Server) signupRedirect(code string) string {
	base := strings.TrimSpace(s.cfg.SignupURL)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("ref", code)
	u.RawQuery = q.Encode()
	return u.String()
}
