package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/referralledger/internal/observability/logger"
	"github.com/smallbiznis/referralledger/internal/payment/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type webhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	Outcome  string `json:"outcome"`
}

// HandlePaymentWebhook acknowledges every accepted delivery with 200,
// replays included. Rejected deliveries get 400 so the platform stops
// retrying them; anything else is a 500 and will be redelivered.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	result, err := s.webhookSvc.Ingest(ctx, provider, payload, c.Request.Header)
	if err != nil {
		if !webhook.IsRejection(err) {
			logger.WithContext(ctx, s.log).Error("webhook ingest failed",
				zap.String("provider", provider),
				zap.Error(err),
			)
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, webhookResponse{
		Received: true,
		EventID:  result.EventID,
		Outcome:  string(result.Outcome),
	})
}
