package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/referralledger/internal/audit/domain"
	"github.com/smallbiznis/referralledger/internal/authorization"
	brokerdomain "github.com/smallbiznis/referralledger/internal/broker/domain"
	paymentdomain "github.com/smallbiznis/referralledger/internal/payment/domain"
	referraldomain "github.com/smallbiznis/referralledger/internal/referral/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    sentinelCode(err),
			Message: "not found",
		}
	case errors.Is(err, referraldomain.ErrConcurrentModification),
		errors.Is(err, brokerdomain.ErrBrokerConcurrentModification):
		return http.StatusConflict, errorPayload{
			Type:    "conflict_retry",
			Message: "the resource changed concurrently, retry the request",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    sentinelCode(err),
			Message: "conflict",
		}
	case errors.Is(err, brokerdomain.ErrLinkVisitRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrTransferFailed):
		return http.StatusBadGateway, errorPayload{
			Type:    "transfer_failed",
			Message: "payout transfer failed",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrPlatformNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationSentinels = []error{
	ErrInvalidRequest,
	brokerdomain.ErrInvalidName,
	brokerdomain.ErrInvalidEmail,
	brokerdomain.ErrInvalidCommissionModel,
	brokerdomain.ErrInvalidPayoutDestination,
	referraldomain.ErrInvalidTransferReference,
	referraldomain.ErrInvalidStatusFilter,
	auditdomain.ErrInvalidTarget,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
}

func validationErrorCode(err error) (string, bool) {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, brokerdomain.ErrBrokerNotFound),
		errors.Is(err, referraldomain.ErrReferralNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, referraldomain.ErrInvalidTransition),
		errors.Is(err, referraldomain.ErrClawbackWindowClosed),
		errors.Is(err, referraldomain.ErrBrokerNotPayable),
		errors.Is(err, referraldomain.ErrPayoutDestinationMissing),
		errors.Is(err, referraldomain.ErrPayoutInProgress),
		errors.Is(err, brokerdomain.ErrModelImmutable),
		errors.Is(err, brokerdomain.ErrInvalidBrokerStatus),
		errors.Is(err, brokerdomain.ErrReferralCodeUnavailable):
		return true
	default:
		return false
	}
}

// sentinelCode returns the innermost error text, which for domain
// sentinels is their snake_case code.
func sentinelCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	code := err.Error()
	if strings.ContainsAny(code, " :\n") {
		return ""
	}
	return code
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_signature":
		return "signature verification failed"
	default:
		return "invalid value"
	}
}
