package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payflow/internal/gateway"
	"github.com/smallbiznis/payflow/internal/money"
	paymentdomain "github.com/smallbiznis/payflow/internal/payment/domain"
	providerconfigdomain "github.com/smallbiznis/payflow/internal/providerconfig/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrTooManyRequest = errors.New("too_many_requests")
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

// mapError translates the two error families onto HTTP statuses. Domain
// errors are client-visible business failures; provider errors surface as
// upstream failures except for verification and configuration problems.
func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    "INTERNAL_ERROR",
			Message: "internal server error",
		}
	}

	code := paymentdomain.ErrorCode(err)

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Code: "UNAUTHORIZED", Message: "unauthorized"}
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Code: "INVALID_REQUEST", Message: "invalid request"}
	case errors.Is(err, ErrTooManyRequest):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Code: "RATE_LIMITED", Message: "too many requests"}
	}

	if isNotFound(err) {
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: code, Message: err.Error()}
	}
	if errors.Is(err, paymentdomain.ErrDuplicateTransaction) {
		return http.StatusConflict, errorPayload{Type: "conflict", Code: code, Message: err.Error()}
	}
	if isStateConflict(err) {
		return http.StatusConflict, errorPayload{Type: "conflict", Code: code, Message: err.Error()}
	}
	if paymentdomain.IsDomainError(err) || isMoneyError(err) || isConfigValidation(err) {
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Code: code, Message: err.Error()}
	}

	var pe *gateway.ProviderError
	if errors.As(err, &pe) {
		switch pe.ErrCode {
		case "WEBHOOK_VERIFICATION":
			return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Code: pe.ErrCode, Message: pe.Message}
		case "PROVIDER_CONFIGURATION", "PROVIDER_NOT_SUPPORTED":
			return http.StatusUnprocessableEntity, errorPayload{Type: "provider_error", Code: pe.ErrCode, Message: pe.Message}
		default:
			return http.StatusBadGateway, errorPayload{Type: "provider_error", Code: pe.ErrCode, Message: pe.Message}
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Code:    "INTERNAL_ERROR",
		Message: "internal server error",
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, paymentdomain.ErrTransactionNotFound) ||
		errors.Is(err, paymentdomain.ErrRefundNotFound) ||
		errors.Is(err, providerconfigdomain.ErrNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}

func isStateConflict(err error) bool {
	var (
		state  *paymentdomain.InvalidTransactionStateError
		void   *paymentdomain.VoidNotAllowedError
		refund *paymentdomain.RefundNotAllowedError
	)
	return errors.As(err, &state) ||
		errors.As(err, &void) ||
		errors.As(err, &refund) ||
		errors.Is(err, paymentdomain.ErrRefundNotMutable)
}

func isMoneyError(err error) bool {
	var mismatch *money.CurrencyMismatchError
	return errors.Is(err, money.ErrNegativeAmount) ||
		errors.Is(err, money.ErrInvalidCurrency) ||
		errors.Is(err, money.ErrPrecisionTooFine) ||
		errors.Is(err, money.ErrInvalidAmount) ||
		errors.As(err, &mismatch)
}

func isConfigValidation(err error) bool {
	return errors.Is(err, providerconfigdomain.ErrInvalidProvider) ||
		errors.Is(err, providerconfigdomain.ErrInvalidConfig) ||
		errors.Is(err, providerconfigdomain.ErrInvalidOrganization)
}

// classifyErrorForLog buckets errors for request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	code := paymentdomain.ErrorCode(err)
	switch {
	case paymentdomain.IsDomainError(err) || isMoneyError(err):
		return "domain_error", code
	case gateway.IsProviderError(err):
		return "provider_error", code
	default:
		return "internal_error", code
	}
}
