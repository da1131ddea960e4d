package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	adrewarddomain "github.com/lumichat/lumichat/internal/adreward/domain"
	entitlementdomain "github.com/lumichat/lumichat/internal/entitlement/domain"
	"github.com/lumichat/lumichat/internal/idempotency"
	quotadomain "github.com/lumichat/lumichat/internal/quota/domain"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
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

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, quotadomain.ErrLimitExceeded):
		return http.StatusTooManyRequests, payload("limit_exceeded", "usage limit exceeded")
	case errors.Is(err, quotadomain.ErrDailyAdCapReached):
		return http.StatusTooManyRequests, payload("daily_ad_cap_reached", "daily ad limit reached")
	case errors.Is(err, quotadomain.ErrAdCooldown):
		return http.StatusTooManyRequests, payload("ad_cooldown", "ad watched too recently")
	case errors.Is(err, quotadomain.ErrGuestNotAllowed):
		return http.StatusForbidden, payload("guest_not_allowed", "guests cannot use this feature")
	case errors.Is(err, quotadomain.ErrCharacterRequired):
		return http.StatusBadRequest, payload("character_required", "character id is required")
	case errors.Is(err, quotadomain.ErrInvalidResource):
		return http.StatusBadRequest, payload("invalid_resource", "invalid resource")
	case errors.Is(err, quotadomain.ErrTransactionConflict),
		errors.Is(err, entitlementdomain.ErrTransactionConflict):
		return http.StatusConflict, payload("transaction_conflict", "concurrent update, retry")
	case errors.Is(err, entitlementdomain.ErrInsufficientCards):
		return http.StatusPaymentRequired, payload("insufficient_cards", "no cards remaining")
	case errors.Is(err, entitlementdomain.ErrInvalidCardType):
		return http.StatusBadRequest, payload("invalid_card_type", "invalid card type")
	case errors.Is(err, entitlementdomain.ErrInvalidAmount):
		return http.StatusBadRequest, payload("invalid_amount", "amount must be positive")
	case errors.Is(err, entitlementdomain.ErrUserNotFound),
		errors.Is(err, quotadomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, payload("not_found", "not found")
	case errors.Is(err, adrewarddomain.ErrInvalidAdID):
		return http.StatusBadRequest, payload("invalid_ad_id", "invalid ad id")
	case errors.Is(err, adrewarddomain.ErrAdExpired):
		return http.StatusBadRequest, payload("ad_expired", "ad id expired")
	case errors.Is(err, adrewarddomain.ErrAdsNotAvailable):
		return http.StatusForbidden, payload("ads_not_available", "ad rewards not available for this tier")
	case errors.Is(err, idempotency.ErrProcessing):
		return http.StatusConflict, payload("request_in_progress", "request already in progress, retry shortly")
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, payload("unauthorized", "unauthorized")
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, payload("forbidden", "forbidden")
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func payload(errType, message string) errorPayload {
	return errorPayload{Type: errType, Message: message}
}
