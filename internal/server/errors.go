package server

import (
	"errors"
	"net/http"
	"strconv"

	auditdomain "github.com/baridihq/baridi/internal/audit/domain"
	credsdomain "github.com/baridihq/baridi/internal/credentials/domain"
	"github.com/baridihq/baridi/internal/gateway/daraja"
	gwdomain "github.com/baridihq/baridi/internal/gateway/domain"
	ledgerdomain "github.com/baridihq/baridi/internal/ledger/domain"
	tabdomain "github.com/baridihq/baridi/internal/tab/domain"
	txndomain "github.com/baridihq/baridi/internal/transaction/domain"
	"github.com/gin-gonic/gin"
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
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

		var rlErr *gwdomain.RateLimitedError
		if errors.As(lastErr.Err, &rlErr) {
			c.Header("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many payment attempts, try again later",
			}})
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
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, txndomain.ErrDuplicateCheckoutID),
		errors.Is(err, txndomain.ErrDuplicateReceipt),
		errors.Is(err, ledgerdomain.ErrDuplicateReference):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, credsdomain.ErrNotConfigured):
		// Customer-facing: never reveal that the venue has not finished setup.
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "payment service temporarily unavailable",
		}
	case isGatewayError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "payment provider unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidPhoneNumber),
		errors.Is(err, txndomain.ErrInvalidAmount),
		errors.Is(err, txndomain.ErrInvalidEnvironment),
		errors.Is(err, credsdomain.ErrInvalidEnvironment),
		errors.Is(err, credsdomain.ErrInvalidCredentials),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidMethod),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, txndomain.ErrNotFound),
		errors.Is(err, tabdomain.ErrTabNotFound),
		errors.Is(err, auditdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isGatewayError(err error) bool {
	var reqErr *daraja.RequestError
	switch {
	case errors.Is(err, daraja.ErrTimeout),
		errors.Is(err, daraja.ErrUnauthorized),
		errors.As(err, &reqErr):
		return true
	default:
		return false
	}
}
