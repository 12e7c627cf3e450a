package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken       = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken       = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidCredentials = &AppError{http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password"}
	ErrInvalidSignature   = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}
	ErrForbidden          = &AppError{http.StatusForbidden, "FORBIDDEN", "You do not have access to this resource"}
	ErrInvalidRequest     = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed   = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound   = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError      = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidState      = &AppError{http.StatusUnprocessableEntity, "INVALID_STATE", "Operation not allowed in the current state"}
	ErrInvalidAmount     = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must not be negative"}
	ErrInvalidPeriod     = &AppError{http.StatusBadRequest, "INVALID_PERIOD", "Period start must not be after period end"}
	ErrInvalidCommission = &AppError{http.StatusBadRequest, "INVALID_COMMISSION", "Commission percentage must be between 0 and 100"}
	ErrSettlementExists  = &AppError{http.StatusConflict, "SETTLEMENT_CONFLICT", "An active settlement already covers this period"}
	ErrConflict          = &AppError{http.StatusConflict, "CONFLICT", "Resource is in conflict with another request, please retry"}
	ErrVersionConflict   = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrGateway           = &AppError{http.StatusBadGateway, "GATEWAY_ERROR", "Payment gateway rejected the request"}
	ErrGatewayTimeout    = &AppError{http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", "Payment gateway did not answer in time; the outcome is unknown"}

	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrIdempotencyConflict   = &AppError{http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency key already used with a different request"}
	ErrRequestInProgress     = &AppError{http.StatusConflict, "REQUEST_IN_PROGRESS", "A request with this Idempotency-Key is still running"}
)
