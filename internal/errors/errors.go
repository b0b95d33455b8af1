package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/portfolio-tracker/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryNotFound is expected absence: no data, unknown symbol, provider timeout
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryIdentityMismatch means a fetched name failed validation against the known mapping
	CategoryIdentityMismatch ErrorCategory = "identity_mismatch"
	// CategoryInvalidInput covers malformed ids and unparseable records
	CategoryInvalidInput ErrorCategory = "invalid_input"
	// CategoryDuplicate is a fingerprint collision
	CategoryDuplicate ErrorCategory = "duplicate"
	// CategoryDegraded marks data accepted with a visible degradation (missing FX rate)
	CategoryDegraded ErrorCategory = "degraded"
	// CategoryAuthorization represents authorization errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryRateLimit represents API rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryProvider represents data provider transport errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents everything else on our side (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Expected outcomes (recovered locally, reported in results)

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewQuoteNotFoundError wraps the reason a ticker could not be resolved
func NewQuoteNotFoundError(ticker string, cause error) *CategorizedError {
	e := NewNotFoundError("quote", ticker)
	e.Code = "QUOTE_NOT_FOUND"
	e.Cause = cause
	return e
}

// NewIdentityMismatchError reports a fetched name that does not match the recorded company
func NewIdentityMismatchError(ticker, expected, fetched string, score float64) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryIdentityMismatch,
		StatusCode: http.StatusNotFound,
		Code:       "IDENTITY_MISMATCH",
		Message:    fmt.Sprintf("fetched name %q does not match %q for %s", fetched, expected, ticker),
		Details: map[string]interface{}{
			"ticker":     ticker,
			"expected":   expected,
			"fetched":    fetched,
			"similarity": score,
		},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewInvalidInstrumentIDError is returned for ids rejected by the asset-class pattern
func NewInvalidInstrumentIDError(id string, class types.AssetClass) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidInput,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INSTRUMENT_ID",
		Message:    fmt.Sprintf("rejected %s id '%s'", class, id),
		Details: map[string]interface{}{
			"id":          id,
			"asset_class": string(class),
		},
	}
}

// NewDuplicateError reports a fingerprint that already exists for the user
func NewDuplicateError(fingerprint string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDuplicate,
		StatusCode: http.StatusConflict,
		Code:       "DUPLICATE_TRANSACTION",
		Message:    "transaction already imported",
		Details: map[string]interface{}{
			"fingerprint": fingerprint,
		},
	}
}

// NewMissingRateError marks a base amount that was degraded to zero
func NewMissingRateError(currency, date string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDegraded,
		StatusCode: http.StatusOK,
		Code:       "FX_RATE_MISSING",
		Message:    fmt.Sprintf("no %s rate on or before %s", currency, date),
		Details: map[string]interface{}{
			"currency": currency,
			"date":     date,
		},
	}
}

// API errors

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfter": retryAfter,
		},
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "SERVICE_UNAVAILABLE",
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details: map[string]interface{}{
			"service": service,
		},
	}
}

// Data Provider Errors

// NewProviderError creates a data provider error
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       "PROVIDER_ERROR",
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       "PROVIDER_TIMEOUT",
		Message:    fmt.Sprintf("data provider timeout: %s", provider),
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	c := &CategorizedError{
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	}
	switch err.Code {
	case "INVALID_PARAMETER", "INVALID_INSTRUMENT_ID", "INVALID_RECORD":
		c.Category, c.StatusCode = CategoryInvalidInput, http.StatusBadRequest
	case "NOT_FOUND", "QUOTE_NOT_FOUND", "INSTRUMENT_NOT_FOUND", "RATE_NOT_FOUND":
		c.Category, c.StatusCode = CategoryNotFound, http.StatusNotFound
	case "IDENTITY_MISMATCH":
		c.Category, c.StatusCode = CategoryIdentityMismatch, http.StatusNotFound
	case "DUPLICATE_TRANSACTION":
		c.Category, c.StatusCode = CategoryDuplicate, http.StatusConflict
	case "UNAUTHORIZED":
		c.Category, c.StatusCode = CategoryAuthorization, http.StatusUnauthorized
	default:
		c.Category, c.StatusCode = CategorySystem, http.StatusInternalServerError
	}
	return c
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsExpectedAbsence reports whether err is one of the outcomes that callers
// fold into a NotFound result instead of failing.
func IsExpectedAbsence(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryNotFound, CategoryIdentityMismatch, CategoryProvider:
		return true
	default:
		return false
	}
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 500
}
