// Package errors provides the standardized error taxonomy shared by the API
// handlers and the workflow job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Coarse API codes
const (
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeConflict        ErrorCode = "CONFLICT"
	ErrCodeInternal        ErrorCode = "INTERNAL_SERVER_ERROR"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
)

// Domain codes
const (
	ErrCodePlanLimitExceeded ErrorCode = "PLAN_LIMIT_EXCEEDED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "DATABASE_QUERY_FAILED"

	ErrCodeSearchQueryFailed ErrorCode = "SEARCH_FAILED"

	ErrCodeLLMTimeout       ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMRequestFailed ErrorCode = "LLM_REQUEST_FAILED"
	ErrCodeLLMCircuitOpen   ErrorCode = "LLM_CIRCUIT_OPEN"

	ErrCodeDispatchFailed     ErrorCode = "DISPATCH_FAILED"
	ErrCodeEvolutionAPIFailed ErrorCode = "EVOLUTION_API_FAILED"
	ErrCodeDecryptionFailed   ErrorCode = "DECRYPTION_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeWebhookRejected        ErrorCode = "WEBHOOK_REJECTED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a key to the error metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Access denied", details, false)
}

func NewUnauthorizedError(details string) *StandardError {
	return newError(ErrCodeUnauthorized, "Authentication required", details, false)
}

// NewNotFoundError reports a missing row of the given entity.
func NewNotFoundError(entity, id string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", entity), fmt.Sprintf("id: %s", id), false)
}

func NewBadRequestError(details string) *StandardError {
	return newError(ErrCodeBadRequest, "Invalid request", details, false)
}

func NewConflictError(details string) *StandardError {
	return newError(ErrCodeConflict, "Resource conflict", details, false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", errDetails(err), false)
}

func NewTooManyRequestsError(details string) *StandardError {
	return newError(ErrCodeTooManyRequests, "Rate limit exceeded", details, true)
}

// NewPlanLimitExceededError creates a non-retryable plan limit error.
func NewPlanLimitExceededError(resource string, limit, usage int) *StandardError {
	return newError(ErrCodePlanLimitExceeded, "Plan limit reached",
		fmt.Sprintf("resource: %s, limit: %d, usage: %d", resource, limit, usage), false).
		WithMetadata("resource", resource).
		WithMetadata("limit", limit)
}

func NewValidationFailedError(details string) *StandardError {
	return newError(ErrCodeValidationFailed, "Payload validation failed", details, false)
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newError(ErrCodeDatabaseConnectionFailed, "Database connection error", errDetails(err), true)
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeQueryExecutionFailed, "Database query execution error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, errDetails(err)), true)
}

func NewSearchQueryFailedError(queryType string, err error) *StandardError {
	return newError(ErrCodeSearchQueryFailed, "Search query error",
		fmt.Sprintf("queryType: %s, error: %s", queryType, errDetails(err)), true)
}

func NewLLMTimeoutError(timeout time.Duration) *StandardError {
	return newError(ErrCodeLLMTimeout, "LLM request timeout",
		fmt.Sprintf("LLM call exceeded %s", timeout), true)
}

func NewLLMRequestFailedError(err error) *StandardError {
	return newError(ErrCodeLLMRequestFailed, "LLM API error", errDetails(err), true)
}

func NewLLMCircuitOpenError(err error) *StandardError {
	return newError(ErrCodeLLMCircuitOpen, "LLM provider temporarily unavailable", errDetails(err), true)
}

func NewDispatchFailedError(err error) *StandardError {
	return newError(ErrCodeDispatchFailed, "Reply dispatch failed", errDetails(err), true)
}

func NewEvolutionAPIFailedError(operation string, err error) *StandardError {
	return newError(ErrCodeEvolutionAPIFailed, "WhatsApp gateway error",
		fmt.Sprintf("operation: %s, error: %s", operation, errDetails(err)), true)
}

func NewDecryptionFailedError(err error) *StandardError {
	return newError(ErrCodeDecryptionFailed, "Stored credential could not be decrypted", errDetails(err), false)
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return newError(ErrCodeNotificationSendFailed, "Notification delivery failed",
		fmt.Sprintf("type: %s, error: %s", notificationType, errDetails(err)), true)
}

func NewWebhookRejectedError(reason string) *StandardError {
	return newError(ErrCodeWebhookRejected, "Webhook rejected", reason, false)
}

func errDetails(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// From normalizes any error into a StandardError.
func From(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var stdErr *StandardError
	return stderrors.As(err, &stdErr) && stdErr.Code == code
}

// ==========================
// 4. HTTP / BPMN mapping
// ==========================

// HTTPStatus maps an error code to the response status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeWebhookRejected:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodePlanLimitExceeded, ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeLLMCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetRetryCount returns how many times a workflow job failing with code is retried.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeEvolutionAPIFailed,
		ErrCodeDispatchFailed,
		ErrCodeLLMRequestFailed:
		return 3

	case ErrCodeLLMCircuitOpen, ErrCodeTooManyRequests:
		return 2

	case ErrCodeLLMTimeout:
		return 1

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError maps a StandardError to the error thrown to the workflow engine.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "PLAN"):
		return "PLAN"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "LLM"):
		return "AI"
	case strings.Contains(codeStr, "DISPATCH") || strings.Contains(codeStr, "EVOLUTION") || strings.Contains(codeStr, "WEBHOOK"):
		return "MESSAGING"
	case strings.Contains(codeStr, "FORBIDDEN") || strings.Contains(codeStr, "UNAUTHORIZED") || strings.Contains(codeStr, "DECRYPTION"):
		return "AUTH"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "BAD_REQUEST"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
