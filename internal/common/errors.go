package common

import (
	"errors"
	"fmt"
	"regexp"
)

// AppError represents application-specific errors.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Extraction error taxonomy. Tiers use errors.Is against these sentinels to
// decide whether to retry, escalate, or fail.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDocumentParse      = errors.New("document parse failed")     // fatal, no fallback
	ErrEmptyResult        = errors.New("extraction returned empty") // soft, next tier
	ErrRateLimited        = errors.New("rate limited")              // retryable with backoff
	ErrQuotaExceeded      = errors.New("quota exceeded")            // retryable with backoff
	ErrCompletion         = errors.New("completion service error")  // terminal for its tier
	ErrCatalogUnavailable = errors.New("catalog unavailable")       // degrade to stale/unvalidated
	ErrTimeout            = errors.New("extraction timed out")      // abort, return failure
)

// NewAppError constructs an AppError.
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

var rateLimitPattern = regexp.MustCompile(`(?i)rate limit|too many requests|quota exceeded|429|TPM|RPM`)

// IsRateLimitMessage reports whether an upstream error message describes a
// rate-limit or quota condition.
func IsRateLimitMessage(msg string) bool {
	return rateLimitPattern.MatchString(msg)
}

// IsRetryable reports whether err should be retried under the backoff policy.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	return err != nil && IsRateLimitMessage(err.Error())
}
