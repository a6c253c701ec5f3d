package llm

import (
	"errors"
	"fmt"
)

// ErrorType classifies provider errors for UI handling
type ErrorType string

const (
	ErrorTypeRateLimit    ErrorType = "rate_limit"    // 429 - too many requests
	ErrorTypeAuth         ErrorType = "auth"          // 401 - bad API key
	ErrorTypeModeration   ErrorType = "moderation"    // 403 - content flagged
	ErrorTypeProviderDown ErrorType = "provider_down" // 502/503 - upstream issue
	ErrorTypeNetwork      ErrorType = "network"       // transport failure
	ErrorTypeUnknown      ErrorType = "unknown"       // Fallback
)

// ProviderError is a structured error returned by LLM clients.
// Provider failures always terminate the current turn; the orchestrator never
// retries them automatically.
type ProviderError struct {
	Type     ErrorType // Classification
	Provider string    // "openrouter"
	Code     string    // Raw error code ("429")
	Message  string    // Human-readable message
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap allows errors.Is/As to work through wrapped errors
func (e *ProviderError) Unwrap() error {
	return nil
}

// IsProviderError checks if err is a ProviderError and returns it
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// NewProviderError creates a new ProviderError with the given parameters
func NewProviderError(provider string, errType ErrorType, code, message string) *ProviderError {
	return &ProviderError{
		Type:     errType,
		Provider: provider,
		Code:     code,
		Message:  message,
	}
}

// ClassifyStatus maps an HTTP status code onto the error taxonomy.
func ClassifyStatus(status int) ErrorType {
	switch {
	case status == 401:
		return ErrorTypeAuth
	case status == 403:
		return ErrorTypeModeration
	case status == 429:
		return ErrorTypeRateLimit
	case status >= 500:
		return ErrorTypeProviderDown
	default:
		return ErrorTypeUnknown
	}
}
