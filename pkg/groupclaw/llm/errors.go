package llm

import (
	"fmt"
	"strings"
)

// ErrorKind classifies API errors for logging and metrics.
type ErrorKind int

const (
	ErrorTransient  ErrorKind = iota // 5xx
	ErrorRateLimit                   // 429
	ErrorOverloaded                  // 529 or "overloaded" in body
	ErrorTimeout                     // timeout reported by the endpoint
	ErrorAuth                        // 401, 403
	ErrorBilling                     // 402 or quota in body
	ErrorContext                     // context_length_exceeded
	ErrorBadRequest                  // 400
	ErrorContentFilter               // response blocked by the content filter
	ErrorFatal                       // everything else
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorTransient:
		return "transient"
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorOverloaded:
		return "overloaded"
	case ErrorTimeout:
		return "timeout"
	case ErrorAuth:
		return "auth"
	case ErrorBilling:
		return "billing"
	case ErrorContext:
		return "context"
	case ErrorBadRequest:
		return "bad_request"
	case ErrorContentFilter:
		return "content_filter"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError is a non-2xx reply from the completion endpoint.
type APIError struct {
	StatusCode int
	Body       string
	Kind       ErrorKind
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API returned %d (%s): %s", e.StatusCode, e.Kind, truncate(e.Body, 200))
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) ErrorKind {
	bodyLower := strings.ToLower(body)

	if strings.Contains(bodyLower, "context_length_exceeded") ||
		strings.Contains(bodyLower, "maximum context length") {
		return ErrorContext
	}

	// Azure reports filtered prompts as 400 with code content_filter.
	if strings.Contains(bodyLower, "content_filter") ||
		strings.Contains(bodyLower, "responsibleaipolicyviolation") {
		return ErrorContentFilter
	}

	if statusCode == 402 ||
		strings.Contains(bodyLower, "billing") ||
		strings.Contains(bodyLower, "insufficient_quota") {
		return ErrorBilling
	}

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return ErrorRateLimit
	}

	if statusCode == 529 || strings.Contains(bodyLower, "overloaded") {
		return ErrorOverloaded
	}

	if statusCode == 408 || statusCode == 504 ||
		strings.Contains(bodyLower, "timed out") {
		return ErrorTimeout
	}

	switch statusCode {
	case 400:
		return ErrorBadRequest
	case 401, 403:
		return ErrorAuth
	default:
		if statusCode >= 500 {
			return ErrorTransient
		}
		return ErrorFatal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
