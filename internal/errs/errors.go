package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error raised by the crawl core. It is a closed set:
// every error crossing a package boundary inside the engine carries one.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindRateLimit
	KindProxy
	KindServer
	KindCookie
	KindParse
	KindValidation
	KindConflict
	KindNotFound
	KindConfig
	KindStorage
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindProxy:
		return "proxy"
	case KindServer:
		return "server"
	case KindCookie:
		return "cookie"
	case KindParse:
		return "parse"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindConfig:
		return "config"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the structured error type used throughout the crawl core.
type Error struct {
	Kind       Kind
	Message    string
	URL        string
	StatusCode int
	// RetryAfter carries a server-specified wait (429 Retry-After).
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.URL)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindUnknown when err is not an
// *Error created by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// RetryAfterOf returns the server-specified wait carried by a rate-limit
// error, or 0.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Network builds a connection-level failure.
func Network(url, msg string, cause error) *Error {
	return &Error{Kind: KindNetwork, Message: msg, URL: url, Err: cause}
}

// Timeout builds a deadline-exceeded failure.
func Timeout(url, msg string, cause error) *Error {
	return &Error{Kind: KindTimeout, Message: msg, URL: url, Err: cause}
}

// RateLimit builds a 429 failure carrying the server's Retry-After hint.
func RateLimit(url string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Message:    "rate limited",
		URL:        url,
		StatusCode: 429,
		RetryAfter: retryAfter,
	}
}

// Server builds a 5xx-class failure.
func Server(url string, status int) *Error {
	return &Error{
		Kind:       KindServer,
		Message:    fmt.Sprintf("server error %d", status),
		URL:        url,
		StatusCode: status,
	}
}

// Proxy builds a proxy connect/auth failure.
func Proxy(proxyURL string, status int) *Error {
	return &Error{
		Kind:       KindProxy,
		Message:    fmt.Sprintf("proxy error %d", status),
		URL:        proxyURL,
		StatusCode: status,
	}
}

// Cookie builds a 401/403-while-using-cookies failure.
func Cookie(url string, status int) *Error {
	return &Error{
		Kind:       KindCookie,
		Message:    fmt.Sprintf("cookie rejected with %d", status),
		URL:        url,
		StatusCode: status,
	}
}

// Parse builds a selector/extraction failure.
func Parse(msg string, cause error) *Error {
	return &Error{Kind: KindParse, Message: msg, Err: cause}
}

// Validation builds a bad-input failure surfaced synchronously to callers.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, StatusCode: 400}
}

// Conflict builds an illegal-state failure, e.g. starting a running task.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg, StatusCode: 409}
}

// NotFound builds an unknown-identifier failure.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, StatusCode: 404}
}

// Config builds a bad-configuration failure.
func Config(msg string) *Error {
	return &Error{Kind: KindConfig, Message: msg, StatusCode: 400}
}

// Storage builds a persistence/export failure.
func Storage(msg string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: cause}
}

// HTTPStatus maps an error to the status code an API layer should answer
// with. Unclassified errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindConfig:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindRateLimit:
		return 429
	case KindTimeout:
		return 504
	case KindNetwork, KindProxy, KindServer:
		return 502
	default:
		return 500
	}
}
