// Package errors defines the single error taxonomy shared across the
// SDK. Every Code carries a numeric identifier, a default message, and
// a Recoverable bit that drives retry and circuit-breaker behavior.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code is a stable error identifier. Numeric ranges follow the
// catalogue categories: Initialization 1000-1099, Authentication
// 1100-1199, Evaluation 1200-1299, Network/HTTP 1300-1399, Cache
// 1400-1499, Event 1500-1599, Configuration 1600-1699, Security
// 1700-1799, Streaming 1800-1899.
type Code struct {
	Name        string
	Numeric     int
	Message     string
	Recoverable bool
}

func (c Code) String() string { return c.Name }

var (
	InitFailed             = Code{"INIT_FAILED", 1000, "SDK initialization failed", false}
	InitTimeout            = Code{"INIT_TIMEOUT", 1001, "Initialization timed out", true}
	InitAlreadyInitialized = Code{"INIT_ALREADY_INITIALIZED", 1002, "SDK already initialized", false}
	InitNotInitialized     = Code{"INIT_NOT_INITIALIZED", 1003, "SDK not initialized", false}
	SDKNotReady            = Code{"SDK_NOT_READY", 1006, "SDK not ready", false}

	AuthInvalidKey             = Code{"AUTH_INVALID_KEY", 1100, "Invalid API key", false}
	AuthExpiredKey              = Code{"AUTH_EXPIRED_KEY", 1101, "API key has expired", false}
	AuthMissingKey              = Code{"AUTH_MISSING_KEY", 1102, "API key is missing", false}
	AuthUnauthorized            = Code{"AUTH_UNAUTHORIZED", 1103, "Unauthorized access", false}
	AuthRevokedKey              = Code{"AUTH_REVOKED_KEY", 1104, "API key has been revoked", false}
	AuthSubscriptionSuspended   = Code{"AUTH_SUBSCRIPTION_SUSPENDED", 1109, "Subscription is suspended", false}

	EvalFlagNotFound = Code{"EVAL_FLAG_NOT_FOUND", 1200, "Flag does not exist", false}
	EvalTypeMismatch = Code{"EVAL_TYPE_MISMATCH", 1201, "Flag value type mismatch", false}
	EvalInvalidKey   = Code{"EVAL_INVALID_KEY", 1202, "Invalid flag key", false}
	EvalError        = Code{"EVAL_ERROR", 1205, "Evaluation error", false}
	EvalStaleValue   = Code{"EVAL_STALE_VALUE", 1208, "Using stale cached value", true}

	NetworkError            = Code{"NETWORK_ERROR", 1300, "Network request failed", true}
	NetworkTimeout          = Code{"NETWORK_TIMEOUT", 1301, "Request timed out", true}
	NetworkRetryLimit       = Code{"NETWORK_RETRY_LIMIT", 1302, "Retry limit exceeded", true}
	HTTPBadRequest          = Code{"HTTP_BAD_REQUEST", 1310, "Bad request", false}
	HTTPUnauthorized        = Code{"HTTP_UNAUTHORIZED", 1311, "Unauthorized", false}
	HTTPForbidden           = Code{"HTTP_FORBIDDEN", 1312, "Forbidden", false}
	HTTPNotFound            = Code{"HTTP_NOT_FOUND", 1313, "Not found", false}
	HTTPRateLimited         = Code{"HTTP_RATE_LIMITED", 1314, "Rate limit exceeded", true}
	HTTPServerError         = Code{"HTTP_SERVER_ERROR", 1315, "Server error", true}
	HTTPInvalidResponse     = Code{"HTTP_INVALID_RESPONSE", 1318, "Invalid HTTP response", false}
	HTTPError               = Code{"HTTP_ERROR", 1319, "HTTP request failed", false}
	CircuitOpen             = Code{"CIRCUIT_OPEN", 1350, "Circuit breaker is open", true}

	CacheReadError  = Code{"CACHE_READ_ERROR", 1400, "Failed to read from cache", false}
	CacheWriteError = Code{"CACHE_WRITE_ERROR", 1401, "Failed to write to cache", false}
	CacheExpired    = Code{"CACHE_EXPIRED", 1403, "Cache has expired", true}

	EventQueueFull  = Code{"EVENT_QUEUE_FULL", 1500, "Event queue is full", false}
	EventSendFailed = Code{"EVENT_SEND_FAILED", 1503, "Failed to send event", true}

	ConfigInvalidURL      = Code{"CONFIG_INVALID_URL", 1600, "Invalid URL configuration", false}
	ConfigInvalidInterval = Code{"CONFIG_INVALID_INTERVAL", 1601, "Invalid interval configuration", false}
	ConfigMissingRequired = Code{"CONFIG_MISSING_REQUIRED", 1602, "Missing required configuration", false}
	ConfigInvalidAPIKey   = Code{"CONFIG_INVALID_API_KEY", 1603, "Invalid API key configuration", false}

	SecuritySignatureInvalid  = Code{"SECURITY_SIGNATURE_INVALID", 1701, "Invalid signature", false}
	SecuritySignatureExpired  = Code{"SECURITY_SIGNATURE_EXPIRED", 1702, "Signature has expired", false}
	SecurityEncryptionFailed  = Code{"SECURITY_ENCRYPTION_FAILED", 1703, "Encryption failed", false}
	SecurityDecryptionFailed  = Code{"SECURITY_DECRYPTION_FAILED", 1704, "Decryption failed", false}
	SecurityBootstrapInvalid  = Code{"SECURITY_BOOTSTRAP_INVALID", 1705, "Invalid bootstrap data", false}
	SecurityBootstrapExpired  = Code{"SECURITY_BOOTSTRAP_EXPIRED", 1706, "Bootstrap data has expired", false}

	StreamingTokenInvalid            = Code{"STREAMING_TOKEN_INVALID", 1800, "Stream token is invalid", true}
	StreamingTokenExpired            = Code{"STREAMING_TOKEN_EXPIRED", 1801, "Stream token has expired", true}
	StreamingSubscriptionSuspended   = Code{"STREAMING_SUBSCRIPTION_SUSPENDED", 1802, "Organization subscription suspended", false}
	StreamingConnectionLimit         = Code{"STREAMING_CONNECTION_LIMIT", 1803, "Too many concurrent streaming connections", true}
	StreamingUnavailable             = Code{"STREAMING_UNAVAILABLE", 1804, "Streaming service not available", true}

	InternalError = Code{"INTERNAL_ERROR", 1900, "Internal SDK error", false}
)

// Error is the concrete error type returned across the SDK. It wraps an
// optional underlying cause and can be unwrapped with errors.Unwrap.
type Error struct {
	Code    Code
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code.Name, e.Code.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code.Name, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether e's code is marked recoverable.
func (e *Error) Recoverable() bool { return e.Code.Recoverable }

// New builds an Error from a code with an optional formatted detail.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Wrap builds an Error from a code, a detail, and an underlying cause.
func Wrap(code Code, detail string, cause error) *Error {
	return &Error{Code: code, Detail: detail, Cause: cause}
}

// IsRecoverable reports whether err is a *Error marked recoverable. A
// non-*Error is treated as non-recoverable.
func IsRecoverable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Recoverable()
	}
	return false
}
