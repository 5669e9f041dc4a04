// Package fault defines the single error taxonomy shared by every capability
// and transport layer in this repository. Classification happens at the
// deepest layer that can recognize a failure; outer layers propagate the
// value unchanged.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Kind enumerates the closed set of failure kinds.
type Kind int

const (
	KindInvalidRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindQuotaExceeded
	KindTimeout
	KindServiceUnavailable
	KindUnsupportedOperation
	KindValidation
	KindTransport
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTimeout:
		return "timeout"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindUnsupportedOperation:
		return "unsupported_operation"
	case KindValidation:
		return "validation"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Fault is the tagged error value carried through the whole stack.
type Fault struct {
	Kind    Kind
	Message string
	// RetryAfter is the server-provided delay hint in seconds.
	// Only meaningful for KindRateLimited; 0 means no hint.
	RetryAfter int
	// Details carries validation specifics or the raw provider error body.
	Details string
	cause   error
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Retryable reports whether the transport layer may retry this failure.
func (f *Fault) Retryable() bool {
	switch f.Kind {
	case KindRateLimited, KindServiceUnavailable, KindTransport:
		return true
	}
	return false
}

// New builds a Fault of the given kind.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Fault of the given kind preserving the underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func Invalid(format string, args ...any) *Fault  { return New(KindInvalidRequest, format, args...) }
func Unauthorized(format string, args ...any) *Fault {
	return New(KindUnauthorized, format, args...)
}
func NotFound(format string, args ...any) *Fault { return New(KindNotFound, format, args...) }
func Timeout(format string, args ...any) *Fault  { return New(KindTimeout, format, args...) }
func Internal(format string, args ...any) *Fault { return New(KindInternal, format, args...) }

func Unsupported(operation string) *Fault {
	return New(KindUnsupportedOperation, "operation %q is not supported by this provider", operation)
}

// Validation builds a validation failure with structured details.
func Validation(details string) *Fault {
	return &Fault{Kind: KindValidation, Message: "validation failed", Details: details}
}

// Transport classifies a pure transport failure (connect, DNS, TLS, read).
func Transport(cause error, format string, args ...any) *Fault {
	return Wrap(KindTransport, cause, format, args...)
}

// As extracts a *Fault from an error chain. A nil return means the error
// was not produced by this taxonomy.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return nil
}

// Promote returns err as a *Fault, classifying unknown errors as Internal.
// Recognized kinds are never widened.
func Promote(err error) *Fault {
	if err == nil {
		return nil
	}
	if f := As(err); f != nil {
		return f
	}
	return Wrap(KindInternal, err, "%s", err.Error())
}

// FromStatus is the single total mapping from HTTP status codes to failure
// kinds. Every provider parser goes through this function.
func FromStatus(status int, body []byte, header http.Header) *Fault {
	msg := string(body)
	switch status {
	case http.StatusBadRequest:
		return &Fault{Kind: KindInvalidRequest, Message: "invalid request", Details: msg}
	case http.StatusUnauthorized:
		return &Fault{Kind: KindUnauthorized, Message: "invalid credentials or authentication failed", Details: msg}
	case http.StatusForbidden:
		return &Fault{Kind: KindForbidden, Message: "access denied or insufficient permissions", Details: msg}
	case http.StatusNotFound:
		return &Fault{Kind: KindNotFound, Message: "resource not found", Details: msg}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &Fault{Kind: KindTimeout, Message: "request timed out", Details: msg}
	case http.StatusConflict, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return &Fault{Kind: KindValidation, Message: "validation failed", Details: msg}
	case http.StatusTooManyRequests:
		f := &Fault{Kind: KindRateLimited, Message: "rate limit exceeded", Details: msg}
		if header != nil {
			if secs, err := strconv.Atoi(header.Get("Retry-After")); err == nil && secs > 0 {
				f.RetryAfter = secs
			}
		}
		return f
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return &Fault{Kind: KindServiceUnavailable, Message: fmt.Sprintf("service unavailable (status %d)", status), Details: msg}
	default:
		return &Fault{Kind: KindTransport, Message: fmt.Sprintf("unexpected status %d", status), Details: msg}
	}
}
