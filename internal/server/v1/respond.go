package v1

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/server/validator"
)

// statusFor maps a fault kind onto the HTTP status the gateway answers
// with. It is the inverse of the engine's status classification.
func statusFor(k fault.Kind) int {
	switch k {
	case fault.KindInvalidRequest:
		return http.StatusBadRequest
	case fault.KindUnauthorized:
		return http.StatusUnauthorized
	case fault.KindForbidden:
		return http.StatusForbidden
	case fault.KindNotFound:
		return http.StatusNotFound
	case fault.KindRateLimited, fault.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case fault.KindTimeout:
		return http.StatusGatewayTimeout
	case fault.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case fault.KindUnsupportedOperation:
		return http.StatusNotImplemented
	case fault.KindValidation:
		return http.StatusUnprocessableEntity
	case fault.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondFault(c *gin.Context, err error) {
	f := fault.Promote(err)
	body := gin.H{
		"kind":    f.Kind.String(),
		"message": f.Message,
	}
	if f.Details != "" {
		body["details"] = f.Details
	}
	if f.RetryAfter > 0 {
		body["retry_after"] = f.RetryAfter
		c.Header("Retry-After", strconv.Itoa(f.RetryAfter))
	}
	c.JSON(statusFor(f.Kind), gin.H{"error": body})
}

// respondBinding answers a request-body binding failure: 422 with field
// messages for validation errors, 400 for malformed payloads.
func respondBinding(c *gin.Context, err error) {
	status := http.StatusBadRequest
	kind := fault.KindInvalidRequest
	if validator.IsFieldError(err) {
		status = http.StatusUnprocessableEntity
		kind = fault.KindValidation
	}
	c.JSON(status, gin.H{"error": gin.H{
		"kind":    kind.String(),
		"message": "request validation failed",
		"fields":  validator.Fields(err),
	}})
}
