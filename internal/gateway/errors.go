package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmgate/llmgate/internal/auth"
	"github.com/llmgate/llmgate/internal/authz"
	"github.com/llmgate/llmgate/internal/backend"
	"github.com/llmgate/llmgate/internal/quota"
)

// Error reasons beyond the ones carried by auth errors.
const (
	reasonInvalidRequest     = "invalid_request"
	reasonForbidden          = "forbidden"
	reasonQuotaExceeded      = "quota_exceeded"
	reasonBackendUnavailable = "backend_unavailable"
	reasonStoreUnavailable   = "quota_store_unavailable"
	reasonInternal           = "internal"
)

// ErrorBody is the machine-readable error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the failure code and context.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Reason  string `json:"reason"`
	Message string `json:"message"`

	// Quota rejections carry the capacity numbers.
	Subject   string `json:"subject,omitempty"`
	Available *int64 `json:"available,omitempty"`
	Needed    *int64 `json:"needed,omitempty"`
}

// writeError maps a pipeline failure onto a status code and envelope.
func writeError(c *gin.Context, err error) {
	var (
		authErr  *auth.Error
		denied   *authz.DeniedError
		exceeded *quota.QuotaExceededError
	)

	switch {
	case errors.As(err, &authErr):
		status := http.StatusUnauthorized
		// A missing entitlement is an authorization failure: the
		// caller is known, just not allowed.
		if authErr.Reason == auth.ReasonMissingEntitlement {
			status = http.StatusForbidden
		}
		abortWith(c, status, string(authErr.Reason), authErr.Message)

	case errors.As(err, &denied):
		abortWith(c, http.StatusForbidden, reasonForbidden, denied.Error())

	case errors.As(err, &exceeded):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorBody{
			Error: ErrorDetail{
				Code:      http.StatusTooManyRequests,
				Reason:    reasonQuotaExceeded,
				Message:   exceeded.Error(),
				Subject:   exceeded.Subject,
				Available: &exceeded.Available,
				Needed:    &exceeded.Needed,
			},
		})

	case errors.Is(err, quota.ErrStoreUnavailable):
		abortWith(c, http.StatusServiceUnavailable, reasonStoreUnavailable, "quota store is unavailable")

	case errors.Is(err, backend.ErrUnavailable):
		abortWith(c, http.StatusInternalServerError, reasonBackendUnavailable, "backend call failed")

	default:
		abortWith(c, http.StatusInternalServerError, reasonInternal, "internal error")
	}
}

func abortWith(c *gin.Context, status int, reason, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Error: ErrorDetail{
			Code:    status,
			Reason:  reason,
			Message: message,
		},
	})
}
