package middleware

import (
	"net/http"

	"github.com/erp/inventory-core/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// abortWithError ends the request with an API error and tags its code for
// HTTPMetrics.
func abortWithError(c *gin.Context, status int, code, message string) {
	SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(code, message, RequestIDFrom(c)))
}

// BodyLimit rejects bodies larger than maxBytes. Declared lengths are checked
// up front; chunked bodies fail on read with http.MaxBytesError, which
// HandleValidationError maps to the same code. A non-positive maxBytes
// disables the limit.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		return passThrough
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortWithError(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge,
				"Request body exceeds maximum allowed size")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
