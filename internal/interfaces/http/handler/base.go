// Package handler exposes the inventory engine over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/interfaces/http/dto"
	"github.com/erp/inventory-core/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// HandleError converts engine errors to HTTP responses. Domain errors keep
// their code and message; anything else is reported as an internal error
// without leaking its text.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	info := errorInfo(c, err)
	middleware.SetErrorCode(c, info.Code)
	c.JSON(dto.GetHTTPStatus(info.Code), dto.Response{Success: false, Error: info})
}

func errorInfo(c *gin.Context, err error) *dto.ErrorInfo {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) && domainErr.Code != shared.CodeInternal {
		return dto.NewErrorResponseWithRequestID(domainErr.Code, domainErr.Message, middleware.RequestIDFrom(c)).Error
	}
	_ = c.Error(err)
	return dto.NewErrorResponseWithRequestID(shared.CodeInternal, "An unexpected error occurred", middleware.RequestIDFrom(c)).Error
}

// actor returns the actor header used when a body names none
func actor(c *gin.Context) string {
	return middleware.ActorFrom(c)
}
