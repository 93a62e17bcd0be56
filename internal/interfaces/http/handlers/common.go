// Package handlers implements the JSON endpoints of the search service.
package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/pkg/errors"
	"github.com/turtacn/progres-go/pkg/types/api"
)

// writeAppError maps err to its HTTP status. Server-side failures without a
// specific code are masked.
func writeAppError(c *gin.Context, log logging.Logger, err error) {
	code := errors.GetCode(err)
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		code = errors.ErrCodeRequestTooLarge
	}
	status := errors.HTTPStatus(code)

	resp := api.ErrorResponse{
		Code:      code.String(),
		Message:   err.Error(),
		RequestID: c.Writer.Header().Get("X-Request-ID"),
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", logging.String("code", resp.Code), logging.Err(err))
		if code == errors.ErrCodeInternal || code == errors.CodeUnknown {
			resp.Code = string(errors.ErrCodeInternal)
			resp.Message = "internal server error"
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

// badRequest reports a malformed request body.
func badRequest(c *gin.Context, log logging.Logger, err error) {
	var maxErr *http.MaxBytesError
	if stderrors.As(err, &maxErr) {
		writeAppError(c, log, errors.Wrap(err, errors.ErrCodeRequestTooLarge, "request body too large"))
		return
	}
	writeAppError(c, log, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body"))
}
