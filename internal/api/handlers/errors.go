package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/core"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		validation *core.ValidationError
		document   *core.DocumentError
		quota      *core.QuotaExceededError
		conflict   *core.StateConflictError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &document):
		return http.StatusBadRequest
	case errors.As(err, &quota):
		return http.StatusForbidden
	case errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError sends err to the client. Internal failures are logged and
// reported without their detail.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusNotFound {
		msg = "Job not found"
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		msg = "Internal server error"
		var printerErr *core.PrinterServiceError
		if errors.As(err, &printerErr) {
			msg = "Printer service unavailable"
		}
	}
	c.JSON(status, ErrorResponse{Error: msg})
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
