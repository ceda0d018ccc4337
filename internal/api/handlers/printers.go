package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/core"
)

type PrinterHandler struct {
	svc    *core.Service
	logger *slog.Logger
}

func NewPrinterHandler(svc *core.Service, logger *slog.Logger) *PrinterHandler {
	return &PrinterHandler{svc: svc, logger: loggerOrDefault(logger)}
}

func (h *PrinterHandler) GetCapabilities(c *gin.Context) {
	caps, err := h.svc.PrinterCapabilities(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, caps)
}

func (h *PrinterHandler) GetStatus(c *gin.Context) {
	status, err := h.svc.PrinterStatus(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printer/capabilities", h.GetCapabilities)
	r.GET("/printer/status", h.GetStatus)
}
