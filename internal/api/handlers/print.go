package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
)

type PrintHandler struct {
	svc       *core.Service
	counter   core.PageCounter
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger
}

func NewPrintHandler(svc *core.Service, counter core.PageCounter, uploadDir string, maxBytes int64, logger *slog.Logger) *PrintHandler {
	return &PrintHandler{
		svc:       svc,
		counter:   counter,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		logger:    loggerOrDefault(logger),
	}
}

// Submit accepts a multipart PDF upload with copies, color_mode and sides
// form fields. Options are checked before the upload touches disk.
func (h *PrintHandler) Submit(c *gin.Context) {
	who, _ := middleware.IdentityFrom(c)

	copies, err := strconv.Atoi(c.DefaultPostForm("copies", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid number of copies"})
		return
	}
	color := core.ColorMode(c.DefaultPostForm("color_mode", string(core.ColorModeMonochrome)))
	sides := core.DuplexMode(c.DefaultPostForm("sides", string(core.DuplexOneSided)))

	if err := core.ValidateOptions(copies, color, sides); err != nil {
		writeError(c, h.logger, err)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "File is required"})
		return
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "File too large"})
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		writeError(c, h.logger, err)
		return
	}
	dst := filepath.Join(h.uploadDir, uuid.NewString()+".pdf")
	if err := c.SaveUploadedFile(file, dst); err != nil {
		writeError(c, h.logger, err)
		return
	}

	pages, err := h.counter.PageCount(dst)
	if err != nil {
		if rmErr := os.Remove(dst); rmErr != nil {
			h.logger.Warn("failed to remove rejected upload", "path", dst, "error", rmErr)
		}
		writeError(c, h.logger, err)
		return
	}

	job, err := h.svc.Submit(c.Request.Context(), core.SubmitRequest{
		Identity:  who,
		Filename:  filepath.Base(file.Filename),
		Path:      dst,
		Copies:    copies,
		ColorMode: color,
		Duplex:    sides,
		Pages:     pages,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

// LimitBody caps request bodies at n bytes.
func LimitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func (h *PrintHandler) RegisterRoutes(ready *gin.RouterGroup) {
	// Multipart framing adds a little on top of the file itself.
	ready.POST("/print", LimitBody(h.maxBytes+1<<20), h.Submit)
}
