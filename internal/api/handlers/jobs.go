package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type JobResponse struct {
	ID              int64           `json:"job_id"`
	UserID          int64           `json:"user_id"`
	Filename        string          `json:"filename"`
	Status          core.JobStatus  `json:"status"`
	Papers          int             `json:"papers"`
	Copies          int             `json:"copies"`
	ColorMode       core.ColorMode  `json:"color_mode"`
	Sides           core.DuplexMode `json:"sides"`
	CancelRequested bool            `json:"cancel_requested"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func jobToResponse(j *core.Job) JobResponse {
	return JobResponse{
		ID:              j.ID,
		UserID:          j.UserID,
		Filename:        j.Filename,
		Status:          j.Status,
		Papers:          j.Papers,
		Copies:          j.Copies,
		ColorMode:       j.ColorMode,
		Sides:           j.Duplex,
		CancelRequested: j.CancelRequested,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

// Exporter renders a report of the jobs created in [from, to).
type Exporter interface {
	MonthlyXLSX(ctx context.Context, from, to time.Time) ([]byte, error)
}

type JobHandler struct {
	svc      *core.Service
	exporter Exporter
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

func NewJobHandler(svc *core.Service, exporter Exporter, loc *time.Location, logger *slog.Logger) *JobHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &JobHandler{
		svc:      svc,
		exporter: exporter,
		loc:      loc,
		logger:   loggerOrDefault(logger),
		now:      time.Now,
	}
}

func parseJobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid job id"})
		return 0, false
	}
	return id, true
}

// GetJob returns a job to its owner or to an admin. Other callers see 404.
func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	who, _ := middleware.IdentityFrom(c)

	job, err := h.svc.JobStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if job.UserID != who.UserID && !who.IsAdmin() {
		writeError(c, h.logger, core.ErrJobNotFound)
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) ListMyJobs(c *gin.Context) {
	who, _ := middleware.IdentityFrom(c)

	jobs, err := h.svc.ListUserJobs(c.Request.Context(), who.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) GetQuota(c *gin.Context) {
	who, _ := middleware.IdentityFrom(c)

	usage, err := h.svc.MonthlyUsage(c.Request.Context(), who.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (h *JobHandler) ListAllJobs(c *gin.Context) {
	jobs, err := h.svc.ListAllJobs(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	who, _ := middleware.IdentityFrom(c)

	outcome, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("admin cancel", "job_id", id, "admin_id", who.UserID, "outcome", outcome)

	msg := "Job cancelled (queued)"
	if outcome == core.CancelRequested {
		msg = "Cancel requested (printing)"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "outcome": outcome})
}

// ExportJobs streams an XLSX report for ?month=YYYY-MM, read in the quota
// time zone. The current month is the default.
func (h *JobHandler) ExportJobs(c *gin.Context) {
	month := h.now().In(h.loc)
	if v := c.Query("month"); v != "" {
		t, err := time.ParseInLocation("2006-01", v, h.loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid month, expected YYYY-MM"})
			return
		}
		month = t
	}

	from, to := h.svc.Quota().Window(month)
	data, err := h.exporter.MonthlyXLSX(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	filename := fmt.Sprintf("print-jobs-%s.xlsx", month.Format("2006-01"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// RegisterRoutes mounts the job routes. authed requires a token, ready
// additionally requires a changed password, admin requires the admin role.
func (h *JobHandler) RegisterRoutes(authed, ready, admin *gin.RouterGroup) {
	authed.GET("/quota", h.GetQuota)
	authed.GET("/job/:id", h.GetJob)
	ready.GET("/jobs", h.ListMyJobs)
	admin.GET("/jobs", h.ListAllJobs)
	admin.GET("/jobs/export", h.ExportJobs)
	admin.POST("/job/:id/cancel", h.CancelJob)
}
