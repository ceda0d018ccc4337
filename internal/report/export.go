package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/orrn/printdesk/internal/core"
)

const (
	jobsSheet  = "Jobs"
	usageSheet = "Usage"
)

// JobSource lists jobs created in a half-open interval.
type JobSource interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*core.Job, error)
}

// Exporter builds monthly XLSX reports of print activity.
type Exporter struct {
	source JobSource
	loc    *time.Location
	logger *slog.Logger
}

func NewExporter(source JobSource, loc *time.Location, logger *slog.Logger) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{source: source, loc: loc, logger: logger}
}

type userUsage struct {
	userID    int64
	jobs      int
	papers    int
	completed int
	failed    int
	cancelled int
}

func counted(s core.JobStatus) bool {
	return s == core.JobStatusQueued || s == core.JobStatusPrinting || s == core.JobStatusCompleted
}

// MonthlyXLSX returns a workbook with one row per job created in [from, to)
// and a per-user usage summary. Timestamps are rendered in the exporter's
// time zone.
func (e *Exporter) MonthlyXLSX(ctx context.Context, from, to time.Time) ([]byte, error) {
	start := time.Now()

	jobs, err := e.source.ListCreatedBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", jobsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(usageSheet); err != nil {
		return nil, err
	}

	headers := []any{
		"Job ID",
		"User ID",
		"Filename",
		"Status",
		"Papers",
		"Copies",
		"Color",
		"Sides",
		"Created",
		"Error",
	}
	if err := writeRow(f, jobsSheet, 1, headers...); err != nil {
		return nil, err
	}

	usage := make(map[int64]*userUsage)
	for i, j := range jobs {
		err := writeRow(f, jobsSheet, i+2,
			j.ID,
			j.UserID,
			j.Filename,
			string(j.Status),
			j.Papers,
			j.Copies,
			string(j.ColorMode),
			string(j.Duplex),
			j.CreatedAt.In(e.loc).Format("2006-01-02 15:04:05"),
			j.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}

		u, ok := usage[j.UserID]
		if !ok {
			u = &userUsage{userID: j.UserID}
			usage[j.UserID] = u
		}
		u.jobs++
		if counted(j.Status) {
			u.papers += j.Papers
		}
		switch j.Status {
		case core.JobStatusCompleted:
			u.completed++
		case core.JobStatusFailed:
			u.failed++
		case core.JobStatusCancelled:
			u.cancelled++
		}
	}

	users := make([]*userUsage, 0, len(usage))
	for _, u := range usage {
		users = append(users, u)
	}
	sort.Slice(users, func(i, k int) bool { return users[i].userID < users[k].userID })

	if err := writeRow(f, usageSheet, 1, "User ID", "Jobs", "Papers Used", "Completed", "Failed", "Cancelled"); err != nil {
		return nil, err
	}
	for i, u := range users {
		if err := writeRow(f, usageSheet, i+2, u.userID, u.jobs, u.papers, u.completed, u.failed, u.cancelled); err != nil {
			return nil, err
		}
	}

	for _, w := range columnWidths {
		if err := f.SetColWidth(w.sheet, w.from, w.to, w.width); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Info("monthly report exported",
		"from", from,
		"to", to,
		"rows", len(jobs),
		"elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

var columnWidths = []struct {
	sheet    string
	from, to string
	width    float64
}{
	{jobsSheet, "C", "C", 36},
	{jobsSheet, "G", "I", 20},
	{jobsSheet, "J", "J", 48},
	{usageSheet, "A", "F", 14},
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
