package report

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/orrn/printdesk/internal/core"
)

type stubSource struct {
	jobs     []*core.Job
	err      error
	from, to time.Time
}

func (s *stubSource) ListCreatedBetween(_ context.Context, from, to time.Time) ([]*core.Job, error) {
	s.from, s.to = from, to
	return s.jobs, s.err
}

func TestMonthlyXLSX(t *testing.T) {
	created := time.Date(2024, 5, 3, 4, 0, 0, 0, time.UTC)
	src := &stubSource{jobs: []*core.Job{
		{ID: 1, UserID: 2, Filename: "a.pdf", Status: core.JobStatusCompleted, Papers: 4, Copies: 2, ColorMode: core.ColorModeMonochrome, Duplex: core.DuplexTwoSidedLong, CreatedAt: created},
		{ID: 2, UserID: 2, Filename: "b.pdf", Status: core.JobStatusFailed, Papers: 3, Copies: 1, ColorMode: core.ColorModeColor, Duplex: core.DuplexOneSided, CreatedAt: created, ErrorMessage: "jam"},
		{ID: 3, UserID: 1, Filename: "c.pdf", Status: core.JobStatusQueued, Papers: 1, Copies: 1, ColorMode: core.ColorModeMonochrome, Duplex: core.DuplexOneSided, CreatedAt: created},
	}}
	loc := time.FixedZone("IST", 5*3600+1800)
	from := time.Date(2024, 4, 30, 18, 30, 0, 0, time.UTC)
	to := time.Date(2024, 5, 31, 18, 30, 0, 0, time.UTC)

	data, err := NewExporter(src, loc, nil).MonthlyXLSX(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, from, src.from)
	assert.Equal(t, to, src.to)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(jobsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Job ID", "User ID", "Filename", "Status", "Papers", "Copies", "Color", "Sides", "Created", "Error"}, rows[0])
	assert.Equal(t, []string{"1", "2", "a.pdf", "completed", "4", "2", "bw", "two-sided-long-edge", "2024-05-03 09:30:00"}, rows[1][:9])
	assert.Equal(t, "jam", rows[2][9])

	usage, err := f.GetRows(usageSheet)
	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, []string{"1", "1", "1", "0", "0", "0"}, usage[1])
	assert.Equal(t, []string{"2", "2", "4", "1", "1", "0"}, usage[2], "failed jobs do not count toward papers")
}

func TestMonthlyXLSXSourceError(t *testing.T) {
	_, err := NewExporter(&stubSource{err: errors.New("db down")}, nil, nil).
		MonthlyXLSX(context.Background(), time.Now(), time.Now())
	assert.ErrorContains(t, err, "db down")
}

func TestWriteRowReportsErrors(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	assert.Error(t, writeRow(f, "Missing", 1, "x"))
	assert.Error(t, writeRow(f, "Sheet1", 0, "x"))
	require.NoError(t, writeRow(f, "Sheet1", 1, "x", 2))

	v, err := f.GetCellValue("Sheet1", "B1")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
