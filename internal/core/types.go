package core

import (
	"time"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition can leave s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the job state machine allows s -> to.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return to == JobStatusPrinting || to == JobStatusCancelled
	case JobStatusPrinting:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusCancelled
	}
	return false
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusPrinting, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

type ColorMode string

const (
	ColorModeMonochrome ColorMode = "bw"
	ColorModeColor      ColorMode = "color"
)

// ColorModel is the spooler's color profile name for the mode.
func (c ColorMode) ColorModel() string {
	if c == ColorModeColor {
		return "RGB"
	}
	return "Gray"
}

type DuplexMode string

const (
	DuplexOneSided     DuplexMode = "one-sided"
	DuplexTwoSidedLong DuplexMode = "two-sided-long-edge"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the already-authenticated caller of a core entry point.
type Identity struct {
	UserID int64
	Role   Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type Job struct {
	ID              int64      `json:"job_id"`
	UserID          int64      `json:"user_id"`
	Status          JobStatus  `json:"status"`
	Filename        string     `json:"filename"`
	FilePath        string     `json:"file_path"`
	Papers          int        `json:"papers"`
	Copies          int        `json:"copies"`
	ColorMode       ColorMode  `json:"color_mode"`
	Duplex          DuplexMode `json:"sides"`
	CancelRequested bool       `json:"cancel_requested"`
	ExternalID      int        `json:"external_id,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type JobSummary struct {
	ID        int64     `json:"job_id"`
	UserID    int64     `json:"user_id"`
	Filename  string    `json:"filename"`
	Status    JobStatus `json:"status"`
	Papers    int       `json:"papers"`
	CreatedAt time.Time `json:"created_at"`
}

func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		UserID:    j.UserID,
		Filename:  j.Filename,
		Status:    j.Status,
		Papers:    j.Papers,
		CreatedAt: j.CreatedAt,
	}
}

type Usage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type PrintOptions struct {
	Copies     int
	Duplex     DuplexMode
	ColorModel string
}

type Capabilities struct {
	Duplex    bool `json:"duplex"`
	Color     bool `json:"color"`
	MaxCopies int  `json:"max_copies"`
}

type PrinterState string

const (
	PrinterStateIdle     PrinterState = "idle"
	PrinterStatePrinting PrinterState = "printing"
	PrinterStateOffline  PrinterState = "offline"
)

type PrinterStatus struct {
	State   PrinterState `json:"status"`
	Reasons []string     `json:"reasons"`
}
