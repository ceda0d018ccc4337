package core

import (
	"context"
	"time"
)

var countedStatuses = []JobStatus{JobStatusQueued, JobStatusPrinting, JobStatusCompleted}

// Papers is the number of sheets a job consumes.
func Papers(pages, copies int, duplex DuplexMode) int {
	perCopy := pages
	if duplex == DuplexTwoSidedLong {
		perCopy = (pages + 1) / 2
	}
	return perCopy * copies
}

// QuotaAccountant derives a user's usage for the current calendar month in a
// fixed time zone. Nothing is cached; every call re-reads the store.
type QuotaAccountant struct {
	store JobStore
	limit int
	loc   *time.Location
	now   func() time.Time
}

func NewQuotaAccountant(store JobStore, limit int, loc *time.Location) *QuotaAccountant {
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaAccountant{
		store: store,
		limit: limit,
		loc:   loc,
		now:   time.Now,
	}
}

func (a *QuotaAccountant) Limit() int {
	return a.limit
}

// Window returns the half-open UTC interval of the calendar month containing
// now in the accountant's time zone.
func (a *QuotaAccountant) Window(now time.Time) (time.Time, time.Time) {
	local := now.In(a.loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, a.loc)
	end := start.AddDate(0, 1, 0)
	return start.UTC(), end.UTC()
}

func (a *QuotaAccountant) Usage(ctx context.Context, userID int64) (int, error) {
	start, end := a.Window(a.now())
	used, err := a.store.SumPapers(ctx, userID, countedStatuses, start, end)
	if err != nil {
		return 0, persistErr("sum papers", err)
	}
	return used, nil
}

// Check rejects a non-admin request that would take the user past the limit.
func (a *QuotaAccountant) Check(ctx context.Context, who Identity, papers int) error {
	if who.IsAdmin() {
		return nil
	}
	used, err := a.Usage(ctx, who.UserID)
	if err != nil {
		return err
	}
	if used+papers > a.limit {
		return &QuotaExceededError{Used: used, Limit: a.limit, Requested: papers}
	}
	return nil
}
