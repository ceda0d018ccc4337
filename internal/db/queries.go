package db

const jobColumns = `id, user_id, filename, file_path, papers, copies, color_mode, sides,
	status, cancel_requested, external_id, error_message, created_at, updated_at`

const summaryColumns = `id, user_id, filename, status, papers, created_at`

const (
	InsertJob = `
		INSERT INTO jobs (user_id, filename, file_path, papers, copies, color_mode, sides,
			status, cancel_requested, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	UpdateJobStatus = `
		UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?
	`

	SetJobCancelRequested = `
		UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?
	`

	SetJobExternalID = `
		UPDATE jobs SET external_id = ?, updated_at = ? WHERE id = ?
	`

	// SumJobPapers is completed with one placeholder per counted status.
	SumJobPapers = `
		SELECT COALESCE(SUM(papers), 0) FROM jobs
		WHERE user_id = ? AND created_at >= ? AND created_at < ? AND status IN (%s)
	`

	ListPendingJobs = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status IN ('queued', 'printing') ORDER BY id ASC
	`

	ListJobsByUser = `
		SELECT ` + summaryColumns + ` FROM jobs WHERE user_id = ? ORDER BY id DESC
	`

	ListAllJobs = `
		SELECT ` + summaryColumns + ` FROM jobs ORDER BY id DESC
	`

	ListPurgeableJobs = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND file_path != '' AND updated_at < ?
		ORDER BY id ASC
	`

	ClearJobFilePath = `UPDATE jobs SET file_path = '' WHERE id = ?`

	ListJobsCreatedBetween = `
		SELECT ` + jobColumns + ` FROM jobs
		WHERE created_at >= ? AND created_at < ? ORDER BY id ASC
	`
)

const (
	InsertUser = `
		INSERT INTO users (username, password_hash, role, must_change_password, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	GetUserByUsername = `
		SELECT id, username, password_hash, role, must_change_password, created_at
		FROM users WHERE username = ?
	`

	GetUserByID = `
		SELECT id, username, password_hash, role, must_change_password, created_at
		FROM users WHERE id = ?
	`

	UpdateUserPassword = `
		UPDATE users SET password_hash = ?, must_change_password = ? WHERE id = ?
	`

	CountAdmins = `SELECT COUNT(*) FROM users WHERE role = 'admin'`
)

const (
	GetSetting = `SELECT value FROM settings WHERE key = ?`

	UpsertSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
)
