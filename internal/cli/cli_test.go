package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "printdesk.db")
	configPath = filepath.Join(dir, "printdesk.yaml")
	yaml := "database:\n  path: " + dbPath + "\nuploads:\n  dir: " + filepath.Join(dir, "uploads") + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0o644))
	return configPath, dbPath
}

func openStore(t *testing.T, path string) *db.Store {
	t.Helper()
	database, err := db.Open(db.Config{Path: path})
	require.NoError(t, err)
	s := db.NewStore(database)
	t.Cleanup(func() { s.Close() })
	return s
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestUserAddGenerated(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	out, err := run(t, "", "--config", configPath, "user", "add", "--username", "carol", "--role", "admin", "--generate")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Generated password for carol: ")

	line := out[strings.Index(out, "carol: ")+len("carol: "):]
	password := strings.TrimSpace(strings.SplitN(line, "\n", 2)[0])
	assert.True(t, middleware.IsStrongPassword(password))

	u, err := openStore(t, dbPath).GetUserByUsername(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, core.RoleAdmin, u.Role)
	assert.True(t, u.MustChangePassword)
	assert.True(t, middleware.CheckPassword(u.PasswordHash, password))
}

func TestUserAddPrompted(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	out, err := run(t, "dave\nStr0ng!Pass\n", "--config", configPath, "user", "add")
	require.NoError(t, err, out)
	assert.Contains(t, out, `User "dave" added (role user)`)

	u, err := openStore(t, dbPath).GetUserByUsername(context.Background(), "dave")
	require.NoError(t, err)
	assert.Equal(t, core.RoleUser, u.Role)
	assert.True(t, middleware.CheckPassword(u.PasswordHash, "Str0ng!Pass"))
}

func TestUserAddRejections(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, err := run(t, "weak\n", "--config", configPath, "user", "add", "-u", "erin")
	assert.ErrorContains(t, err, "at least 10 characters")

	_, err = run(t, "", "--config", configPath, "user", "add", "-u", "erin", "-r", "owner", "-g")
	assert.ErrorContains(t, err, "role must be")

	_, err = run(t, "\n", "--config", configPath, "user", "add", "-g")
	assert.ErrorContains(t, err, "username cannot be empty")

	_, err = run(t, "", "--config", configPath, "user", "add", "-u", "erin", "-g")
	require.NoError(t, err)
	_, err = run(t, "", "--config", configPath, "user", "add", "-u", "erin", "-g")
	assert.ErrorContains(t, err, "already exists")
}

func TestReconcile(t *testing.T) {
	configPath, dbPath := writeConfig(t)
	store := openStore(t, dbPath)
	ctx := context.Background()

	insert := func(status core.JobStatus) int64 {
		id, err := store.Insert(ctx, &core.Job{
			UserID: 1, Status: status, Filename: "a.pdf", FilePath: "/tmp/a.pdf",
			Papers: 2, Copies: 1, ColorMode: core.ColorModeMonochrome, Duplex: core.DuplexOneSided,
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
		return id
	}
	printing := insert(core.JobStatusPrinting)
	queued := insert(core.JobStatusQueued)

	out, err := run(t, "", "--config", configPath, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "1 job(s) still printing")

	job, err := store.Get(ctx, printing)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusPrinting, job.Status)

	out, err = run(t, "", "--config", configPath, "reconcile", "--fail")
	require.NoError(t, err)
	assert.Contains(t, out, "1 job(s) marked failed")

	job, err = store.Get(ctx, printing)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusFailed, job.Status)
	assert.Equal(t, "orphaned by restart", job.ErrorMessage)

	job, err = store.Get(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusQueued, job.Status)

	out, err = run(t, "", "--config", configPath, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "No orphaned jobs.")
}

func TestInvalidConfigIsReported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queue:\n  orphan_policy: ignore\n"), 0o644))

	_, err := run(t, "", "--config", path, "reconcile")
	assert.ErrorContains(t, err, "invalid orphan policy")
}
