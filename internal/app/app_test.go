package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grosser/soft-deletion/internal/config"
)

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func assertDemo(t *testing.T, report *DemoReport) {
	t.Helper()

	assert.Len(t, report.ForumIDs, 2)
	assert.True(t, report.DeletedCascade)
	assert.True(t, report.RestoredCascade)
	assert.Equal(t, "before_soft_delete hook failed, errors: forum is locked", report.LockedRefused)
	assert.Equal(t, 1, report.ForumsCount)
	assert.Equal(t, 1, report.BulkDeletedPosts)
	assert.Positive(t, report.Events)
}

func TestRunDemoInMemory(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{DBDriver: config.DriverMemory, UndeleteWindow: time.Hour})

	report, err := a.RunDemo(context.Background())
	require.NoError(t, err)
	assertDemo(t, report)
}

func TestRunDemoOnSQLite(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{
		DBDriver:       config.DriverGormSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "demo.db"),
		DBMaxConns:     1,
		UndeleteWindow: time.Hour,
	})

	require.NoError(t, a.Health(context.Background()))

	report, err := a.RunDemo(context.Background())
	require.NoError(t, err)
	assertDemo(t, report)
}

func TestHealthInMemory(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{DBDriver: config.DriverMemory})
	require.NoError(t, a.Health(context.Background()))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &config.Config{DBDriver: "oracle"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorContains(t, err, `unsupported DB_DRIVER "oracle"`)
}
