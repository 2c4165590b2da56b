package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faveindex/internal/config"
	"github.com/faveindex/internal/models"
	"github.com/faveindex/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	statements []string
	failOn     int
}

func (r *recordingExecer) Exec(_ context.Context, query string, _ ...interface{}) error {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return assert.AnError
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	script := `
-- header comment
CREATE TABLE a (
    x Int64
) ENGINE = Memory;

-- second
CREATE TABLE b (y String);
SELECT 1`

	stmts := splitSQLStatements(script)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[0], "CREATE TABLE a (")
	assert.NotContains(t, stmts[0], ";")
	assert.Equal(t, "CREATE TABLE b (y String)", stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestRunClickHouseMigrations_OrdersFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_b.sql"), []byte("CREATE TABLE b (x Int8);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("CREATE TABLE a (x Int8);\nCREATE TABLE c (x Int8);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	exec := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), exec, dir))

	assert.Equal(t, []string{
		"CREATE TABLE a (x Int8)",
		"CREATE TABLE c (x Int8)",
		"CREATE TABLE b (x Int8)",
	}, exec.statements)
}

func TestRunClickHouseMigrations_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_a.sql"), []byte("SELECT 1;\nSELECT 2;\nSELECT 3;"), 0o600))

	exec := &recordingExecer{failOn: 2}
	err := RunClickHouseMigrations(testContext(t), exec, dir)
	require.Error(t, err)
	assert.Len(t, exec.statements, 2)
}

func TestRunClickHouseMigrations_RepoSchemaParses(t *testing.T) {
	exec := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(testContext(t), exec, "../../migrations/clickhouse"))
	require.NotEmpty(t, exec.statements)
	assert.Contains(t, exec.statements[0], "indexing_runs")
}

func TestClickHouseRunLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     envOr("CLICKHOUSE_HOST", "localhost"),
		Port:     envOr("CLICKHOUSE_PORT", "9000"),
		Database: envOr("CLICKHOUSE_DB", "faveindex"),
		User:     envOr("CLICKHOUSE_USER", "default"),
		Password: envOr("CLICKHOUSE_PASSWORD", ""),
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	defer func() {
		assert.NoError(t, db.Close())
	}()

	ctx := testContext(t)
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse"))

	ledger := NewClickHouseRunLedger(db)
	userID := "twitter|" + uuid.NewString()
	started := time.Now().UTC().Truncate(time.Millisecond)
	outcome := &models.RunOutcome{
		RunID:         uuid.NewString(),
		UserID:        userID,
		Rounds:        2,
		State:         types.RunDone,
		Fetched:       40,
		New:           5,
		Hydrated:      5,
		Indexed:       5,
		WatermarkSize: 5,
		StartedAt:     started,
		FinishedAt:    started.Add(3 * time.Second),
	}
	require.NoError(t, ledger.Record(ctx, outcome))

	runs, err := ledger.Recent(ctx, userID, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, outcome.RunID, runs[0].RunID)
	assert.Equal(t, types.RunDone, runs[0].State)
	assert.Equal(t, 5, runs[0].Indexed)
	assert.Equal(t, 3*time.Second, runs[0].Duration())
}

func TestNopRunLedger(t *testing.T) {
	var ledger RunLedger = NopRunLedger{}
	assert.NoError(t, ledger.Record(testContext(t), &models.RunOutcome{}))
	runs, err := ledger.Recent(testContext(t), "u", 1)
	assert.NoError(t, err)
	assert.Empty(t, runs)
}
