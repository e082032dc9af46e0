package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zene/zenesync/internal/handlers"
	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/repository"
	"github.com/zene/zenesync/internal/services"
)

func setupTestCLI(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(handlers.NewRouter(handlers.RouterConfig{
		Repo:         repository.NewTableRepository(db, repository.DialectSQLite),
		Hub:          hub,
		APIKey:       "secret",
		APIKeyHeader: "X-API-Key",
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.json"))
	t.Setenv("REMOTE_URL", srv.URL)
	t.Setenv("API_KEY", "secret")
	t.Setenv("LOCAL_STORE_PATH", filepath.Join(dir, "local.db"))
	t.Setenv("PROBE_URL", "")
	t.Setenv("ZENE_USER_ID", "")
	t.Setenv("OTEL_ENABLED", "false")

	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_Goals(t *testing.T) {
	setupTestCLI(t)

	out, err := run(t, "goals", "add", "Read", "a", "book", "--user", "u1", "--format", "json")
	require.NoError(t, err)
	var goal models.Goal
	require.NoError(t, json.Unmarshal([]byte(out), &goal))
	assert.Equal(t, "Read a book", goal.Goal)
	assert.False(t, goal.ID.IsTemp(), "online saves get the remote id")

	out, err = run(t, "goals", "complete", goal.ID.String(), "--user", "u1", "--format", "json")
	require.NoError(t, err)
	var completed models.Goal
	require.NoError(t, json.Unmarshal([]byte(out), &completed))
	assert.True(t, completed.Completed)

	out, err = run(t, "goals", "list", "--user", "u1", "--format", "json")
	require.NoError(t, err)
	var goals []models.Goal
	require.NoError(t, json.Unmarshal([]byte(out), &goals))
	require.Len(t, goals, 1)
	assert.True(t, goals[0].Completed)

	out, err = run(t, "goals", "list", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "[x]")
	assert.Contains(t, out, "Read a book")

	t.Run("Requires a user", func(t *testing.T) {
		_, err := run(t, "goals", "list")
		assert.Error(t, err)
	})

	t.Run("Rejects unknown formats", func(t *testing.T) {
		_, err := run(t, "status", "--format", "xml")
		assert.Error(t, err)
	})
}

func TestCLI_OfflineThenSync(t *testing.T) {
	srv := setupTestCLI(t)
	t.Setenv("PROBE_URL", "http://127.0.0.1:1/health")

	out, err := run(t, "journal", "add", "Quiet", "morning", "--user", "u1", "--format", "json")
	require.NoError(t, err)
	var entry models.JournalLog
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.True(t, entry.ID.IsTemp())

	out, err = run(t, "status", "--format", "json")
	require.NoError(t, err)
	var status StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Pending)
	assert.Nil(t, status.LastSync)

	out, err = run(t, "sync", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "unreachable")

	t.Setenv("PROBE_URL", srv.URL+"/health")

	out, err = run(t, "sync", "--user", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "Replayed 1")

	out, err = run(t, "status", "--format", "json", "--ops")
	require.NoError(t, err)
	status = StatusResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Zero(t, status.Pending)
	assert.Empty(t, status.Operations)
	assert.NotNil(t, status.LastSync)

	out, err = run(t, "journal", "list", "--user", "u1", "--format", "json")
	require.NoError(t, err)
	var logs []models.JournalLog
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	require.Len(t, logs, 1)
	assert.False(t, logs[0].ID.IsTemp())
	assert.Equal(t, "Quiet morning", logs[0].Log)

	out, err = run(t, "dead-letters", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No dead letters")
}

func TestCLI_StatusDropsOrphanedOperations(t *testing.T) {
	setupTestCLI(t)
	ctx := context.Background()

	store, err := localstore.Open(os.Getenv("LOCAL_STORE_PATH"))
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, localstore.KeyPendingSync, []models.PendingOperation{
		models.NewPendingOperation(models.OpUpdate, models.TableGoals, "temp_1_a", models.Row{
			"id": "temp_1_a", "user_id": "u1", "timestamp": "2024-01-01T00:00:00Z", "completed": true,
		}),
		models.NewPendingOperation(models.OpCreate, models.TableGoals, "temp_2_b", models.Row{
			"user_id": "u1", "timestamp": "2024-01-02T00:00:00Z", "goal": "Walk",
		}),
	}))
	require.NoError(t, store.Close())

	out, err := run(t, "status", "--format", "json", "--ops")
	require.NoError(t, err)
	var status StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Pending)
	require.Len(t, status.Operations, 1)
	assert.Equal(t, models.OpCreate, status.Operations[0].Operation)
}
