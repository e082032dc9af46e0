package syncengine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zene/zenesync/internal/connectivity"
	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/queue"
	"github.com/zene/zenesync/internal/remote"
)

type testEnv struct {
	engine  *Engine
	store   *localstore.Store
	queue   *queue.Queue
	backend *remote.MemoryBackend
	online  *atomic.Bool
	now     time.Time
}

func setupTestEngine(t *testing.T) *testEnv {
	store, err := localstore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store:   store,
		backend: remote.NewMemoryBackend(),
		online:  &atomic.Bool{},
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	env.online.Store(true)
	env.queue = queue.New(store, queue.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Minute,
		MaxInterval:     time.Hour,
		Multiplier:      2,
	})
	probe := connectivity.ProbeFunc(func(context.Context) bool { return env.online.Load() })
	env.engine = New(store, env.queue, env.backend, probe, WithClock(func() time.Time { return env.now }))
	return env
}

// saveLocal mimics an offline facade write: cache the row and queue its create
func (env *testEnv) saveLocal(t *testing.T, table string, row models.Row) models.RecordID {
	ctx := context.Background()
	id := models.NewTempID()
	row = row.Merge(models.Row{"id": string(id)})

	require.NoError(t, localstore.UpdateList(ctx, env.store, table, func(rows []models.Row) ([]models.Row, error) {
		return append(rows, row), nil
	}))
	require.NoError(t, env.queue.Enqueue(ctx, models.NewPendingOperation(models.OpCreate, table, id, row.WithoutTempID())))
	return id
}

func goalRow(ts, text string) models.Row {
	return models.Row{"user_id": "u1", "timestamp": ts, "goal": text, "completed": false}
}

func TestEngine_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("empty queue is a no-op", func(t *testing.T) {
		env := setupTestEngine(t)

		res, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Resolved())
		assert.Zero(t, env.backend.Calls(remote.OpSelect))

		status, err := env.engine.Status(ctx)
		require.NoError(t, err)
		assert.Nil(t, status.LastSync)
	})

	t.Run("offline leaves the queue unchanged", func(t *testing.T) {
		env := setupTestEngine(t)
		env.online.Store(false)
		env.saveLocal(t, models.TableGoals, goalRow("t1", "walk"))

		res, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		assert.True(t, res.Offline)

		n, err := env.queue.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Zero(t, env.backend.Calls(remote.OpUpsert))
	})

	t.Run("offline writes converge once online", func(t *testing.T) {
		env := setupTestEngine(t)
		env.online.Store(false)
		env.saveLocal(t, models.TableGoals, goalRow("t1", "walk"))
		env.saveLocal(t, models.TableJournalLogs, models.Row{"user_id": "u1", "timestamp": "t2", "log": "calm"})
		env.saveLocal(t, models.TableMeditationSessions, models.Row{"user_id": "u1", "timestamp": "t3", "meditation_length": 10})

		env.online.Store(true)
		res, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		assert.Len(t, res.Replayed, 3)

		assert.Len(t, env.backend.Rows(models.TableGoals), 1)
		assert.Len(t, env.backend.Rows(models.TableJournalLogs), 1)
		assert.Len(t, env.backend.Rows(models.TableMeditationSessions), 1)

		status, err := env.engine.Status(ctx)
		require.NoError(t, err)
		assert.Zero(t, status.Pending)
		require.NotNil(t, status.LastSync)
		assert.True(t, status.LastSync.Equal(env.now))
	})

	t.Run("replayed create is idempotent", func(t *testing.T) {
		env := setupTestEngine(t)
		row := goalRow("t1", "walk")
		env.saveLocal(t, models.TableGoals, row)

		_, err := env.engine.Sync(ctx)
		require.NoError(t, err)

		// the same create arriving again, e.g. after a crash before the queue rewrite
		require.NoError(t, env.queue.Enqueue(ctx, models.NewPendingOperation(models.OpCreate, models.TableGoals, "temp_1_dup", row)))
		_, err = env.engine.Sync(ctx)
		require.NoError(t, err)

		assert.Len(t, env.backend.Rows(models.TableGoals), 1)
	})

	t.Run("create writes the remote id back to the cache", func(t *testing.T) {
		env := setupTestEngine(t)
		tempID := env.saveLocal(t, models.TableJournalLogs, models.Row{"user_id": "u1", "timestamp": "t1", "log": "calm"})

		_, err := env.engine.Sync(ctx)
		require.NoError(t, err)

		rows, err := localstore.GetList[models.Row](ctx, env.store, models.TableJournalLogs)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.NotEqual(t, tempID, rows[0].ID())
		assert.Equal(t, env.backend.Rows(models.TableJournalLogs)[0].ID(), rows[0].ID())
	})

	t.Run("update and delete match by natural key", func(t *testing.T) {
		env := setupTestEngine(t)
		env.backend.Seed(models.TableUserBookStatus,
			models.Row{"id": "10", "user_id": "u1", "book_summary_id": "3", "favorite": false, "read": false},
			models.Row{"id": "11", "user_id": "u1", "book_summary_id": "4", "favorite": true, "read": false},
		)

		require.NoError(t, env.queue.Enqueue(ctx, models.NewPendingOperation(models.OpUpdate, models.TableUserBookStatus, "10",
			models.Row{"id": "10", "user_id": "u1", "book_summary_id": float64(3), "read": true})))
		require.NoError(t, env.queue.Enqueue(ctx, models.NewPendingOperation(models.OpDelete, models.TableUserBookStatus, "11",
			models.Row{"id": "11", "user_id": "u1", "book_summary_id": "4"})))

		res, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		assert.Len(t, res.Replayed, 2)

		rows := env.backend.Rows(models.TableUserBookStatus)
		require.Len(t, rows, 1)
		assert.Equal(t, true, rows[0]["read"])
	})

	t.Run("failures stay queued while the batch continues", func(t *testing.T) {
		env := setupTestEngine(t)
		env.backend.FailWith(func(op, table string) error {
			if table == models.TableJournalLogs {
				return errors.New("constraint violation")
			}
			return nil
		})
		env.saveLocal(t, models.TableJournalLogs, models.Row{"user_id": "u1", "timestamp": "t1", "log": "x"})
		env.saveLocal(t, models.TableWorkSessions, models.Row{"user_id": "u1", "timestamp": "t2", "work_length": 25})

		res, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		assert.Len(t, res.Failed, 1)
		assert.Len(t, res.Replayed, 1)

		ops, err := env.queue.Drain(ctx)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, models.TableJournalLogs, ops[0].Table)
		assert.Equal(t, 1, ops[0].Attempts)
		assert.Equal(t, "constraint violation", ops[0].LastError)
	})

	t.Run("backoff defers and force sync ignores it", func(t *testing.T) {
		env := setupTestEngine(t)
		var failing atomic.Bool
		failing.Store(true)
		env.backend.FailWith(func(op, table string) error {
			if failing.Load() {
				return errors.New("503")
			}
			return nil
		})
		env.saveLocal(t, models.TableGoals, goalRow("t1", "walk"))

		_, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		failing.Store(false)

		res, err := env.engine.Sync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Deferred)
		assert.Empty(t, res.Replayed)

		res, err = env.engine.ForceSync(ctx, "")
		require.NoError(t, err)
		assert.Len(t, res.Replayed, 1)
	})

	t.Run("exhausted operations are dead-lettered", func(t *testing.T) {
		env := setupTestEngine(t)
		env.backend.FailWith(func(op, table string) error { return errors.New("rejected") })
		env.saveLocal(t, models.TableGoals, goalRow("t1", "walk"))

		var res *Result
		var err error
		for i := 0; i < 3; i++ {
			res, err = env.engine.ForceSync(ctx, "")
			require.NoError(t, err)
		}
		assert.Len(t, res.DeadLettered, 1)

		status, err := env.engine.Status(ctx)
		require.NoError(t, err)
		assert.Zero(t, status.Pending)
		assert.Equal(t, 1, status.DeadLetters)
	})

	t.Run("concurrent passes replay each operation once", func(t *testing.T) {
		env := setupTestEngine(t)
		for _, ts := range []string{"t1", "t2", "t3", "t4"} {
			env.saveLocal(t, models.TableWorkSessions, models.Row{"user_id": "u1", "timestamp": ts, "work_length": 25})
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.engine.Sync(ctx)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, 4, env.backend.Calls(remote.OpUpsert))
		assert.Len(t, env.backend.Rows(models.TableWorkSessions), 4)
	})
}

// Offline goal creation, then connectivity returns
func TestEngine_OfflineGoalScenario(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)
	env.backend.Seed(models.TableGoals, goalRow("t0", "from another device"))

	env.online.Store(false)
	tempID := env.saveLocal(t, models.TableGoals, goalRow("t1", "meditate daily"))

	rows, err := localstore.GetList[models.Row](ctx, env.store, models.TableGoals)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, tempID, rows[0].ID())

	env.online.Store(true)
	res, err := env.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, res.Replayed, 1)

	// goals are authoritative: the cache now mirrors the remote, both goals with remote ids
	rows, err = localstore.GetList[models.Row](ctx, env.store, models.TableGoals)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.False(t, r.ID().IsTemp())
	}
	assert.Equal(t, "t0", rows[0]["timestamp"])
}

func TestEngine_ForceSyncRefreshesCaches(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)
	env.backend.Seed(models.TableJournalLogs, models.Row{"user_id": "u1", "timestamp": "t1", "log": "remote"})
	env.backend.Seed(models.TableUserPrefs, models.Row{"user_id": "u1", "theme": "dark"})
	env.backend.Seed(models.TableBookSummaries, models.Row{"id": float64(1), "title": "Stillness"})

	_, err := env.engine.ForceSync(ctx, "u1")
	require.NoError(t, err)

	logs, err := localstore.GetList[models.Row](ctx, env.store, models.TableJournalLogs)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "remote", logs[0]["log"])

	var prefs models.Row
	found, err := env.store.Get(ctx, models.TableUserPrefs, &prefs)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "dark", prefs["theme"])

	books, err := localstore.GetList[models.Row](ctx, env.store, models.TableBookSummaries)
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestEngine_RefreshTable(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a user for user-scoped tables", func(t *testing.T) {
		env := setupTestEngine(t)
		assert.ErrorIs(t, env.engine.RefreshTable(ctx, "", models.TableGoals), models.ErrMissingUserID)
		assert.ErrorIs(t, env.engine.RefreshTable(ctx, "u1", "photos"), models.ErrUnknownTable)
	})

	t.Run("keeps pending local records", func(t *testing.T) {
		env := setupTestEngine(t)
		env.online.Store(false)
		env.saveLocal(t, models.TableVoiceMessages, models.Row{"user_id": "u1", "timestamp": "t2", "audio_url": "a.m4a"})
		env.backend.Seed(models.TableVoiceMessages, models.Row{"user_id": "u1", "timestamp": "t1", "audio_url": "b.m4a"})

		require.NoError(t, env.engine.RefreshTable(ctx, "u1", models.TableVoiceMessages))

		rows, err := localstore.GetList[models.Row](ctx, env.store, models.TableVoiceMessages)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.False(t, rows[0].ID().IsTemp())
		assert.True(t, rows[1].ID().IsTemp())
	})
}

func TestMergeRows(t *testing.T) {
	goals, err := models.LookupTable(models.TableGoals)
	require.NoError(t, err)

	remoteRows := []models.Row{
		{"id": "1", "user_id": "u1", "timestamp": "t1", "goal": "remote"},
		{"id": "2", "user_id": "u1", "timestamp": "t2", "goal": "to delete"},
	}
	local := []models.Row{
		{"id": "9", "user_id": "u2", "timestamp": "t1", "goal": "other user"},
		{"id": "1", "user_id": "u1", "timestamp": "t1", "goal": "edited offline"},
		{"id": "temp_5_x", "user_id": "u1", "timestamp": "t5", "goal": "new"},
		{"id": "3", "user_id": "u1", "timestamp": "t3", "goal": "deleted remotely"},
	}
	pending := pendingSet{
		changed: map[string]bool{"user_id=u1,timestamp=t1": true},
		deleted: map[string]bool{"user_id=u1,timestamp=t2": true},
	}

	merged := mergeRows(goals, "u1", remoteRows, local, pending)

	require.Len(t, merged, 3)
	assert.Equal(t, "other user", merged[0]["goal"])
	assert.Equal(t, "edited offline", merged[1]["goal"])
	assert.Equal(t, models.RecordID("1"), merged[1].ID())
	assert.Equal(t, "new", merged[2]["goal"])
}

func TestEngine_RefreshSeesWritesDuringSelect(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)
	stored := models.Row{"id": "42", "user_id": "u1", "timestamp": "t1", "goal": "old", "completed": false}
	env.backend.Seed(models.TableGoals, stored)
	require.NoError(t, env.store.Set(ctx, models.TableGoals, []models.Row{stored}))

	// a facade update lands after the remote rows were read
	var once sync.Once
	env.backend.FailWith(func(op, table string) error {
		if op != remote.OpSelect {
			return nil
		}
		once.Do(func() {
			edited := stored.Merge(models.Row{"goal": "new"})
			assert.NoError(t, env.queue.Enqueue(ctx, models.NewPendingOperation(models.OpUpdate, models.TableGoals, "42", edited)))
			assert.NoError(t, env.store.Set(ctx, models.TableGoals, []models.Row{edited}))
		})
		return nil
	})

	require.NoError(t, env.engine.RefreshTable(ctx, "u1", models.TableGoals))

	rows, err := localstore.GetList[models.Row](ctx, env.store, models.TableGoals)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0]["goal"])
}

func TestUnresolvable(t *testing.T) {
	goals, err := models.LookupTable(models.TableGoals)
	require.NoError(t, err)
	prefs, err := models.LookupTable(models.TableUserPrefs)
	require.NoError(t, err)

	orphan := models.NewPendingOperation(models.OpUpdate, models.TableGoals, "temp_1_a", models.Row{"id": "temp_1_a", "user_id": "u1", "timestamp": "t1"})
	assert.True(t, unresolvable(goals, orphan))

	create := models.NewPendingOperation(models.OpCreate, models.TableGoals, "temp_1_a", models.Row{"user_id": "u1", "timestamp": "t1"})
	assert.False(t, unresolvable(goals, create))

	// prefs are addressed by user_id alone, which a temporary id does not hide
	prefsUpdate := models.NewPendingOperation(models.OpUpdate, models.TableUserPrefs, "temp_1_b", models.Row{"id": "temp_1_b", "user_id": "u1"})
	assert.False(t, unresolvable(prefs, prefsUpdate))
}
