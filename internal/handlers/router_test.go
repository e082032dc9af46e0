package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/remote"
	"github.com/zene/zenesync/internal/repository"
	"github.com/zene/zenesync/internal/services"
)

type testServer struct {
	*httptest.Server
	hub    *services.WebSocketHub
	client *remote.HTTPClient
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := repository.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewTableRepository(db, repository.DialectSQLite)
	_, err = repository.SeedBookSummaries(context.Background(), repo)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := services.NewWebSocketHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Repo:         repo,
		Hub:          hub,
		APIKey:       "secret",
		APIKeyHeader: "X-API-Key",
	}))
	t.Cleanup(srv.Close)

	return &testServer{
		Server: srv,
		hub:    hub,
		client: remote.NewHTTPClient(srv.URL, "secret", "X-API-Key"),
	}
}

func TestRouter_Tables(t *testing.T) {
	ctx := context.Background()
	ts := setupTestServer(t)
	key := []string{"user_id", "timestamp"}

	goal := models.Row{"user_id": "u1", "timestamp": "2024-01-01T00:00:00Z", "goal": "Read", "completed": false}

	rows, err := ts.client.Upsert(ctx, models.TableGoals, goal, key)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].ID()
	assert.False(t, id.IsZero())

	t.Run("Upsert on the natural key keeps the id", func(t *testing.T) {
		rows, err := ts.client.Upsert(ctx, models.TableGoals, goal.Merge(models.Row{"goal": "Read more"}), key)
		require.NoError(t, err)
		assert.Equal(t, id, rows[0].ID())
		assert.Equal(t, "Read more", rows[0]["goal"])
	})

	t.Run("Insert of a taken key conflicts", func(t *testing.T) {
		_, err := ts.client.Insert(ctx, models.TableGoals, goal)
		var remoteErr *remote.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusConflict, remoteErr.Status)
	})

	t.Run("Temp ids are rejected", func(t *testing.T) {
		_, err := ts.client.Insert(ctx, models.TableGoals, models.Row{"id": "temp_1_x", "user_id": "u1", "timestamp": "t2"})
		var remoteErr *remote.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusBadRequest, remoteErr.Status)
	})

	t.Run("Update by natural key", func(t *testing.T) {
		rows, err := ts.client.Update(ctx, models.TableGoals, map[string]any{"user_id": "u1", "timestamp": "2024-01-01T00:00:00Z"}, models.Row{"completed": true})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, true, rows[0]["completed"])
	})

	t.Run("Select filters by user", func(t *testing.T) {
		_, err := ts.client.Insert(ctx, models.TableGoals, models.Row{"user_id": "u2", "timestamp": "2024-01-01T00:00:00Z", "goal": "Other"})
		require.NoError(t, err)

		rows, err := ts.client.Select(ctx, models.TableGoals, remote.Query{Eq: map[string]any{"user_id": "u1"}, Order: "timestamp"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, id, rows[0].ID())
	})

	t.Run("SelectSingle reports not found", func(t *testing.T) {
		_, err := ts.client.SelectSingle(ctx, models.TableUserPrefs, remote.Query{Eq: map[string]any{"user_id": "u1"}})
		assert.ErrorIs(t, err, remote.ErrNotFound)
	})

	t.Run("Delete by id", func(t *testing.T) {
		require.NoError(t, ts.client.Delete(ctx, models.TableGoals, map[string]any{"id": id.String()}))
		rows, err := ts.client.Select(ctx, models.TableGoals, remote.Query{Eq: map[string]any{"user_id": "u1"}})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("Catalog is seeded and read-only", func(t *testing.T) {
		rows, err := ts.client.Select(ctx, models.TableBookSummaries, remote.Query{Order: "title"})
		require.NoError(t, err)
		assert.NotEmpty(t, rows)

		_, err = ts.client.Insert(ctx, models.TableBookSummaries, models.Row{"title": "New"})
		var remoteErr *remote.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusForbidden, remoteErr.Status)
	})

	t.Run("Unknown table", func(t *testing.T) {
		_, err := ts.client.Select(ctx, "photos", remote.Query{})
		var remoteErr *remote.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusNotFound, remoteErr.Status)
	})

	t.Run("Wrong API key", func(t *testing.T) {
		client := remote.NewHTTPClient(ts.URL, "wrong", "X-API-Key")
		_, err := client.Select(ctx, models.TableGoals, remote.Query{})
		var remoteErr *remote.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusUnauthorized, remoteErr.Status)
	})

	t.Run("Mutations require a filter", func(t *testing.T) {
		err := ts.client.Delete(ctx, models.TableGoals, nil)
		var remoteErr *remote.Error
		require.ErrorAs(t, err, &remoteErr)
		assert.Equal(t, http.StatusBadRequest, remoteErr.Status)
	})
}

func TestRouter_Health(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Head(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health models.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}

func TestRouter_ChangeFeed(t *testing.T) {
	ctx := context.Background()
	ts := setupTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws?user_id=u1"
	header := http.Header{}
	header.Set("X-API-Key", "secret")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.GetUserClientCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = ts.client.Insert(ctx, models.TableJournalLogs, models.Row{"user_id": "u1", "timestamp": "2024-01-01T00:00:00Z", "text": "Calm"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg models.WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, models.WSTypeRowChanged, msg.Type)

	var event models.ChangeEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &event))
	assert.Equal(t, models.TableJournalLogs, event.Table)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, models.OpCreate, event.Operation)

	t.Run("Ping gets a pong", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(models.WSMessage{Type: models.WSTypePing}))
		var reply models.WSMessage
		require.NoError(t, conn.ReadJSON(&reply))
		assert.Equal(t, models.WSTypePong, reply.Type)
	})

	t.Run("Missing user id", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/ws", nil)
		req.Header.Set("X-API-Key", "secret")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
