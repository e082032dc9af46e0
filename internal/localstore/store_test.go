package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zene/zenesync/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_GetSetRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("missing key is not found", func(t *testing.T) {
		s := setupTestStore(t)

		var rows []models.Row
		found, err := s.Get(ctx, "goals", &rows)

		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, rows)
	})

	t.Run("set overwrites wholesale", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.Set(ctx, "goals", []models.Row{{"id": "1"}, {"id": "2"}}))
		require.NoError(t, s.Set(ctx, "goals", []models.Row{{"id": "3"}}))

		rows, err := GetList[models.Row](ctx, s, "goals")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, models.RecordID("3"), rows[0].ID())
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		s := setupTestStore(t)

		require.NoError(t, s.Set(ctx, KeyLastSync, "2024-01-01T00:00:00Z"))
		require.NoError(t, s.Remove(ctx, KeyLastSync))
		require.NoError(t, s.Remove(ctx, KeyLastSync))

		var last string
		found, err := s.Get(ctx, KeyLastSync, &last)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("get list of absent key is empty, not nil", func(t *testing.T) {
		s := setupTestStore(t)

		rows, err := GetList[models.Row](ctx, s, "journal_logs")
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Empty(t, rows)
	})
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("error leaves value untouched", func(t *testing.T) {
		s := setupTestStore(t)
		require.NoError(t, s.Set(ctx, "goals", []models.Row{{"id": "1"}}))

		err := UpdateList(ctx, s, "goals", func(rows []models.Row) ([]models.Row, error) {
			return nil, errors.New("boom")
		})
		require.Error(t, err)

		rows, err := GetList[models.Row](ctx, s, "goals")
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})

	t.Run("nil result removes the key", func(t *testing.T) {
		s := setupTestStore(t)
		require.NoError(t, s.Set(ctx, "user_prefs", models.Row{"user_id": "u1"}))

		require.NoError(t, s.Update(ctx, "user_prefs", func(current []byte) ([]byte, error) {
			return nil, nil
		}))

		var row models.Row
		found, err := s.Get(ctx, "user_prefs", &row)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("concurrent appends are not lost", func(t *testing.T) {
		s := setupTestStore(t)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := UpdateList(ctx, s, KeyPendingSync, func(ops []int) ([]int, error) {
					return append(ops, i), nil
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		ops, err := GetList[int](ctx, s, KeyPendingSync)
		require.NoError(t, err)
		assert.Len(t, ops, 20)
	})
}

func TestStore_Durable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "goals", []models.Row{{"id": "temp_1_a", "user_id": "u1"}}))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := GetList[models.Row](ctx, reopened, "goals")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].UserID())
}

func TestStore_Batch(t *testing.T) {
	ctx := context.Background()

	t.Run("moves an item between keys", func(t *testing.T) {
		s := setupTestStore(t)
		require.NoError(t, s.Set(ctx, KeyPendingSync, []int{1, 2}))

		err := s.Batch(ctx, []string{KeyPendingSync, KeyDeadLetters}, func(b *Batch) error {
			pending, err := BatchList[int](b, KeyPendingSync)
			if err != nil {
				return err
			}
			dead, err := BatchList[int](b, KeyDeadLetters)
			if err != nil {
				return err
			}
			if err := b.Set(KeyPendingSync, pending[1:]); err != nil {
				return err
			}
			return b.Set(KeyDeadLetters, append(dead, pending[0]))
		})
		require.NoError(t, err)

		pending, err := GetList[int](ctx, s, KeyPendingSync)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, pending)
		dead, err := GetList[int](ctx, s, KeyDeadLetters)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, dead)
	})

	t.Run("error rolls back every key", func(t *testing.T) {
		s := setupTestStore(t)
		require.NoError(t, s.Set(ctx, KeyPendingSync, []int{1}))

		err := s.Batch(ctx, []string{KeyPendingSync, KeyDeadLetters}, func(b *Batch) error {
			if err := b.Set(KeyPendingSync, []int{}); err != nil {
				return err
			}
			if err := b.Set(KeyDeadLetters, []int{1}); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.Error(t, err)

		pending, err := GetList[int](ctx, s, KeyPendingSync)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, pending)
		dead, err := GetList[int](ctx, s, KeyDeadLetters)
		require.NoError(t, err)
		assert.Empty(t, dead)
	})

	t.Run("keys outside the batch are refused", func(t *testing.T) {
		s := setupTestStore(t)
		err := s.Batch(ctx, []string{KeyPendingSync}, func(b *Batch) error {
			return b.Set(KeyLastSync, "now")
		})
		assert.Error(t, err)
	})
}
