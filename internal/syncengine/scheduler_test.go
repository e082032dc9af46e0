package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zene/zenesync/internal/models"
)

func TestScheduler(t *testing.T) {
	ctx := context.Background()
	env := setupTestEngine(t)
	env.saveLocal(t, models.TableGoals, goalRow("t1", "walk"))

	s := NewScheduler(env.engine, 10*time.Millisecond)
	s.Start(ctx)
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		n, err := env.queue.Len(ctx)
		return err == nil && n == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.Status().Running)

	s.Stop()
	s.Stop()

	status := s.Status()
	assert.False(t, status.Running)
	assert.False(t, status.LastRun.IsZero())
	assert.Empty(t, status.LastError)
	require.Len(t, env.backend.Rows(models.TableGoals), 1)
}

func TestScheduler_ZeroIntervalDisabled(t *testing.T) {
	env := setupTestEngine(t)
	s := NewScheduler(env.engine, 0)
	s.Start(context.Background())
	assert.False(t, s.Status().Running)
	s.Stop()
}
