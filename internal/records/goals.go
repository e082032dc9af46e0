package records

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

func (r *Records) SaveGoal(ctx context.Context, g models.Goal) (models.Goal, error) {
	g.Timestamp = r.stamp(g.Timestamp)
	return r.goals.Save(ctx, g)
}

// GetGoals returns the user's goals. With LocalOnly the cache answers without touching the network,
// which always reflects the user's own writes.
func (r *Records) GetGoals(ctx context.Context, userID string, opts ReadOptions) ([]models.Goal, error) {
	return r.goals.List(ctx, userID, opts)
}

func (r *Records) UpdateGoal(ctx context.Context, userID string, id models.RecordID, text string) (models.Goal, error) {
	return r.goals.Update(ctx, userID, id, models.Row{"goal": text})
}

func (r *Records) CompleteGoal(ctx context.Context, userID string, id models.RecordID, completed bool) (models.Goal, error) {
	return r.goals.Update(ctx, userID, id, models.Row{"completed": completed})
}

func (r *Records) DeleteGoal(ctx context.Context, userID string, id models.RecordID) error {
	return r.goals.Delete(ctx, userID, id)
}

// HasPendingGoals reports whether any goal change of the user still waits for the remote
func (r *Records) HasPendingGoals(ctx context.Context, userID string) (bool, error) {
	return r.goals.HasPending(ctx, userID)
}
