package records

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

// SaveMeditationSession records a finished meditation, stamped now when no timestamp is set
func (r *Records) SaveMeditationSession(ctx context.Context, s models.MeditationSession) (models.MeditationSession, error) {
	s.Timestamp = r.stamp(s.Timestamp)
	return r.meditation.Save(ctx, s)
}

func (r *Records) GetMeditationSessions(ctx context.Context, userID string) ([]models.MeditationSession, error) {
	return r.meditation.List(ctx, userID, ReadOptions{})
}

func (r *Records) DeleteMeditationSession(ctx context.Context, userID string, id models.RecordID) error {
	return r.meditation.Delete(ctx, userID, id)
}

// SaveWorkSession records a finished focus session, stamped now when no timestamp is set
func (r *Records) SaveWorkSession(ctx context.Context, s models.WorkSession) (models.WorkSession, error) {
	s.Timestamp = r.stamp(s.Timestamp)
	return r.work.Save(ctx, s)
}

func (r *Records) GetWorkSessions(ctx context.Context, userID string) ([]models.WorkSession, error) {
	return r.work.List(ctx, userID, ReadOptions{})
}

func (r *Records) DeleteWorkSession(ctx context.Context, userID string, id models.RecordID) error {
	return r.work.Delete(ctx, userID, id)
}
