package records

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

func (r *Records) SaveJournalLog(ctx context.Context, l models.JournalLog) (models.JournalLog, error) {
	l.Timestamp = r.stamp(l.Timestamp)
	return r.journal.Save(ctx, l)
}

// GetJournalLogs returns the user's entries; a failing remote falls back to the cached entries
func (r *Records) GetJournalLogs(ctx context.Context, userID string) ([]models.JournalLog, error) {
	return r.journal.List(ctx, userID, ReadOptions{})
}

// UpdateJournalLog replaces an entry's text
func (r *Records) UpdateJournalLog(ctx context.Context, userID string, id models.RecordID, text string) (models.JournalLog, error) {
	return r.journal.Update(ctx, userID, id, models.Row{"log": text})
}

func (r *Records) DeleteJournalLog(ctx context.Context, userID string, id models.RecordID) error {
	return r.journal.Delete(ctx, userID, id)
}
