package records

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

func (r *Records) SaveVoiceMessage(ctx context.Context, m models.VoiceMessage) (models.VoiceMessage, error) {
	m.Timestamp = r.stamp(m.Timestamp)
	return r.voice.Save(ctx, m)
}

func (r *Records) GetVoiceMessages(ctx context.Context, userID string) ([]models.VoiceMessage, error) {
	return r.voice.List(ctx, userID, ReadOptions{})
}

// GetVoiceMessagesForDate returns the messages recorded on a calendar day (YYYY-MM-DD, UTC)
func (r *Records) GetVoiceMessagesForDate(ctx context.Context, userID, date string) ([]models.VoiceMessage, error) {
	all, err := r.GetVoiceMessages(ctx, userID)
	out := make([]models.VoiceMessage, 0, len(all))
	for _, m := range all {
		if m.Date() == date {
			out = append(out, m)
		}
	}
	return out, err
}

func (r *Records) MarkVoiceMessagePlayed(ctx context.Context, userID string, id models.RecordID) (models.VoiceMessage, error) {
	return r.voice.Update(ctx, userID, id, models.Row{"played": true})
}

func (r *Records) DeleteVoiceMessage(ctx context.Context, userID string, id models.RecordID) error {
	return r.voice.Delete(ctx, userID, id)
}
