package records

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

// SavePrefs upserts the user's single preferences row
func (r *Records) SavePrefs(ctx context.Context, p models.UserPrefs) (models.UserPrefs, error) {
	return r.prefs.Save(ctx, p)
}

// GetPrefs returns the user's preferences, or defaults when none were ever saved
func (r *Records) GetPrefs(ctx context.Context, userID string) (models.UserPrefs, error) {
	p, found, err := r.prefs.Get(ctx, userID)
	if err != nil {
		return models.UserPrefs{UserID: userID}, err
	}
	if !found {
		return *models.NewUserPrefs(userID), nil
	}
	return p, nil
}
