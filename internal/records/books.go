package records

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

func (r *Records) SaveBookStatus(ctx context.Context, s models.UserBookStatus) (models.UserBookStatus, error) {
	return r.bookStatus.Save(ctx, s)
}

func (r *Records) GetBookStatuses(ctx context.Context, userID string) ([]models.UserBookStatus, error) {
	return r.bookStatus.List(ctx, userID, ReadOptions{})
}

// SetBookFavorite flags or unflags a book for the user, creating the status row on first use
func (r *Records) SetBookFavorite(ctx context.Context, userID string, bookID models.RecordID, favorite bool) (models.UserBookStatus, error) {
	return r.setBookFlag(ctx, userID, bookID, models.Row{"favorite": favorite})
}

// MarkBookRead marks a book as read for the user
func (r *Records) MarkBookRead(ctx context.Context, userID string, bookID models.RecordID) (models.UserBookStatus, error) {
	return r.setBookFlag(ctx, userID, bookID, models.Row{"read": true})
}

func (r *Records) setBookFlag(ctx context.Context, userID string, bookID models.RecordID, changes models.Row) (models.UserBookStatus, error) {
	if userID == "" {
		return models.UserBookStatus{UserID: userID, BookSummaryID: bookID}, models.ErrMissingUserID
	}

	row, found, err := r.bookStatus.findLocalByKey(ctx, r.bookStatus.table.KeyOf(models.Row{
		"user_id":         userID,
		"book_summary_id": string(bookID),
	}))
	if err != nil {
		return models.UserBookStatus{}, err
	}
	if found {
		return r.bookStatus.Update(ctx, userID, row.ID(), changes)
	}

	status := models.UserBookStatus{UserID: userID, BookSummaryID: bookID}
	if v, ok := changes["favorite"].(bool); ok {
		status.Favorite = v
	}
	if v, ok := changes["read"].(bool); ok {
		status.Read = v
	}
	return r.bookStatus.Save(ctx, status)
}

// GetBookSummaries returns the shared catalog, cached for offline use
func (r *Records) GetBookSummaries(ctx context.Context) ([]models.BookSummary, error) {
	return r.books.List(ctx, "", ReadOptions{})
}
