package repository

import (
	"context"

	"github.com/zene/zenesync/internal/models"
)

// SeedBookSummaries creates the default catalog entries if they don't exist
func SeedBookSummaries(ctx context.Context, repo TableRepo) (int, error) {
	table, err := models.LookupTable(models.TableBookSummaries)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, book := range defaultBookSummaries() {
		row, err := models.ToRow(book)
		if err != nil {
			return created, err
		}

		existing, err := repo.Select(ctx, table, map[string]any{"id": book.ID.String()}, "")
		if err != nil {
			return created, err
		}
		if len(existing) > 0 {
			continue
		}

		if _, err := repo.Insert(ctx, table, row); err != nil {
			return created, err
		}
		created++
	}

	return created, nil
}

func defaultBookSummaries() []models.BookSummary {
	return []models.BookSummary{
		{
			ID:      "1",
			Title:   "Atomic Habits",
			Author:  "James Clear",
			Summary: "Small habits compound into remarkable results when the system around them is right.",
		},
		{
			ID:      "2",
			Title:   "Deep Work",
			Author:  "Cal Newport",
			Summary: "Focused, distraction-free work produces more value in less time.",
		},
		{
			ID:      "3",
			Title:   "The Miracle of Mindfulness",
			Author:  "Thich Nhat Hanh",
			Summary: "Everyday tasks become meditation when done with full attention.",
		},
		{
			ID:      "4",
			Title:   "Why We Sleep",
			Author:  "Matthew Walker",
			Summary: "Sleep underpins memory, mood and health, and most adults get too little of it.",
		},
	}
}
