package models

import (
	"strings"
	"time"
)

// MeditationSession is a completed meditation timer run
type MeditationSession struct {
	ID        RecordID `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	Timestamp string   `json:"timestamp"`
	Length    int      `json:"meditation_length"`
	Category  string   `json:"category,omitempty"`
}

// WorkSession is a completed focus timer run
type WorkSession struct {
	ID        RecordID `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	Timestamp string   `json:"timestamp"`
	Length    int      `json:"work_length"`
	Label     string   `json:"label,omitempty"`
}

// JournalLog is a free-text journal entry
type JournalLog struct {
	ID        RecordID `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	Timestamp string   `json:"timestamp"`
	Log       string   `json:"log"`
}

// Goal is a user goal that can be completed
type Goal struct {
	ID        RecordID `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	Timestamp string   `json:"timestamp"`
	Goal      string   `json:"goal"`
	Completed bool     `json:"completed"`
}

// UserBookStatus tracks whether a user favorited or read a book summary
type UserBookStatus struct {
	ID            RecordID `json:"id,omitempty"`
	UserID        string   `json:"user_id"`
	BookSummaryID RecordID `json:"book_summary_id"`
	Favorite      bool     `json:"favorite"`
	Read          bool     `json:"read"`
}

// BookSummary is a catalog entry shared by all users
type BookSummary struct {
	ID       RecordID `json:"id,omitempty"`
	Title    string   `json:"title"`
	Author   string   `json:"author,omitempty"`
	Summary  string   `json:"summary,omitempty"`
	Category string   `json:"category,omitempty"`
}

// VoiceMessage is a recorded voice note delivered to the user
type VoiceMessage struct {
	ID        RecordID `json:"id,omitempty"`
	UserID    string   `json:"user_id"`
	Timestamp string   `json:"timestamp"`
	AudioURL  string   `json:"audio_url"`
	Duration  int      `json:"duration"`
	Played    bool     `json:"played"`
}

// Date returns the calendar day (YYYY-MM-DD) of the message in UTC
func (m VoiceMessage) Date() string {
	return DateOf(m.Timestamp)
}

// UserPrefs holds the single preferences row of a user
type UserPrefs struct {
	ID                     RecordID `json:"id,omitempty"`
	UserID                 string   `json:"user_id"`
	DailyMeditationMinutes int      `json:"daily_meditation_minutes"`
	DailyWorkMinutes       int      `json:"daily_work_minutes"`
	Theme                  string   `json:"theme,omitempty"`
	ReminderTime           string   `json:"reminder_time,omitempty"`
	OnboardingCompleted    bool     `json:"onboarding_completed"`
}

// NewUserPrefs creates preferences with defaults for a user
func NewUserPrefs(userID string) *UserPrefs {
	return &UserPrefs{
		UserID:                 userID,
		DailyMeditationMinutes: 10,
		DailyWorkMinutes:       25,
		Theme:                  "light",
	}
}

// Timestamp formats t the way natural keys expect it
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DateOf returns the UTC calendar day of an ISO-8601 timestamp, or its first ten characters
// when it does not parse
func DateOf(ts string) string {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.UTC().Format("2006-01-02")
	}
	if len(ts) >= 10 {
		return ts[:10]
	}
	return strings.TrimSpace(ts)
}
