package models

import "sort"

// Table names as known to the remote backend
const (
	TableMeditationSessions = "meditation_sessions"
	TableWorkSessions       = "work_sessions"
	TableJournalLogs        = "journal_logs"
	TableGoals              = "goals"
	TableUserBookStatus     = "user_book_status"
	TableBookSummaries      = "book_summaries"
	TableVoiceMessages      = "voice_messages"
	TableUserPrefs          = "user_prefs"
)

// Table describes how a logical record type is cached locally and addressed remotely
type Table struct {
	Name string
	// CacheKey is the local store key holding this table's cached rows
	CacheKey string
	// NaturalKey lists the fields that address a remote row when its surrogate id is unknown
	NaturalKey []string
	OrderBy    string
	// UserScoped tables are filtered by user_id on every read and write
	UserScoped bool
	// SingleRow tables hold one object per user rather than a list
	SingleRow bool
	// Authoritative tables are re-fetched from the remote after a sync pass touches them
	Authoritative bool
	ReadOnly      bool
}

// Composite reports whether the natural key spans more than the owner column
func (t Table) Composite() bool {
	return len(t.NaturalKey) > 1
}

// KeyOf extracts the natural key from a row
func (t Table) KeyOf(row Row) NaturalKey {
	key := NaturalKey{
		Fields: append([]string(nil), t.NaturalKey...),
		Values: make([]any, len(t.NaturalKey)),
	}
	for i, f := range t.NaturalKey {
		v := row[f]
		if f == "id" || f == "book_summary_id" {
			v = string(IDFromValue(v))
		}
		key.Values[i] = v
	}
	return key
}

// IdentityOf classifies a row as resolved or pending
func (t Table) IdentityOf(row Row) Identity {
	id := row.ID()
	if !id.IsZero() && !id.IsTemp() {
		return Identity{Kind: IdentityResolved, RemoteID: id, Key: t.KeyOf(row)}
	}
	return Identity{Kind: IdentityPending, Key: t.KeyOf(row)}
}

var tables = map[string]Table{
	TableMeditationSessions: {
		Name:       TableMeditationSessions,
		CacheKey:   TableMeditationSessions,
		NaturalKey: []string{"user_id", "timestamp"},
		OrderBy:    "timestamp",
		UserScoped: true,
	},
	TableWorkSessions: {
		Name:       TableWorkSessions,
		CacheKey:   TableWorkSessions,
		NaturalKey: []string{"user_id", "timestamp"},
		OrderBy:    "timestamp",
		UserScoped: true,
	},
	TableJournalLogs: {
		Name:       TableJournalLogs,
		CacheKey:   TableJournalLogs,
		NaturalKey: []string{"user_id", "timestamp"},
		OrderBy:    "timestamp",
		UserScoped: true,
	},
	TableGoals: {
		Name:          TableGoals,
		CacheKey:      TableGoals,
		NaturalKey:    []string{"user_id", "timestamp"},
		OrderBy:       "timestamp",
		UserScoped:    true,
		Authoritative: true,
	},
	TableUserBookStatus: {
		Name:       TableUserBookStatus,
		CacheKey:   TableUserBookStatus,
		NaturalKey: []string{"user_id", "book_summary_id"},
		OrderBy:    "book_summary_id",
		UserScoped: true,
	},
	TableVoiceMessages: {
		Name:       TableVoiceMessages,
		CacheKey:   TableVoiceMessages,
		NaturalKey: []string{"user_id", "timestamp"},
		OrderBy:    "timestamp",
		UserScoped: true,
	},
	TableUserPrefs: {
		Name:       TableUserPrefs,
		CacheKey:   TableUserPrefs,
		NaturalKey: []string{"user_id"},
		UserScoped: true,
		SingleRow:  true,
	},
	TableBookSummaries: {
		Name:       TableBookSummaries,
		CacheKey:   TableBookSummaries,
		NaturalKey: []string{"id"},
		OrderBy:    "title",
		ReadOnly:   true,
	},
}

// LookupTable returns the descriptor for a table name
func LookupTable(name string) (Table, error) {
	t, ok := tables[name]
	if !ok {
		return Table{}, ErrUnknownTable
	}
	return t, nil
}

// Tables returns every known table sorted by name
func Tables() []Table {
	out := make([]Table, 0, len(tables))
	for _, t := range tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
