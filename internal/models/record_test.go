package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTempID(t *testing.T) {
	t.Run("has temp prefix and three parts", func(t *testing.T) {
		id := NewTempID()

		assert.True(t, id.IsTemp())
		assert.Len(t, strings.Split(string(id), "_"), 3)
	})

	t.Run("generates unique IDs", func(t *testing.T) {
		assert.NotEqual(t, NewTempID(), NewTempID())
	})
}

func TestRecordID_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected RecordID
	}{
		{"string uuid", `"5f1c2a9e-0000-4000-8000-000000000001"`, "5f1c2a9e-0000-4000-8000-000000000001"},
		{"integer", `42`, "42"},
		{"temp id", `"temp_1700000000000_abc"`, "temp_1700000000000_abc"},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id RecordID
			require.NoError(t, json.Unmarshal([]byte(tt.input), &id))
			assert.Equal(t, tt.expected, id)
		})
	}

	t.Run("rejects objects", func(t *testing.T) {
		var id RecordID
		assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &id))
	})
}

func TestRow_WithoutTempID(t *testing.T) {
	t.Run("strips temp id", func(t *testing.T) {
		row := Row{"id": "temp_1_x", "user_id": "u1"}

		out := row.WithoutTempID()

		assert.NotContains(t, out, "id")
		assert.Equal(t, "temp_1_x", row["id"], "original row is untouched")
	})

	t.Run("keeps real id", func(t *testing.T) {
		out := Row{"id": float64(7), "user_id": "u1"}.WithoutTempID()
		assert.Equal(t, RecordID("7"), out.ID())
	})
}

func TestTable_IdentityOf(t *testing.T) {
	goals, err := LookupTable(TableGoals)
	require.NoError(t, err)

	t.Run("temp id is pending and keyed by natural key", func(t *testing.T) {
		identity := goals.IdentityOf(Row{"id": "temp_1_x", "user_id": "u1", "timestamp": "2024-01-01T00:00:00Z"})

		assert.Equal(t, IdentityPending, identity.Kind)
		assert.Equal(t, map[string]any{"user_id": "u1", "timestamp": "2024-01-01T00:00:00Z"}, identity.Key.Match())
		assert.True(t, identity.Key.Complete())
	})

	t.Run("remote id is resolved", func(t *testing.T) {
		identity := goals.IdentityOf(Row{"id": float64(12), "user_id": "u1", "timestamp": "t"})

		assert.True(t, identity.Resolved())
		assert.Equal(t, RecordID("12"), identity.RemoteID)
	})

	t.Run("missing timestamp is an incomplete key", func(t *testing.T) {
		identity := goals.IdentityOf(Row{"user_id": "u1"})
		assert.False(t, identity.Key.Complete())
	})
}

func TestNaturalKey_String(t *testing.T) {
	books, err := LookupTable(TableUserBookStatus)
	require.NoError(t, err)

	numeric := books.KeyOf(Row{"user_id": "u1", "book_summary_id": float64(3)})
	text := books.KeyOf(Row{"user_id": "u1", "book_summary_id": "3"})

	assert.Equal(t, "user_id=u1,book_summary_id=3", numeric.String())
	assert.True(t, numeric.Equal(text))
}

func TestLookupTable(t *testing.T) {
	_, err := LookupTable("photos")
	assert.ErrorIs(t, err, ErrUnknownTable)

	prefs, err := LookupTable(TableUserPrefs)
	require.NoError(t, err)
	assert.True(t, prefs.SingleRow)
	assert.False(t, prefs.Composite())

	assert.Len(t, Tables(), 8)
}

func TestPendingOperation_Validate(t *testing.T) {
	tests := []struct {
		name string
		op   PendingOperation
		err  error
	}{
		{"valid create with temp id", NewPendingOperation(OpCreate, TableGoals, "temp_1_a", Row{"user_id": "u1"}), nil},
		{"missing id", NewPendingOperation(OpCreate, TableGoals, "", Row{"user_id": "u1"}), ErrInvalidOperationID},
		{"bad kind", NewPendingOperation("upsert", TableGoals, "1", Row{"user_id": "u1"}), ErrInvalidOperation},
		{"unknown table", NewPendingOperation(OpCreate, "photos", "1", Row{"user_id": "u1"}), ErrUnknownTable},
		{"missing user", NewPendingOperation(OpUpdate, TableGoals, "1", Row{"id": "1"}), ErrMissingUserID},
		{"temp update", NewPendingOperation(OpUpdate, TableGoals, "temp_1_a", Row{"id": "temp_1_a", "user_id": "u1"}), ErrTempIDMutation},
		{"temp delete", NewPendingOperation(OpDelete, TableGoals, "temp_1_a", Row{"id": "temp_1_a", "user_id": "u1"}), ErrTempIDMutation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDateOf(t *testing.T) {
	assert.Equal(t, "2024-03-15", DateOf("2024-03-15T23:30:00Z"))
	assert.Equal(t, "2024-03-16", DateOf("2024-03-15T23:30:00-02:00"))
	assert.Equal(t, "2024-03-15", DateOf("2024-03-15 10:00"))
}
