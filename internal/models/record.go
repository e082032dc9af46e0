package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers assigned locally before the remote confirms a record
const TempIDPrefix = "temp_"

// RecordID is a record identifier. Remote ids may be numeric or UUID strings;
// local placeholders use the temp_<millis>_<random> form.
type RecordID string

// NewTempID generates a temporary identifier for a record not yet confirmed remotely
func NewTempID() RecordID {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return RecordID(fmt.Sprintf("%s%d_%s", TempIDPrefix, time.Now().UnixMilli(), random))
}

// IsTemp reports whether the id is a local placeholder
func (id RecordID) IsTemp() bool {
	return strings.HasPrefix(string(id), TempIDPrefix)
}

// IsZero reports whether no id has been assigned
func (id RecordID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id RecordID) String() string {
	return string(id)
}

// UnmarshalJSON accepts both numeric and string identifiers
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid record id %s: %w", string(data), err)
	}
	*id = RecordID(n.String())
	return nil
}

// IDFromValue converts a decoded JSON value into a RecordID
func IDFromValue(v any) RecordID {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return RecordID(t)
	case RecordID:
		return t
	case float64:
		return RecordID(strconv.FormatFloat(t, 'f', -1, 64))
	case int:
		return RecordID(strconv.Itoa(t))
	case int64:
		return RecordID(strconv.FormatInt(t, 10))
	case json.Number:
		return RecordID(t.String())
	default:
		return RecordID(fmt.Sprint(t))
	}
}

// Row is a schemaless record as exchanged with the local cache and the remote backend
type Row map[string]any

// ID returns the row's identifier, if any
func (r Row) ID() RecordID {
	return IDFromValue(r["id"])
}

// UserID returns the owner of the row
func (r Row) UserID() string {
	s, _ := r["user_id"].(string)
	return s
}

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WithoutTempID returns a copy with the id removed when it is a temporary placeholder
func (r Row) WithoutTempID() Row {
	out := r.Clone()
	if out.ID().IsTemp() || out.ID().IsZero() {
		delete(out, "id")
	}
	return out
}

// WithoutID returns a copy with the id removed
func (r Row) WithoutID() Row {
	out := r.Clone()
	delete(out, "id")
	return out
}

// Merge returns a copy of r with changes applied on top
func (r Row) Merge(changes Row) Row {
	out := r.Clone()
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// ToRow converts a typed record into a Row via its JSON representation
func ToRow(v any) (Row, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return row, nil
}

// FromRow converts a Row back into a typed record
func FromRow[T any](row Row) (T, error) {
	var out T
	data, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("failed to encode row: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode row: %w", err)
	}
	return out, nil
}

// IdentityKind distinguishes records the remote knows from records still awaiting creation
type IdentityKind int

const (
	// IdentityPending means the record only has a local placeholder id and is addressed by natural key
	IdentityPending IdentityKind = iota
	// IdentityResolved means the record carries its remote id
	IdentityResolved
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityPending:
		return "pending"
	case IdentityResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Identity is either Resolved(remote id) or Pending(natural key)
type Identity struct {
	Kind     IdentityKind
	RemoteID RecordID
	Key      NaturalKey
}

// Resolved reports whether the remote id is known
func (i Identity) Resolved() bool {
	return i.Kind == IdentityResolved
}

// NaturalKey is the ordered set of fields addressing a remote row independently of its surrogate id
type NaturalKey struct {
	Fields []string
	Values []any
}

// Match returns the key as field/value filters
func (k NaturalKey) Match() map[string]any {
	m := make(map[string]any, len(k.Fields))
	for i, f := range k.Fields {
		m[f] = k.Values[i]
	}
	return m
}

// Complete reports whether every key field carries a non-empty value
func (k NaturalKey) Complete() bool {
	if len(k.Fields) == 0 {
		return false
	}
	for _, v := range k.Values {
		if v == nil {
			return false
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}

// String renders the key canonically, e.g. "user_id=u1,timestamp=2024-01-01T00:00:00Z"
func (k NaturalKey) String() string {
	parts := make([]string, len(k.Fields))
	for i, f := range k.Fields {
		parts[i] = fmt.Sprintf("%s=%v", f, IDFromValue(k.Values[i]))
	}
	return strings.Join(parts, ",")
}

// Equal compares two keys value by value
func (k NaturalKey) Equal(other NaturalKey) bool {
	return k.String() == other.String()
}

// Matches reports whether every field in eq equals the row's value, comparing ids and numbers
// by their canonical string form
func (r Row) Matches(eq map[string]any) bool {
	for field, want := range eq {
		got, ok := r[field]
		if !ok || IDFromValue(got) != IDFromValue(want) {
			return false
		}
	}
	return true
}

// SortRows orders rows ascending by field, comparing canonical string forms
func SortRows(rows []Row, field string) {
	sort.SliceStable(rows, func(i, j int) bool {
		return IDFromValue(rows[i][field]) < IDFromValue(rows[j][field])
	})
}
