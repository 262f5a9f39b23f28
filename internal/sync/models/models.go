// Package models holds the documents exchanged during device sync.
package models

import (
	"strings"
	"time"
	"unicode"
)

// RecordType selects the resolution rules for a document.
type RecordType string

const (
	RecordTypeEVV   RecordType = "evv_record"
	RecordTypeVisit RecordType = "visit"
	RecordTypeTask  RecordType = "task"
)

// Known reports whether the type has dedicated resolution rules.
func (t RecordType) Known() bool {
	switch t {
	case RecordTypeEVV, RecordTypeVisit, RecordTypeTask:
		return true
	}
	return false
}

// Record is one side of a sync exchange. Fields is a free-form document so
// new fields travel without a schema change.
type Record struct {
	Type       RecordType     `json:"type"`
	ID         string         `json:"id"`
	Version    int64          `json:"version"`
	ModifiedAt time.Time      `json:"modified_at"`
	Fields     map[string]any `json:"fields"`
}

// Clone copies the record and its top-level fields.
func (r *Record) Clone() *Record {
	c := *r
	c.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	return &c
}

// Canonical returns a copy whose field names, including those of nested
// objects, are in FieldName form. When two names collide the one that was
// already canonical wins.
func (r *Record) Canonical() *Record {
	c := *r
	c.Fields = canonicalMap(r.Fields)
	return &c
}

func canonicalMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		name := FieldName(k)
		if _, taken := out[name]; taken && k != name {
			continue
		}
		out[name] = canonicalValue(v)
	}
	return out
}

func canonicalValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return canonicalMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = canonicalValue(t[i])
		}
		return out
	}
	return v
}

// FieldName folds camelCase, PascalCase, kebab-case and spaced names to
// snake_case: "clockInTime", "ClockInTime" and "clock-in-time" all become
// "clock_in_time".
func FieldName(name string) string {
	runes := []rune(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(runes) + 4)
	underscore := func() {
		if s := b.String(); s != "" && !strings.HasSuffix(s, "_") {
			b.WriteByte('_')
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			underscore()
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					underscore()
				}
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Outcome is what reconciliation did with one record.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeApplied      Outcome = "applied"
	OutcomeUnchanged    Outcome = "unchanged"
	OutcomeManualReview Outcome = "manual_review"
	OutcomeFailed       Outcome = "failed"
)

// HistoryEntry is the local log of a reconciliation attempt for one record.
type HistoryEntry struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"device_id"`
	RecordType RecordType     `json:"record_type"`
	RecordID   string         `json:"record_id"`
	Outcome    Outcome        `json:"outcome"`
	Strategy   string         `json:"strategy,omitempty"`
	Attempts   int            `json:"attempts"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
