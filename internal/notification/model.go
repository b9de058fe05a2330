// Package notification holds the client-side notification model, the
// in-memory store of recent notifications and the presentation helpers
// that turn a notification into something a user can see.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is the server-defined notification category. The set may grow on the
// server; unknown values are kept verbatim and rendered with defaults.
type Type string

// Known notification types.
const (
	TypeTaskAssigned       Type = "TASK_ASSIGNED"
	TypeSubmissionReceived Type = "SUBMISSION_RECEIVED"
	TypeSubmissionGraded   Type = "SUBMISSION_GRADED"
	TypeAttendanceMarked   Type = "ATTENDANCE_MARKED"
	TypeFeedbackReceived   Type = "FEEDBACK_RECEIVED"
	TypeResourceAdded      Type = "RESOURCE_ADDED"
	TypeLiveClassScheduled Type = "LIVE_CLASS_SCHEDULED"
	TypeDeadlineReminder   Type = "DEADLINE_REMINDER"
	TypeGeneral            Type = "GENERAL"
)

// Types lists every known type in display order.
var Types = []Type{
	TypeTaskAssigned,
	TypeSubmissionReceived,
	TypeSubmissionGraded,
	TypeAttendanceMarked,
	TypeFeedbackReceived,
	TypeResourceAdded,
	TypeLiveClassScheduled,
	TypeDeadlineReminder,
	TypeGeneral,
}

// Known reports whether t is one of the enumerated types.
func (t Type) Known() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// ID identifies a notification. The backend emits numeric ids, but string
// ids are accepted as well; both decode to the same textual form.
type ID string

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("notification id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric-looking ids as numbers so they round-trip to
// the backend unchanged.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Layouts accepted for createdAt, tried in order. The zone-less forms are
// what Java LocalDateTime serializes to; they are read as local time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// Timestamp is an ISO-8601 instant with lenient parsing.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON parses an ISO-8601 string. null leaves the zero time.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		ts.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("createdAt: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	ts.Time = parsed
	return nil
}

// MarshalJSON emits RFC 3339 with nanoseconds.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Time.Format(time.RFC3339Nano))
}

// ParseTimestamp parses s with the accepted layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if layout == time.RFC3339Nano {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
			continue
		}
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("createdAt: unsupported timestamp %q", s)
}

// Notification is a server-defined message addressed to the signed-in user
// or broadcast to everyone. Only Read changes after receipt.
type Notification struct {
	ID        ID        `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt Timestamp `json:"createdAt"`
	Read      bool      `json:"read"`
}

// UnmarshalJSON also accepts "isRead", which some backend versions emit.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type plain Notification
	aux := struct {
		*plain
		IsRead *bool `json:"isRead"`
	}{plain: (*plain)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.IsRead != nil {
		n.Read = *aux.IsRead
	}
	return nil
}

// Decode parses a single pushed notification payload.
func Decode(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" {
		return Notification{}, fmt.Errorf("decode notification: missing id")
	}
	return n, nil
}
