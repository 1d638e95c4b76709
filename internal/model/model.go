package model

import (
	"fmt"
	"time"
)

// Presence is the availability the engine mirrors onto the chat server.
// The zero value is PresenceUnset, used before anything has been applied.
type Presence int

const (
	PresenceUnset Presence = iota
	PresenceOnline
	PresenceBusy
)

func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return "online"
	case PresenceBusy:
		return "busy"
	default:
		return "unset"
	}
}

// ActiveEvent is the calendar event running at the probed instant.
type ActiveEvent struct {
	Title string
	Start time.Time
	End   time.Time
}

// Credentials are handed to the presence client per call. They are owned
// by whoever collected them (config file, login flow) and never cached by
// the sync engine.
type Credentials struct {
	ServerBaseURL string
	UserID        string
	AuthToken     string
}

// Occurrence represents a single concrete instance of a calendar event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID
	Summary  string

	AllDay bool

	Start time.Time
	End   time.Time
}

// ActiveAt reports whether the occurrence is a timed event whose
// [Start, End] window contains t. Both bounds are inclusive.
func (o Occurrence) ActiveAt(t time.Time) bool {
	if o.AllDay {
		return false
	}
	return !t.Before(o.Start) && !t.After(o.End)
}

// ConfigError reports a caller-fixable configuration problem. It is never
// retried automatically.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}
