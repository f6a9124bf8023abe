// Package moderation defines the events the chat server publishes when users
// report each other, and the audit trail the moderator service keeps of them.
package moderation

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types.
const (
	TypeReport = "report"
	TypeBan    = "ban"
)

// Event is published on moderation.report for every accepted report and on
// moderation.ban when a report pushes its target over the threshold.
type Event struct {
	Type     string `json:"type"`
	Reporter string `json:"reporter"`
	Target   string `json:"target"`
	Reports  int    `json:"reports"`
	BanUntil int64  `json:"ban_until,omitempty"` // unix seconds, ban events only
	Ts       int64  `json:"ts"`
}

// NewReportEvent builds the event for an accepted report.
func NewReportEvent(reporter, target string, reports int, now time.Time) Event {
	return Event{
		Type:     TypeReport,
		Reporter: reporter,
		Target:   target,
		Reports:  reports,
		Ts:       now.Unix(),
	}
}

// NewBanEvent builds the event for a newly imposed ban.
func NewBanEvent(reporter, target string, reports int, until, now time.Time) Event {
	return Event{
		Type:     TypeBan,
		Reporter: reporter,
		Target:   target,
		Reports:  reports,
		BanUntil: until.Unix(),
		Ts:       now.Unix(),
	}
}

// Decode parses and checks an event received off the wire.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("moderation: decode event: %w", err)
	}
	switch ev.Type {
	case TypeReport, TypeBan:
	default:
		return Event{}, fmt.Errorf("moderation: unknown event type %q", ev.Type)
	}
	if ev.Target == "" {
		return Event{}, fmt.Errorf("moderation: event has no target")
	}
	return ev, nil
}
