// Package session manages the per-username session state: presence, the
// buffered broadcast inbox, private-chat read cursors and the report record.
// Sessions are created on first sign-in and are never deleted.
package session

import (
	"slices"
	"time"

	"github.com/whisper/linechat/internal/chat"
)

// Presence is the online state of a session.
type Presence int

const (
	Offline Presence = iota
	Online
)

func (p Presence) String() string {
	if p == Online {
		return "online"
	}
	return "offline"
}

// ReportRecord tracks who reported a user and until when the user is banned.
// A zero BanUntil means no ban has been imposed.
type ReportRecord struct {
	Reporters []string
	BanUntil  time.Time
}

// HasReporter reports whether user already filed a report.
func (r *ReportRecord) HasReporter(user string) bool {
	return slices.Contains(r.Reporters, user)
}

// Reset clears the reporters and any ban.
func (r *ReportRecord) Reset() {
	r.Reporters = nil
	r.BanUntil = time.Time{}
}

// Session is the server-side state of one username.
type Session struct {
	Username string
	Presence Presence
	Peer     string // last address that signed this user in
	Reports  ReportRecord

	inbox   []chat.Message
	cursors map[chat.ChatID]int
}

func newSession(username, peer string) *Session {
	return &Session{
		Username: username,
		Presence: Online,
		Peer:     peer,
		cursors:  make(map[chat.ChatID]int),
	}
}

// ReadCursor implements chat.Cursor.
func (s *Session) ReadCursor(id chat.ChatID) (int, bool) {
	i, ok := s.cursors[id]
	return i, ok
}

// SetReadCursor implements chat.Cursor. Cursors never move backwards.
func (s *Session) SetReadCursor(id chat.ChatID, index int) {
	if cur, ok := s.cursors[id]; ok && index < cur {
		return
	}
	s.cursors[id] = index
}

func (s *Session) drainInbox() []chat.Message {
	out := s.inbox
	if out == nil {
		out = []chat.Message{}
	}
	s.inbox = nil
	return out
}
