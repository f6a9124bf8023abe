package session

import (
	"errors"
	"slices"
	"strings"

	"github.com/whisper/linechat/internal/chat"
)

var (
	ErrAlreadySignedIn = errors.New("session: user is already signed in")
	ErrNotFound        = errors.New("session: no such user")
)

// Registry maps usernames to sessions. It is not safe for concurrent use;
// the server guards it with the same lock as the message stores.
type Registry struct {
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// RegisterOrActivate signs username in from peer.
//
// An unseen username gets a new online session and isNew is true. An offline
// session goes online, records peer and hands back its buffered inbox, which
// is cleared. An online session is left untouched and ErrAlreadySignedIn is
// returned.
func (r *Registry) RegisterOrActivate(username, peer string) (sess *Session, inbox []chat.Message, isNew bool, err error) {
	sess, ok := r.sessions[username]
	if !ok {
		sess = newSession(username, peer)
		r.sessions[username] = sess
		return sess, sess.drainInbox(), true, nil
	}
	if sess.Presence == Online {
		return nil, nil, false, ErrAlreadySignedIn
	}

	sess.Presence = Online
	sess.Peer = peer
	return sess, sess.drainInbox(), false, nil
}

// Deactivate marks username offline. Inbox, cursors and reports are kept.
func (r *Registry) Deactivate(username string) error {
	sess, ok := r.sessions[username]
	if !ok {
		return ErrNotFound
	}
	sess.Presence = Offline
	return nil
}

// Get returns the session for username.
func (r *Registry) Get(username string) (*Session, error) {
	sess, ok := r.sessions[username]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Exists implements chat.Directory.
func (r *Registry) Exists(username string) bool {
	_, ok := r.sessions[username]
	return ok
}

// DeliverAll implements chat.Directory by appending msg to every inbox.
func (r *Registry) DeliverAll(msg chat.Message) {
	for _, sess := range r.sessions {
		sess.inbox = append(sess.inbox, msg)
	}
}

// Status is a snapshot of one user's presence.
type Status struct {
	Username string
	Presence Presence
}

// Statuses returns every known user's presence, sorted by username.
func (r *Registry) Statuses() []Status {
	out := make([]Status, 0, len(r.sessions))
	for name, sess := range r.sessions {
		out = append(out, Status{Username: name, Presence: sess.Presence})
	}
	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

// Online returns the number of online sessions.
func (r *Registry) Online() int {
	n := 0
	for _, sess := range r.sessions {
		if sess.Presence == Online {
			n++
		}
	}
	return n
}

// Len returns the number of known users.
func (r *Registry) Len() int {
	return len(r.sessions)
}
