package chat

import (
	"errors"
	"slices"
	"strings"
)

// ErrUnknownTarget is returned when a private message names a user that
// has never signed in.
var ErrUnknownTarget = errors.New("chat: unknown target user")

// Directory is the view of the session registry the stores need: whether a
// user exists, and a way to drop a broadcast copy into every inbox.
type Directory interface {
	Exists(username string) bool
	DeliverAll(msg Message)
}

// Cursor tracks how far one reader has read into each private chat.
// A missing cursor means nothing has been read yet.
type Cursor interface {
	ReadCursor(id ChatID) (int, bool)
	SetReadCursor(id ChatID, index int)
}

// Store holds the broadcast log and the private chat logs. Both are
// append-only. Store is not safe for concurrent use; the server serializes
// access to it together with the session registry.
type Store struct {
	dir       Directory
	broadcast []Message
	private   map[ChatID][]Message
}

// NewStore creates empty stores that fan broadcasts out through dir.
func NewStore(dir Directory) *Store {
	return &Store{
		dir:     dir,
		private: make(map[ChatID][]Message),
	}
}

// PostBroadcast appends to the broadcast log and delivers a copy into every
// known user's inbox, the sender's included.
func (s *Store) PostBroadcast(sender, text string) Message {
	msg := Message{Sender: sender, Text: text}
	s.broadcast = append(s.broadcast, msg)
	s.dir.DeliverAll(msg)
	return msg
}

// Recent returns up to n of the latest broadcast messages, oldest first.
func (s *Store) Recent(n int) []Message {
	if n <= 0 {
		return []Message{}
	}
	start := len(s.broadcast) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.broadcast)-start)
	copy(out, s.broadcast[start:])
	return out
}

// PostPrivate appends a message to the chat between sender and target,
// creating the log on first use.
func (s *Store) PostPrivate(sender, target, text string) (Message, error) {
	if !s.dir.Exists(target) {
		return Message{}, ErrUnknownTarget
	}
	id, err := NewChatID(sender, target)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Sender: sender, Text: text}
	s.private[id] = append(s.private[id], msg)
	return msg, nil
}

// ReadPrivate returns every message in the chat between reader and other
// after the reader's cursor, then moves the cursor to the end of the log.
// ok is false when the two users have never exchanged a message.
func (s *Store) ReadPrivate(reader, other string, cur Cursor) (msgs []Message, ok bool) {
	id, err := NewChatID(reader, other)
	if err != nil {
		return nil, false
	}
	log, ok := s.private[id]
	if !ok {
		return nil, false
	}

	last, seen := cur.ReadCursor(id)
	if !seen {
		last = -1
	}
	unread := make([]Message, len(log)-(last+1))
	copy(unread, log[last+1:])

	if end := len(log) - 1; end > last {
		cur.SetReadCursor(id, end)
	}
	return unread, true
}

// ChatsOf returns the identities of every private chat user takes part in,
// in a stable order.
func (s *Store) ChatsOf(user string) []ChatID {
	var ids []ChatID
	for id := range s.private {
		if id.Has(user) {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(x, y ChatID) int {
		return strings.Compare(x.String(), y.String())
	})
	return ids
}
