// Package chat holds the message stores: the shared broadcast log and the
// per-pair private chat logs.
package chat

import (
	"errors"
	"fmt"
)

// ErrSelfChat is returned when both sides of a chat are the same user.
var ErrSelfChat = errors.New("chat: a chat needs two distinct users")

// Message is a single immutable chat line.
type Message struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func (m Message) String() string {
	return m.Sender + ": " + m.Text
}

// ChatID identifies a two-party conversation. A and B are distinct and
// A < B, so ChatID values built from either argument order compare equal.
type ChatID struct {
	A string
	B string
}

// NewChatID returns the canonical identity of the chat between x and y.
func NewChatID(x, y string) (ChatID, error) {
	if x == y {
		return ChatID{}, ErrSelfChat
	}
	if y < x {
		x, y = y, x
	}
	return ChatID{A: x, B: y}, nil
}

// Partner returns the other participant, or "" if user is not in the chat.
func (id ChatID) Partner(user string) string {
	switch user {
	case id.A:
		return id.B
	case id.B:
		return id.A
	}
	return ""
}

// Has reports whether user is a participant.
func (id ChatID) Has(user string) bool {
	return user == id.A || user == id.B
}

func (id ChatID) String() string {
	return fmt.Sprintf("%s<->%s", id.A, id.B)
}
