package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory records broadcast deliveries per user.
type fakeDirectory struct {
	inboxes map[string][]Message
}

func newFakeDirectory(users ...string) *fakeDirectory {
	d := &fakeDirectory{inboxes: make(map[string][]Message)}
	for _, u := range users {
		d.inboxes[u] = nil
	}
	return d
}

func (d *fakeDirectory) Exists(username string) bool {
	_, ok := d.inboxes[username]
	return ok
}

func (d *fakeDirectory) DeliverAll(msg Message) {
	for u := range d.inboxes {
		d.inboxes[u] = append(d.inboxes[u], msg)
	}
}

type fakeCursor map[ChatID]int

func (c fakeCursor) ReadCursor(id ChatID) (int, bool) {
	i, ok := c[id]
	return i, ok
}

func (c fakeCursor) SetReadCursor(id ChatID, index int) { c[id] = index }

func TestNewChatID_Symmetric(t *testing.T) {
	pairs := [][2]string{{"alice", "bob"}, {"Bob", "bob"}, {"z", "a"}, {"user1", "user10"}}
	for _, p := range pairs {
		ab, err := NewChatID(p[0], p[1])
		require.NoError(t, err)
		ba, err := NewChatID(p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
		assert.Less(t, ab.A, ab.B)
	}
}

func TestNewChatID_Self(t *testing.T) {
	_, err := NewChatID("alice", "alice")
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestChatID_Partner(t *testing.T) {
	id, _ := NewChatID("bob", "alice")
	assert.Equal(t, "bob", id.Partner("alice"))
	assert.Equal(t, "alice", id.Partner("bob"))
	assert.Equal(t, "", id.Partner("eve"))
	assert.Equal(t, "alice<->bob", id.String())
}

func TestPostBroadcast_FansOut(t *testing.T) {
	dir := newFakeDirectory("alice", "bob")
	s := NewStore(dir)

	msg := s.PostBroadcast("alice", "hi all")
	assert.Equal(t, Message{Sender: "alice", Text: "hi all"}, msg)
	assert.Equal(t, []Message{msg}, s.Recent(5))
	assert.Equal(t, []Message{msg}, dir.inboxes["alice"])
	assert.Equal(t, []Message{msg}, dir.inboxes["bob"])
}

func TestRecent(t *testing.T) {
	s := NewStore(newFakeDirectory("a"))
	assert.Empty(t, s.Recent(20))

	for i := 1; i <= 25; i++ {
		s.PostBroadcast("a", fmt.Sprintf("msg-%d", i))
	}

	recent := s.Recent(20)
	require.Len(t, recent, 20)
	assert.Equal(t, "msg-6", recent[0].Text)
	assert.Equal(t, "msg-25", recent[19].Text)

	assert.Len(t, s.Recent(100), 25)
	assert.Empty(t, s.Recent(0))
}

func TestPostPrivate_UnknownTarget(t *testing.T) {
	s := NewStore(newFakeDirectory("alice"))
	_, err := s.PostPrivate("alice", "ghost", "hello")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestPostPrivate_Self(t *testing.T) {
	s := NewStore(newFakeDirectory("alice"))
	_, err := s.PostPrivate("alice", "alice", "hello")
	assert.ErrorIs(t, err, ErrSelfChat)
}

func TestReadPrivate_CursorAdvances(t *testing.T) {
	s := NewStore(newFakeDirectory("alice", "bob"))
	bobCur := fakeCursor{}

	_, ok := s.ReadPrivate("bob", "alice", bobCur)
	assert.False(t, ok, "no chat before the first message")

	_, err := s.PostPrivate("alice", "bob", "hello there")
	require.NoError(t, err)

	msgs, ok := s.ReadPrivate("bob", "alice", bobCur)
	require.True(t, ok)
	assert.Equal(t, []Message{{Sender: "alice", Text: "hello there"}}, msgs)

	msgs, ok = s.ReadPrivate("bob", "alice", bobCur)
	require.True(t, ok)
	assert.Empty(t, msgs)

	_, _ = s.PostPrivate("bob", "alice", "hey")
	_, _ = s.PostPrivate("alice", "bob", "how are you?")

	msgs, _ = s.ReadPrivate("bob", "alice", bobCur)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hey", msgs[0].Text)
	assert.Equal(t, "how are you?", msgs[1].Text)

	id, _ := NewChatID("alice", "bob")
	assert.Equal(t, 2, bobCur[id])
}

func TestReadPrivate_CursorsArePerReader(t *testing.T) {
	s := NewStore(newFakeDirectory("alice", "bob"))
	aliceCur, bobCur := fakeCursor{}, fakeCursor{}

	_, _ = s.PostPrivate("alice", "bob", "one")
	msgs, _ := s.ReadPrivate("bob", "alice", bobCur)
	assert.Len(t, msgs, 1)

	msgs, _ = s.ReadPrivate("alice", "bob", aliceCur)
	assert.Len(t, msgs, 1, "alice has her own cursor")
}

func TestChatsOf(t *testing.T) {
	s := NewStore(newFakeDirectory("alice", "bob", "carol"))
	_, _ = s.PostPrivate("carol", "alice", "x")
	_, _ = s.PostPrivate("alice", "bob", "y")
	_, _ = s.PostPrivate("bob", "carol", "z")

	ids := s.ChatsOf("alice")
	require.Len(t, ids, 2)
	assert.Equal(t, "alice<->bob", ids[0].String())
	assert.Equal(t, "alice<->carol", ids[1].String())
}

func TestValidateText(t *testing.T) {
	cases := []struct {
		name string
		text string
		want error
	}{
		{"ok", "hello", nil},
		{"empty", "", ErrEmptyMessage},
		{"invalid utf8", "bad \xff\xfe", ErrInvalidText},
		{"too many bytes", strings.Repeat("a", MaxMessageBytes+1), ErrMessageTooLong},
		{"too many chars", strings.Repeat("é", MaxTextChars+1), ErrMessageTooLong},
		{"at char limit", strings.Repeat("é", MaxTextChars), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateText(tc.text)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
