package ban

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/linechat/internal/session"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestPolicy(t *testing.T, users ...string) (*Policy, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry()
	for _, u := range users {
		_, _, _, err := reg.RegisterOrActivate(u, "")
		require.NoError(t, err)
	}
	return NewPolicy(reg, 3, time.Hour), reg
}

func TestFileReport_Threshold(t *testing.T) {
	p, _ := newTestPolicy(t, "eve", "a", "b", "c", "d")

	cases := []struct {
		reporter string
		outcome  Outcome
		count    int
	}{
		{"a", Acknowledged, 1},
		{"b", Acknowledged, 2},
		{"c", BanImposed, 3},
		{"d", AlreadyBanned, 4},
	}
	for _, tc := range cases {
		rep, err := p.FileReport(tc.reporter, "eve", t0)
		require.NoError(t, err)
		assert.Equal(t, tc.outcome, rep.Outcome, "reporter %s", tc.reporter)
		assert.Equal(t, tc.count, rep.Count)
	}

	remaining, banned, err := p.CheckBan("eve", t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, 50*time.Minute, remaining)
}

func TestFileReport_BanUntilNotExtended(t *testing.T) {
	p, reg := newTestPolicy(t, "eve", "a", "b", "c", "d")
	for _, r := range []string{"a", "b", "c"} {
		_, _ = p.FileReport(r, "eve", t0)
	}
	rep, err := p.FileReport("d", "eve", t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, AlreadyBanned, rep.Outcome)

	sess, _ := reg.Get("eve")
	assert.Equal(t, t0.Add(time.Hour), sess.Reports.BanUntil)
}

func TestFileReport_Duplicate(t *testing.T) {
	p, _ := newTestPolicy(t, "eve", "a")
	_, err := p.FileReport("a", "eve", t0)
	require.NoError(t, err)

	_, err = p.FileReport("a", "eve", t0)
	assert.ErrorIs(t, err, ErrAlreadyReported)
}

func TestFileReport_UnknownUser(t *testing.T) {
	p, _ := newTestPolicy(t, "a")
	_, err := p.FileReport("a", "ghost", t0)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestFileReport_AfterBanExpires(t *testing.T) {
	p, _ := newTestPolicy(t, "eve", "a", "b", "c")
	for _, r := range []string{"a", "b", "c"} {
		_, _ = p.FileReport(r, "eve", t0)
	}

	// The same reporter may report again once the ban has run out, and the
	// count starts from scratch.
	rep, err := p.FileReport("a", "eve", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Acknowledged, rep.Outcome)
	assert.Equal(t, 1, rep.Count)
}

func TestCheckBan_NotBanned(t *testing.T) {
	p, _ := newTestPolicy(t, "alice")
	remaining, banned, err := p.CheckBan("alice", t0)
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Zero(t, remaining)
}

func TestCheckBan_LazyReset(t *testing.T) {
	p, reg := newTestPolicy(t, "eve", "a", "b", "c")
	for _, r := range []string{"a", "b", "c"} {
		_, _ = p.FileReport(r, "eve", t0)
	}

	// Checking does not touch an active ban.
	_, banned, _ := p.CheckBan("eve", t0.Add(59*time.Minute))
	assert.True(t, banned)
	sess, _ := reg.Get("eve")
	assert.Len(t, sess.Reports.Reporters, 3)

	// At ban_until the ban is over and the record is cleared.
	_, banned, err := p.CheckBan("eve", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, banned)
	assert.Empty(t, sess.Reports.Reporters)
	assert.True(t, sess.Reports.BanUntil.IsZero())
}

func TestCheckBan_UnknownUser(t *testing.T) {
	p, _ := newTestPolicy(t)
	_, _, err := p.CheckBan("ghost", t0)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestNewPolicy_ClampsThreshold(t *testing.T) {
	p := NewPolicy(session.NewRegistry(), 0, time.Minute)
	assert.Equal(t, 1, p.Threshold())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ban_imposed", BanImposed.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
