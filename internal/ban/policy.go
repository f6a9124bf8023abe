// Package ban derives ban status from user reports. Once a user has been
// reported by Threshold distinct users, they are banned for Duration:
//
//	reports <  threshold -> Acknowledged
//	reports == threshold -> BanImposed (ban_until = now + duration)
//	reports >  threshold -> AlreadyBanned
//
// Expired bans are not swept; the record is reset lazily the next time the
// user's ban status is checked or the user is reported again.
package ban

import (
	"errors"
	"fmt"
	"time"

	"github.com/whisper/linechat/internal/session"
)

var (
	ErrAlreadyReported = errors.New("ban: reporter already reported this user")
	ErrUnknownUser     = errors.New("ban: no such user")
)

// Outcome classifies an accepted report.
type Outcome int

const (
	Acknowledged Outcome = iota
	BanImposed
	AlreadyBanned
)

func (o Outcome) String() string {
	switch o {
	case Acknowledged:
		return "acknowledged"
	case BanImposed:
		return "ban_imposed"
	case AlreadyBanned:
		return "already_banned"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Report is the result of FileReport.
type Report struct {
	Outcome  Outcome
	Count    int       // distinct reporters after this report
	BanUntil time.Time // zero unless a ban is in force
}

// Policy applies the report threshold to sessions held in a registry. Like
// the registry it is not safe for concurrent use.
type Policy struct {
	sessions  *session.Registry
	threshold int
	duration  time.Duration
}

// NewPolicy creates a Policy. threshold must be at least 1.
func NewPolicy(sessions *session.Registry, threshold int, duration time.Duration) *Policy {
	if threshold < 1 {
		threshold = 1
	}
	return &Policy{sessions: sessions, threshold: threshold, duration: duration}
}

// CheckBan reports whether username is banned at now and for how much
// longer. A ban that has run out is cleared together with its reporters.
func (p *Policy) CheckBan(username string, now time.Time) (remaining time.Duration, banned bool, err error) {
	sess, err := p.sessions.Get(username)
	if err != nil {
		return 0, false, err
	}
	return p.check(sess, now)
}

func (p *Policy) check(sess *session.Session, now time.Time) (time.Duration, bool, error) {
	until := sess.Reports.BanUntil
	if until.IsZero() {
		return 0, false, nil
	}
	if now.Before(until) {
		return until.Sub(now), true, nil
	}
	sess.Reports.Reset()
	return 0, false, nil
}

// FileReport records that reporter reported target at now.
func (p *Policy) FileReport(reporter, target string, now time.Time) (Report, error) {
	sess, err := p.sessions.Get(target)
	if err != nil {
		return Report{}, ErrUnknownUser
	}
	if _, _, err := p.check(sess, now); err != nil {
		return Report{}, err
	}

	rec := &sess.Reports
	if rec.HasReporter(reporter) {
		return Report{}, ErrAlreadyReported
	}
	rec.Reporters = append(rec.Reporters, reporter)

	count := len(rec.Reporters)
	switch {
	case count < p.threshold:
		return Report{Outcome: Acknowledged, Count: count}, nil
	case count == p.threshold:
		rec.BanUntil = now.Add(p.duration)
		return Report{Outcome: BanImposed, Count: count, BanUntil: rec.BanUntil}, nil
	default:
		return Report{Outcome: AlreadyBanned, Count: count, BanUntil: rec.BanUntil}, nil
	}
}

// Threshold returns the number of reports that triggers a ban.
func (p *Policy) Threshold() int {
	return p.threshold
}
