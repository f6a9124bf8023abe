package moderation

import (
	"sort"
	"sync"
	"time"
)

// TargetSummary is what the audit trail knows about one reported user.
type TargetSummary struct {
	Target    string
	Reports   int
	Bans      int
	BanUntil  time.Time
	Reporters []string
}

// Audit accumulates moderation events. It is safe for concurrent use.
type Audit struct {
	mu      sync.Mutex
	targets map[string]*TargetSummary
}

// NewAudit creates an empty audit trail.
func NewAudit() *Audit {
	return &Audit{targets: make(map[string]*TargetSummary)}
}

// Record folds ev into the trail and returns the target's updated summary.
func (a *Audit) Record(ev Event) TargetSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.targets[ev.Target]
	if !ok {
		s = &TargetSummary{Target: ev.Target}
		a.targets[ev.Target] = s
	}

	switch ev.Type {
	case TypeReport:
		s.Reports++
		s.Reporters = append(s.Reporters, ev.Reporter)
	case TypeBan:
		s.Bans++
		s.BanUntil = time.Unix(ev.BanUntil, 0)
	}
	return s.clone()
}

// Banned returns the targets whose last recorded ban is still running at
// now, ordered by target.
func (a *Audit) Banned(now time.Time) []TargetSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []TargetSummary
	for _, s := range a.targets {
		if now.Before(s.BanUntil) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func (s *TargetSummary) clone() TargetSummary {
	c := *s
	c.Reporters = append([]string(nil), s.Reporters...)
	return c
}
