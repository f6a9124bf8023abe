package server

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/linechat/internal/ban"
	"github.com/whisper/linechat/internal/chat"
	"github.com/whisper/linechat/internal/metrics"
	"github.com/whisper/linechat/internal/moderation"
	"github.com/whisper/linechat/internal/protocol"
	"github.com/whisper/linechat/internal/schedule"
)

const (
	usageSend        = "/send <target> <text...>"
	usageSendDelayed = "/send_delayed <target> <delay_seconds> <text...>"
	usageCancel      = "/cancel_scheduled <task_id>"
)

// handleLine parses and runs one request line. ok is false for blank lines,
// which get no reply.
func (s *Server) handleLine(c *client, line string) (reply protocol.Reply, ok bool) {
	cmd, err := protocol.Parse(line)
	if err != nil {
		return protocol.Reply{}, false
	}

	start := time.Now()
	if s.allow(c) {
		reply = s.dispatch(c, cmd)
	} else {
		reply = protocol.RateLimited()
	}
	metrics.CommandLatency.Observe(time.Since(start).Seconds())
	metrics.CommandsTotal.WithLabelValues(cmd.Kind.String(), string(reply.Code)).Inc()

	s.logger.Debug("command",
		zap.String("conn_id", c.id),
		zap.String("user", c.user),
		zap.Stringer("command", cmd.Kind),
		zap.Bool("ok", reply.OK),
		zap.String("code", string(reply.Code)))
	return reply, true
}

func (s *Server) dispatch(c *client, cmd protocol.Command) protocol.Reply {
	if cmd.Kind.RequiresAuth() && !c.authenticated() {
		return protocol.MustSignInFirst()
	}

	switch cmd.Kind {
	case protocol.SignIn:
		return s.handleSignIn(c, cmd)
	case protocol.SignOut:
		return s.handleSignOut(c)
	case protocol.SendAll:
		return s.handleSendAll(c, cmd)
	case protocol.Send:
		return s.handleSend(c, cmd)
	case protocol.GetChatWith:
		return s.handleGetChatWith(c, cmd)
	case protocol.Status:
		return s.handleStatus(c)
	case protocol.Report:
		return s.handleReport(c, cmd)
	case protocol.SendDelayed:
		return s.handleSendDelayed(c, cmd)
	case protocol.CancelScheduled:
		return s.handleCancelScheduled(c, cmd)
	case protocol.Unknown:
		return protocol.UnknownCommand(cmd.Name)
	}
	return protocol.UnknownCommand(cmd.Name)
}

func (s *Server) handleSignIn(c *client, cmd protocol.Command) protocol.Reply {
	username := cmd.Arg(0)
	if username == "" {
		return protocol.NoUsername()
	}
	if c.authenticated() {
		return protocol.AlreadySignedIn(c.user)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, inbox, isNew, err := s.sessions.RegisterOrActivate(username, c.peer)
	if err != nil {
		return protocol.AlreadySignedIn(username)
	}
	c.user = username
	metrics.SessionsOnline.Set(float64(s.sessions.Online()))
	metrics.UsersRegistered.Set(float64(s.sessions.Len()))

	if isNew {
		s.logger.Info("user registered", zap.String("user", username), zap.String("peer", c.peer))
		return protocol.Registered(username, s.chats.Recent(s.cfg.HistorySize))
	}
	s.logger.Info("user signed in",
		zap.String("user", username),
		zap.String("peer", c.peer),
		zap.Int("unread", len(inbox)))
	return protocol.SignedIn(username, inbox)
}

func (s *Server) handleSignOut(c *client) protocol.Reply {
	if !c.authenticated() {
		return protocol.NotSignedIn()
	}
	user := c.user
	s.signOut(c)
	return protocol.SignedOut(user)
}

// signOut marks the connection's user offline and returns the connection to
// the unauthenticated state.
func (s *Server) signOut(c *client) {
	s.mu.Lock()
	if err := s.sessions.Deactivate(c.user); err != nil {
		s.logger.Warn("sign out of unknown user", zap.String("user", c.user), zap.Error(err))
	}
	metrics.SessionsOnline.Set(float64(s.sessions.Online()))
	s.mu.Unlock()

	s.logger.Info("user signed out", zap.String("user", c.user))
	c.user = ""
}

// banned returns the Banned reply when user may not send at now. The caller
// holds s.mu.
func (s *Server) banned(user string, now time.Time) (protocol.Reply, bool) {
	remaining, isBanned, err := s.policy.CheckBan(user, now)
	if err != nil || !isBanned {
		return protocol.Reply{}, false
	}
	return protocol.Banned(remaining), true
}

func (s *Server) handleSendAll(c *client, cmd protocol.Command) protocol.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reply, isBanned := s.banned(c.user, s.now()); isBanned {
		return reply
	}
	text := cmd.Text(0)
	if err := chat.ValidateText(text); err != nil {
		return textError(err)
	}

	s.chats.PostBroadcast(c.user, text)
	metrics.MessagesTotal.WithLabelValues("broadcast").Inc()
	s.logger.Info("broadcast posted", zap.String("user", c.user))
	return protocol.BroadcastSent()
}

func (s *Server) handleSend(c *client, cmd protocol.Command) protocol.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reply, isBanned := s.banned(c.user, s.now()); isBanned {
		return reply
	}
	if len(cmd.Args) < 2 {
		return protocol.MissingArgs(usageSend)
	}
	target, text := cmd.Arg(0), cmd.Text(1)
	if err := chat.ValidateText(text); err != nil {
		return textError(err)
	}

	if _, err := s.chats.PostPrivate(c.user, target, text); err != nil {
		return postError(err, target)
	}
	metrics.MessagesTotal.WithLabelValues("private").Inc()
	s.logger.Info("private message posted", zap.String("user", c.user), zap.String("target", target))
	return protocol.Sent(target)
}

func (s *Server) handleGetChatWith(c *client, cmd protocol.Command) protocol.Reply {
	other := cmd.Arg(0)
	if other == "" {
		return protocol.NoUsername()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessions.Get(c.user)
	if err != nil {
		return protocol.MustSignInFirst()
	}
	msgs, found := s.chats.ReadPrivate(c.user, other, sess)
	if !found {
		return protocol.NoSuchChat(other)
	}
	return protocol.Chat(other, msgs)
}

func (s *Server) handleStatus(c *client) protocol.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := s.sessions.Statuses()
	users := make([]protocol.UserStatus, len(statuses))
	for i, st := range statuses {
		users[i] = protocol.UserStatus{Username: st.Username, Presence: st.Presence.String()}
	}

	var partners []string
	for _, id := range s.chats.ChatsOf(c.user) {
		partners = append(partners, id.Partner(c.user))
	}
	return protocol.StatusReport(users, partners, s.scheduler.Pending(c.user))
}

func (s *Server) handleReport(c *client, cmd protocol.Command) protocol.Reply {
	target := cmd.Arg(0)
	if target == "" {
		return protocol.NoUsername()
	}

	now := s.now()
	s.mu.Lock()
	report, err := s.policy.FileReport(c.user, target, now)
	s.mu.Unlock()

	switch {
	case errors.Is(err, ban.ErrUnknownUser):
		return protocol.UnknownUser(target)
	case errors.Is(err, ban.ErrAlreadyReported):
		return protocol.AlreadyReported(target)
	case err != nil:
		s.logger.Error("report failed", zap.String("user", c.user), zap.String("target", target), zap.Error(err))
		return protocol.UnknownUser(target)
	}

	metrics.ReportsTotal.WithLabelValues(report.Outcome.String()).Inc()
	s.logger.Warn("user reported",
		zap.String("reporter", c.user),
		zap.String("target", target),
		zap.Int("reports", report.Count),
		zap.Stringer("outcome", report.Outcome))

	s.publish(moderation.NewReportEvent(c.user, target, report.Count, now))

	switch report.Outcome {
	case ban.BanImposed:
		s.publish(moderation.NewBanEvent(c.user, target, report.Count, report.BanUntil, now))
		return protocol.BanImposed(target, report.BanUntil.Sub(now))
	case ban.AlreadyBanned:
		return protocol.AlreadyBanned(target)
	}
	return protocol.Reported(target, report.Count, s.policy.Threshold())
}

func (s *Server) publish(ev moderation.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishModeration(ev); err != nil {
		s.logger.Warn("publish moderation event",
			zap.String("type", ev.Type), zap.String("target", ev.Target), zap.Error(err))
	}
}

func (s *Server) handleSendDelayed(c *client, cmd protocol.Command) protocol.Reply {
	if len(cmd.Args) < 3 {
		return protocol.MissingArgs(usageSendDelayed)
	}
	owner, target, rawDelay, text := c.user, cmd.Arg(0), cmd.Arg(1), cmd.Text(2)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessions.Exists(target) {
		return protocol.UnknownTarget(target)
	}
	delay, err := strconv.Atoi(rawDelay)
	if err != nil || delay < 0 || int64(delay) > s.maxDelay() {
		return protocol.InvalidDelay(rawDelay)
	}
	if target == owner {
		return protocol.SelfMessage()
	}
	if err := chat.ValidateText(text); err != nil {
		return textError(err)
	}

	id, err := s.scheduler.Schedule(owner, time.Duration(delay)*s.cfg.DelayUnit, func(ctx context.Context) {
		s.deliverDelayed(ctx, owner, target, text)
	})
	if errors.Is(err, schedule.ErrClosed) {
		return protocol.Unavailable()
	}
	metrics.ScheduledPending.Set(float64(s.scheduler.Len()))

	s.logger.Info("delayed message scheduled",
		zap.String("user", owner),
		zap.String("target", target),
		zap.Int("task_id", id),
		zap.Int("delay", delay))
	return protocol.Scheduled(id, delay)
}

// maxDelay is the largest delay, in delay units, that still fits in a
// time.Duration.
func (s *Server) maxDelay() int64 {
	return math.MaxInt64 / int64(s.cfg.DelayUnit)
}

// deliverDelayed posts a scheduled private message. Ban and registry state
// are those at fire time. Nothing is written to any connection.
func (s *Server) deliverDelayed(ctx context.Context, owner, target, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.ScheduledPending.Set(float64(s.scheduler.Len()))

	if ctx.Err() != nil {
		return
	}
	logger := s.logger.With(zap.String("user", owner), zap.String("target", target))

	if remaining, isBanned, _ := s.policy.CheckBan(owner, s.now()); isBanned {
		logger.Warn("delayed message rejected, sender banned", zap.Duration("remaining", remaining))
		return
	}
	if _, err := s.chats.PostPrivate(owner, target, text); err != nil {
		logger.Warn("delayed message rejected", zap.Error(err))
		return
	}
	metrics.MessagesTotal.WithLabelValues("delayed").Inc()
	logger.Info("delayed message delivered")
}

func (s *Server) handleCancelScheduled(c *client, cmd protocol.Command) protocol.Reply {
	if len(cmd.Args) != 1 {
		return protocol.MissingArgs(usageCancel)
	}
	raw := cmd.Arg(0)
	id, err := strconv.Atoi(raw)
	if err != nil {
		return protocol.InvalidID(raw)
	}

	if err := s.scheduler.Cancel(c.user, id); err != nil {
		return protocol.NotFound(id)
	}
	metrics.ScheduledPending.Set(float64(s.scheduler.Len()))
	s.logger.Info("delayed message cancelled", zap.String("user", c.user), zap.Int("task_id", id))
	return protocol.Cancelled(id)
}

func textError(err error) protocol.Reply {
	switch {
	case errors.Is(err, chat.ErrMessageTooLong):
		return protocol.MessageTooLong()
	case errors.Is(err, chat.ErrInvalidText):
		return protocol.InvalidText()
	}
	return protocol.EmptyMessage()
}

func postError(err error, target string) protocol.Reply {
	if errors.Is(err, chat.ErrSelfChat) {
		return protocol.SelfMessage()
	}
	return protocol.UnknownTarget(target)
}
