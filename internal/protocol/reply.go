package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/whisper/linechat/internal/chat"
)

// Code names the outcome of a request.
type Code string

// Success codes.
const (
	CodeRegistered    Code = "registered"
	CodeSignedIn      Code = "signed_in"
	CodeSignedOut     Code = "signed_out"
	CodeBroadcastSent Code = "broadcast_sent"
	CodeSent          Code = "sent"
	CodeChat          Code = "chat"
	CodeNoSuchChat    Code = "no_such_chat"
	CodeStatus        Code = "status"
	CodeReported      Code = "reported"
	CodeBanImposed    Code = "ban_imposed"
	CodeAlreadyBanned Code = "already_banned"
	CodeScheduled     Code = "scheduled"
	CodeCancelled     Code = "cancelled"
)

// Error codes.
const (
	CodeUnknownCommand  Code = "unknown_command"
	CodeMustSignInFirst Code = "must_sign_in_first"
	CodeNotSignedIn     Code = "not_signed_in"
	CodeNoUsername      Code = "no_username"
	CodeAlreadySignedIn Code = "already_signed_in"
	CodeBanned          Code = "banned"
	CodeEmptyMessage    Code = "empty_message"
	CodeMessageTooLong  Code = "message_too_long"
	CodeInvalidText     Code = "invalid_text"
	CodeMissingArgs     Code = "missing_args"
	CodeUnknownTarget   Code = "unknown_target"
	CodeSelfMessage     Code = "cannot_message_self"
	CodeUnknownUser     Code = "unknown_user"
	CodeAlreadyReported Code = "already_reported"
	CodeInvalidDelay    Code = "invalid_delay"
	CodeInvalidID       Code = "invalid_id"
	CodeNotFound        Code = "not_found"
	CodeRateLimited     Code = "rate_limited"
	CodeUnavailable     Code = "unavailable"
)

// Reply is the response to one request line.
type Reply struct {
	OK     bool
	Code   Code
	Detail string   // one-line human readable summary
	Lines  []string // optional body, one entry per line
}

// Encode renders the reply as
//
//	ok <code>: <detail>
//	  <line>
//	  ...
//
// with "error" in place of "ok" for failures.
func (r Reply) Encode() []byte {
	var b strings.Builder
	if r.OK {
		b.WriteString("ok ")
	} else {
		b.WriteString("error ")
	}
	b.WriteString(string(r.Code))
	if r.Detail != "" {
		b.WriteString(": ")
		b.WriteString(r.Detail)
	}
	b.WriteByte('\n')
	for _, line := range r.Lines {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func ok(code Code, detail string, lines ...string) Reply {
	return Reply{OK: true, Code: code, Detail: detail, Lines: lines}
}

func fail(code Code, detail string) Reply {
	return Reply{Code: code, Detail: detail}
}

func messageLines(msgs []chat.Message) []string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.String()
	}
	return lines
}

// FormatRemaining renders a ban's remaining time rounded up to the second,
// so an active ban never reads as zero.
func FormatRemaining(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return (time.Duration(secs) * time.Second).String()
}

// Registered welcomes a new user and carries the recent broadcast history.
func Registered(user string, history []chat.Message) Reply {
	return ok(CodeRegistered,
		fmt.Sprintf("welcome, %s; %d recent message(s)", user, len(history)),
		messageLines(history)...)
}

// SignedIn welcomes a returning user and carries their unread inbox.
func SignedIn(user string, unread []chat.Message) Reply {
	return ok(CodeSignedIn,
		fmt.Sprintf("welcome back, %s; %d unread message(s)", user, len(unread)),
		messageLines(unread)...)
}

// SignedOut acknowledges /sign_out.
func SignedOut(user string) Reply {
	return ok(CodeSignedOut, "goodbye, "+user)
}

// BroadcastSent acknowledges /send_all.
func BroadcastSent() Reply { return ok(CodeBroadcastSent, "message posted to everyone") }

// Sent acknowledges /send.
func Sent(target string) Reply { return ok(CodeSent, "message sent to "+target) }

// Chat lists the messages with another user not yet read by the caller.
func Chat(with string, msgs []chat.Message) Reply {
	return ok(CodeChat,
		fmt.Sprintf("%d new message(s) with %s", len(msgs), with),
		messageLines(msgs)...)
}

// NoSuchChat reports that no chat exists with the given user.
func NoSuchChat(with string) Reply {
	return ok(CodeNoSuchChat, "no messages with "+with)
}

// UserStatus is one row of a status reply.
type UserStatus struct {
	Username string
	Presence string
}

// StatusReport lists every user's presence, followed by the caller's chat
// partners and the ids of the caller's pending scheduled messages.
func StatusReport(users []UserStatus, partners []string, pending []int) Reply {
	lines := make([]string, 0, len(users)+2)
	for _, u := range users {
		lines = append(lines, u.Username+" "+u.Presence)
	}
	if len(partners) > 0 {
		lines = append(lines, "chats: "+strings.Join(partners, ", "))
	} else {
		lines = append(lines, "chats: none")
	}
	if len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, id := range pending {
			ids[i] = strconv.Itoa(id)
		}
		lines = append(lines, "scheduled: "+strings.Join(ids, ", "))
	} else {
		lines = append(lines, "scheduled: none")
	}
	return ok(CodeStatus, fmt.Sprintf("%d user(s)", len(users)), lines...)
}

// Reported acknowledges a report that did not reach the threshold.
func Reported(target string, count, threshold int) Reply {
	return ok(CodeReported, fmt.Sprintf("report against %s recorded (%d/%d)", target, count, threshold))
}

// BanImposed reports that the report just filed banned the target for d.
func BanImposed(target string, d time.Duration) Reply {
	return ok(CodeBanImposed, fmt.Sprintf("%s is banned for %s", target, FormatRemaining(d)))
}

// AlreadyBanned reports that the target is serving a ban.
func AlreadyBanned(target string) Reply {
	return ok(CodeAlreadyBanned, target+" is already banned")
}

// Scheduled acknowledges /send_delayed with the new task id.
func Scheduled(id int, delay int) Reply {
	return ok(CodeScheduled, fmt.Sprintf("message %d scheduled in %ds", id, delay))
}

// Cancelled acknowledges /cancel_scheduled.
func Cancelled(id int) Reply {
	return ok(CodeCancelled, "scheduled message "+strconv.Itoa(id)+" cancelled")
}

// UnknownCommand rejects a line whose first word is not a command.
func UnknownCommand(name string) Reply {
	return fail(CodeUnknownCommand, fmt.Sprintf("unknown command %q", name))
}

// MustSignInFirst rejects a command sent before /sign_in.
func MustSignInFirst() Reply { return fail(CodeMustSignInFirst, "sign in with /sign_in <username>") }

// NotSignedIn rejects /sign_out on an unauthenticated connection.
func NotSignedIn() Reply { return fail(CodeNotSignedIn, "this connection is not signed in") }

// NoUsername rejects a command missing its username argument.
func NoUsername() Reply { return fail(CodeNoUsername, "a username is required") }

// AlreadySignedIn rejects a second sign-in for an active user or connection.
func AlreadySignedIn(user string) Reply {
	return fail(CodeAlreadySignedIn, user+" is already signed in")
}

// Banned rejects a command from a banned user.
func Banned(remaining time.Duration) Reply {
	return fail(CodeBanned, "you are banned for another "+FormatRemaining(remaining))
}

// EmptyMessage rejects a message with no text.
func EmptyMessage() Reply { return fail(CodeEmptyMessage, "message text is empty") }

// MessageTooLong rejects text over chat.MaxMessageBytes or chat.MaxTextChars.
func MessageTooLong() Reply {
	return fail(CodeMessageTooLong, fmt.Sprintf("message exceeds %d bytes or %d characters", chat.MaxMessageBytes, chat.MaxTextChars))
}

// InvalidText rejects text that is not valid UTF-8.
func InvalidText() Reply { return fail(CodeInvalidText, "message text is not valid UTF-8") }

// MissingArgs rejects a command with too few or too many arguments.
func MissingArgs(usage string) Reply { return fail(CodeMissingArgs, "usage: "+usage) }

// UnknownTarget rejects a message addressed to an unregistered user.
func UnknownTarget(target string) Reply {
	return fail(CodeUnknownTarget, target+" is not registered")
}

// SelfMessage rejects a message addressed to the sender.
func SelfMessage() Reply { return fail(CodeSelfMessage, "you cannot message yourself") }

// UnknownUser rejects a report against an unregistered user.
func UnknownUser(target string) Reply {
	return fail(CodeUnknownUser, target+" is not registered")
}

// AlreadyReported rejects a repeat report from the same reporter.
func AlreadyReported(target string) Reply {
	return fail(CodeAlreadyReported, "you already reported "+target)
}

// InvalidDelay rejects a delay that is not a whole number of seconds in range.
func InvalidDelay(raw string) Reply {
	return fail(CodeInvalidDelay, fmt.Sprintf("delay %q is not a non-negative whole number of seconds", raw))
}

// InvalidID rejects a task id that does not parse.
func InvalidID(raw string) Reply {
	return fail(CodeInvalidID, fmt.Sprintf("task id %q is not a number", raw))
}

// NotFound reports that the caller has no pending task with this id.
func NotFound(id int) Reply {
	return fail(CodeNotFound, "no scheduled message "+strconv.Itoa(id))
}

// RateLimited rejects a command over the connection's rate limit.
func RateLimited() Reply { return fail(CodeRateLimited, "too many commands, slow down") }

// Unavailable rejects work while the server shuts down.
func Unavailable() Reply { return fail(CodeUnavailable, "server is shutting down") }
