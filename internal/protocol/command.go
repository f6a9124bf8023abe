// Package protocol defines the line protocol spoken between clients and the
// chat server. A request is one newline-terminated line:
//
//	/<command> <arg1> <arg2> ...
//
// Tokens are separated by any run of whitespace. A response is one or more
// newline-terminated lines written in a single write.
package protocol

import (
	"errors"
	"strings"
)

// ErrEmptyLine is returned by Parse for a line with no tokens.
var ErrEmptyLine = errors.New("protocol: empty line")

// Kind identifies a command.
type Kind int

const (
	Unknown Kind = iota
	SignIn
	SignOut
	SendAll
	Send
	GetChatWith
	Status
	Report
	SendDelayed
	CancelScheduled
)

var kindNames = map[Kind]string{
	SignIn:          "/sign_in",
	SignOut:         "/sign_out",
	SendAll:         "/send_all",
	Send:            "/send",
	GetChatWith:     "/get_chat_with",
	Status:          "/status",
	Report:          "/report",
	SendDelayed:     "/send_delayed",
	CancelScheduled: "/cancel_scheduled",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RequiresAuth reports whether the command may only run on a signed-in
// connection. Sign-in and sign-out are exempt.
func (k Kind) RequiresAuth() bool {
	switch k {
	case SignIn, SignOut, Unknown:
		return false
	}
	return true
}

// Command is a parsed request line.
type Command struct {
	Kind Kind
	Name string   // command token as sent
	Args []string // positional arguments
}

// Parse splits a request line into a command and its arguments.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmptyLine
	}
	return Command{
		Kind: kindsByName[fields[0]],
		Name: fields[0],
		Args: fields[1:],
	}, nil
}

// Arg returns the i-th argument, or "" if there are not that many.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Text rejoins the arguments from index from onwards with single spaces.
func (c Command) Text(from int) string {
	if from >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[from:], " ")
}
