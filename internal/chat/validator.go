package chat

import (
	"errors"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096
	MaxTextChars    = 2000
)

var (
	ErrEmptyMessage   = errors.New("chat: message text is empty")
	ErrMessageTooLong = errors.New("chat: message text is too long")
	ErrInvalidText    = errors.New("chat: message text is not valid UTF-8")
)

// ValidateText checks that message text meets content requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return ErrEmptyMessage
	}
	if !utf8.ValidString(text) {
		return ErrInvalidText
	}
	if len(text) > MaxMessageBytes || utf8.RuneCountInString(text) > MaxTextChars {
		return ErrMessageTooLong
	}
	return nil
}
