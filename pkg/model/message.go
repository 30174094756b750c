package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MessageMaxBodyLength = 4096

var ErrMessageBodyTooLong = fmt.Errorf("message body exceeds %d characters", MessageMaxBodyLength)
var ErrMessageBodyEmpty = errors.New("message body cannot be empty")

// ChatMessage is one line relayed to the occupants of a room. It is never
// persisted.
type ChatMessage struct {
	Room     string
	Username string
	Name     string
	Body     string
}

// NormalizeBody trims surrounding whitespace and validates the result.
func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrMessageBodyEmpty
	} else if utf8.RuneCountInString(body) > MessageMaxBodyLength {
		return "", ErrMessageBodyTooLong
	}
	return body, nil
}
