// Package todo holds the rules and wire shape shared by the API server and its clients.
package todo

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxTextLength is the upper bound on item text, counted in characters after trimming.
const MaxTextLength = 500

var (
	ErrTextEmpty   = errors.New("text must not be empty")
	ErrTextTooLong = errors.New("text must be at most 500 characters")
)

// NormalizeText trims surrounding whitespace and enforces the 1..MaxTextLength rule.
func NormalizeText(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrTextEmpty
	}
	if !utf8.ValidString(trimmed) {
		return "", errors.New("text must be valid UTF-8")
	}
	if utf8.RuneCountInString(trimmed) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return trimmed, nil
}

// Item is a todo as it travels over the wire. The owner is never part of it.
type Item struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	Order     int64     `json:"order"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
