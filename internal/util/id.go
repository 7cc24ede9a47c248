package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random v4 UUID, optionally prefixed ("tmp" -> "tmp_<uuid>").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// HasPrefix reports whether id was produced by NewID with the given prefix.
func HasPrefix(id, prefix string) bool {
	return prefix != "" && strings.HasPrefix(id, prefix+"_")
}
