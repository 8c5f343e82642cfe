package types

import (
	"regexp"
)

// Compiled once; ids are validated on every inbound chat event.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// MaxContentBytes bounds a single chat message
const MaxContentBytes = 2000

// IsValidID checks that an opaque id is safe to use as a key and a SQL parameter.
// Server-generated ids are UUIDs, well inside the limit.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// Validate checks the chat payload content
func (c ChatSend) Validate() error {
	if len(c.Content) < 1 || len(c.Content) > MaxContentBytes {
		return ErrInvalidContent
	}
	return nil
}
