package session

import "errors"

// Match lifecycle error types
var (
	ErrEmptyConnectionID = errors.New("connection id cannot be empty")
	ErrAlreadyMatching   = errors.New("connection is already waiting or pairing")
	ErrUserMismatch      = errors.New("user id does not belong to connection")
)
