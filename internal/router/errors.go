package router

import "errors"

// Chat routing error types
var (
	ErrSenderNotInRoom = errors.New("sender not in room")
	ErrSenderMismatch  = errors.New("user id does not belong to sender")
	ErrEmptyConnection = errors.New("connection id cannot be empty")
)
