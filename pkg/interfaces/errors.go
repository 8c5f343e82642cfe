package interfaces

import "errors"

// Common errors shared by Directory and Gateway implementations
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrConnectionNotFound = errors.New("connection not found")
)
