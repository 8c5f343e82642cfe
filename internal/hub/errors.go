package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrHubNotAttached     = errors.New("hub has no matcher or chat handler attached")
	ErrInboundChannelFull = errors.New("inbound channel is full")
	ErrEmptyConnectionID  = errors.New("connection id cannot be empty")
)
