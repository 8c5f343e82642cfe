package types

import "errors"

// Wire decoding and validation errors
var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid event payload")
	ErrInvalidContent = errors.New("message content must be 1-2000 bytes")
	ErrInvalidID      = errors.New("id must be 1-64 characters, alphanumeric + hyphen only")
	ErrInvalidDevice  = errors.New("device must be at most 32 characters")
)
