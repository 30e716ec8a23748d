package storage

import "errors"

var (
	// ErrEventNotFound is returned when removing an event that does not exist
	ErrEventNotFound = errors.New("calendar event not found")

	// ErrInvalidEvent is returned for events without a title or with a malformed date
	ErrInvalidEvent = errors.New("invalid calendar event")
)
