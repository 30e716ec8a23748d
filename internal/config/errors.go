package config

import "errors"

var (
	// ErrConfigParse is returned when the dashboard document cannot be decoded
	ErrConfigParse = errors.New("unparsable dashboard config")

	// ErrUnknownTheme is returned when applying a theme that does not exist
	ErrUnknownTheme = errors.New("unknown theme")

	// ErrUnknownKind is returned when assigning a kind name that is not recognised
	ErrUnknownKind = errors.New("unknown tile kind")

	// ErrPositionOutOfRange is returned for positions outside the grid
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrSlotEmpty is returned when editing a slot that has no widget
	ErrSlotEmpty = errors.New("no widget at position")
)
