package history

import "errors"

var (
	// ErrInvalidReport is returned when a report is missing its address or
	// command.
	ErrInvalidReport = errors.New("history: invalid report")

	// ErrRecorderClosed is returned by Run after Close.
	ErrRecorderClosed = errors.New("history: recorder closed")
)
