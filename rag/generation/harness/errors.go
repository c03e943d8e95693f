package harness

import "errors"

var (
	// ErrUnknownTool is returned when the model calls a tool that was not offered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidToolCall is returned when a tool call's arguments fail validation.
	ErrInvalidToolCall = errors.New("invalid tool call")
)
