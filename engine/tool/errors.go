package tool

import "errors"

const (
	ErrCodeInvalidArguments = "TOOL_INVALID_ARGUMENTS"
	ErrCodeToolNotFound     = "TOOL_NOT_FOUND"
	ErrCodeToolFailed       = "TOOL_FAILED"
)

var (
	// ErrInvalidName indicates an empty tool name was provided.
	ErrInvalidName = errors.New("tool name is required")
	// ErrAlreadyRegistered indicates a tool with the same name exists.
	ErrAlreadyRegistered = errors.New("tool already registered")
)
