// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by Dispatch when the model names a tool that
// is not registered. It is terminal for a generation: the orchestrator
// hands the call to its caller instead of feeding a result back.
var ErrUnknownTool = errors.New("unknown tool")

// ErrUnknownAction is returned by Lookup when a tool exists but has no
// handler for the requested sub-action. Dispatch renders it as a result
// string so the model can correct itself.
var ErrUnknownAction = errors.New("unknown action")

// ErrToolUnavailable is returned when a registered tool's backing service
// was not configured. Dispatch renders it as the tool's fixed
// unavailability message and the generation continues.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ArgError reports a tool argument that failed schema validation.
type ArgError struct {
	Tool   string
	Arg    string
	Reason string
}

// Error implements the error interface. The text is what the model sees
// after an "Error: " prefix.
func (e *ArgError) Error() string {
	return fmt.Sprintf("%s: argument %q %s", e.Tool, e.Arg, e.Reason)
}
