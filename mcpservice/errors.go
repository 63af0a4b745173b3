package mcpservice

import "errors"

// ErrUnknownTool is returned by ToolsContainer.Call for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// InvalidArgumentsError reports tool arguments that could not be decoded or
// failed validation.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

func (e *InvalidArgumentsError) Error() string {
	if e.Tool == "" {
		return "invalid arguments: " + e.Err.Error()
	}
	return "invalid arguments for " + e.Tool + ": " + e.Err.Error()
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }
