// Package dispatch implements the tool dispatch facade (C13): it
// consolidates the memory manager (C8), covenant middleware (C9), phase
// tracker (C10), dream scheduler (C11), and background task manager (C12)
// behind eight workflow-oriented entry points -- commune, consult,
// inscribe, reflect, understand, govern, explore, maintain -- each with a
// closed set of valid actions and a per-action required-parameter list,
// grounded on workflows/errors.py and workflows/govern.py.
package dispatch

import "fmt"

// WorkflowError is the base validation-error kind for dispatch: every
// failure carries a recovery hint a caller can act on without reading
// source, mirroring workflows/errors.py's base exception.
type WorkflowError struct {
	Message      string
	RecoveryHint string
}

func (e *WorkflowError) Error() string {
	return e.Message
}

// NewWorkflowError builds a WorkflowError with an explicit hint, falling
// back to a generic one when hint is empty.
func NewWorkflowError(message, hint string) *WorkflowError {
	if hint == "" {
		hint = "Check the action parameter and try again."
	}
	return &WorkflowError{Message: message, RecoveryHint: hint}
}

// InvalidActionError is raised when action is not in a workflow's
// VALID_ACTIONS set.
type InvalidActionError struct {
	*WorkflowError
	Action       string
	ValidActions []string
}

func NewInvalidActionError(action string, validActions []string) *InvalidActionError {
	msg := fmt.Sprintf("Invalid action '%s'. Valid actions: %s", action, joinQuoted(validActions))
	hint := fmt.Sprintf("Use one of: %s", joinQuoted(validActions))
	return &InvalidActionError{
		WorkflowError: NewWorkflowError(msg, hint),
		Action:        action,
		ValidActions:  validActions,
	}
}

// MissingParamError is raised when a required parameter for action is
// absent.
type MissingParamError struct {
	*WorkflowError
	Param  string
	Action string
}

func NewMissingParamError(param, action string) *MissingParamError {
	msg := fmt.Sprintf("Missing required parameter '%s' for action '%s'", param, action)
	hint := fmt.Sprintf("Provide the '%s' parameter when using action='%s'", param, action)
	return &MissingParamError{
		WorkflowError: NewWorkflowError(msg, hint),
		Param:         param,
		Action:        action,
	}
}

func joinQuoted(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += "'" + s + "'"
	}
	return out
}
