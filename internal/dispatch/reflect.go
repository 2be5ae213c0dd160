package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/dasblueyeddevil/daem0nmcp-go/internal/store"
)

var reflectActions = []string{"outcome", "verify", "execute"}

// Reflect is the outcome-recording, fact-verification, and sandboxed
// execution workflow facade, grounded on workflows/reflect.py's
// dispatch().
func Reflect(ctx context.Context, d *Deps, sessionID, projectPath, action string, p params) (interface{}, error) {
	if !contains(reflectActions, action) {
		return nil, NewInvalidActionError(action, reflectActions)
	}
	if err := d.Gate(projectPath, "reflect", action); err != nil {
		return nil, err
	}

	switch action {
	case "outcome":
		memoryID, err := p.requireStr(action, "memory_id")
		if err != nil {
			return nil, err
		}
		outcomeText, err := p.requireStr(action, "outcome_text")
		if err != nil {
			return nil, err
		}
		worked, err := p.requireBool(action, "worked")
		if err != nil {
			return nil, err
		}
		workedState := store.WorkedFalse
		if worked {
			workedState = store.WorkedTrue
		}
		return nil, d.Memory.RecordOutcome(sessionID, memoryID, outcomeText, workedState)

	case "verify":
		text, err := p.requireStr(action, "text")
		if err != nil {
			return nil, err
		}
		return d.Memory.VerifyFacts(ctx, projectPath, text, p.strSlice("categories"), p.timePtr("as_of_time"))

	case "execute":
		if !d.ToolExecutionEnabled {
			return nil, NewWorkflowError(
				"sandboxed command execution is disabled for this daemon",
				"set DEVILMCP_TOOL_EXECUTION_ENABLED=1 to allow the execute action",
			)
		}
		code, err := p.requireStr(action, "code")
		if err != nil {
			return nil, err
		}
		return executeSandboxed(ctx, code, p.intVal("timeout_seconds", 30))
	}

	return nil, NewInvalidActionError(action, reflectActions)
}

// ExecResult is the outcome of a sandboxed command run.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out"`
}

// executeSandboxed runs code as a python3 script under a hard timeout
// using exec.CommandContext and context.WithTimeout.
func executeSandboxed(ctx context.Context, code string, timeoutSeconds int) (*ExecResult, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "python3", "-c", code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("execute: %w", err)
	}
	return result, nil
}
