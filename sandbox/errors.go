package sandbox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBusy is returned when no execution slot frees up within the queue timeout
var ErrBusy = errors.New("too many concurrent executions, try again later")

// InvalidInputError reports a client fault such as empty code
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// WorkspaceError reports an I/O failure while preparing or removing a workspace
type WorkspaceError struct {
	Op   string
	Path string
	Err  error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// BuildFailure is a non-zero exit of the image build
type BuildFailure struct {
	ExitCode int
	Stderr   string
}

func (e *BuildFailure) Error() string {
	return fmt.Sprintf("build failed with exit code %d", e.ExitCode)
}

// RuntimeFailure is a non-zero exit of the program
type RuntimeFailure struct {
	ExitCode int
	Stderr   string
}

func (e *RuntimeFailure) Error() string {
	if e.ExitCode == exitCodeKilled {
		return fmt.Sprintf("program killed (exit %d), possibly out of memory", e.ExitCode)
	}
	return fmt.Sprintf("program exited with code %d", e.ExitCode)
}

// TimeoutError reports that a stage exceeded the deadline
type TimeoutError struct {
	Stage Stage
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution timed out during %s", e.Stage)
}

// Err returns the typed failure for a non-successful result, or nil
func (r ExecuteResult) Err() error {
	switch r.Status {
	case StatusBuildFailure:
		return &BuildFailure{ExitCode: r.ExitCode, Stderr: r.Stderr}
	case StatusRuntimeFailure:
		return &RuntimeFailure{ExitCode: r.ExitCode, Stderr: r.Stderr}
	case StatusTimeout:
		return &TimeoutError{Stage: r.Stage}
	default:
		return nil
	}
}

// FailureMessage is the human-readable body reported for a failed result.
// Runtime failures report stderr, then stdout, then the exit status.
func (r ExecuteResult) FailureMessage() string {
	err := r.Err()
	if err == nil {
		return ""
	}

	switch r.Status {
	case StatusBuildFailure:
		return err.Error() + ":\n" + r.Stderr
	case StatusRuntimeFailure:
		if strings.TrimSpace(r.Stderr) != "" {
			return r.Stderr
		}
		if strings.TrimSpace(r.Stdout) != "" {
			return r.Stdout
		}
		return err.Error()
	default:
		return err.Error()
	}
}
