package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ExecuteRequest represents the parameters for code execution
type ExecuteRequest struct {
	Language string
	Code     string
	// Deadline overrides the configured build+run deadline when positive
	Deadline time.Duration
}

// Status is the normalized outcome of one execution
type Status string

// Execution outcomes
const (
	StatusSuccess        Status = "success"
	StatusBuildFailure   Status = "build_failure"
	StatusRuntimeFailure Status = "runtime_failure"
	StatusTimeout        Status = "timeout"
)

// Stage names the pipeline step that produced a result
type Stage string

// Pipeline stages
const (
	StageBuild Stage = "build"
	StageRun   Stage = "run"
)

// ExecuteResult represents the result of code execution
type ExecuteResult struct {
	RequestID string
	Language  string
	Status    Status
	Stage     Stage
	Stdout    string
	Stderr    string
	ExitCode  int
	BuildLog  string
	Duration  time.Duration
}

// SandboxExecutor defines the interface for sandbox execution
type SandboxExecutor interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
	// Languages lists the canonical names accepted in ExecuteRequest.Language
	Languages() []string
}

// ManifestGenerator produces the dependency manifest (package.json,
// requirements.txt) for a piece of code. Its output is untrusted text.
type ManifestGenerator interface {
	Generate(ctx context.Context, manifestFile, code string) (string, error)
}

// Submission is the code and optional generated manifest of one request
type Submission struct {
	Code     string
	Manifest string
}

// Limits bounds a single container run
type Limits struct {
	Timeout   time.Duration
	MemoryMB  int
	CPUs      float64
	PidsLimit int
	Network   bool
}

// BuildResult is either an image tag, a build failure, or a timeout
type BuildResult struct {
	ImageTag string
	Log      string
	Failure  *BuildFailure
	TimedOut bool
}

// RunResult holds the captured streams of a container run
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// CommandRunner defines an interface for executing system commands.
// stdout and stderr receive the two streams as they are produced.
// When ctx ends before the command exits, the process is killed and
// ctx.Err() is returned.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string, stdout, stderr io.Writer) (exitCode int, err error)
}

// waitDelay bounds how long Wait blocks on output pipes after the process is killed
const waitDelay = 5 * time.Second

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // Safe as this is controlled input

	// exec copies each non-file writer from its own goroutine, so a chatty
	// stderr cannot stall stdout on a full pipe buffer.
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		return -1, ctxErr
	}

	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			return exitError.ExitCode(), nil
		}
		return 0, err
	}

	return 0, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// File permission constants. Files are world readable because the
// container process runs as nobody.
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)
