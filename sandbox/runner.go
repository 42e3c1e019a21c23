package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SandboxRunner starts ephemeral, resource-limited containers from built images
type SandboxRunner struct {
	logger         *zap.Logger
	cli            containerCLI
	maxLogBytes    int
	cleanupTimeout time.Duration
}

func (r *SandboxRunner) runArgs(tag, name, requestID string, limits Limits) []string {
	network := "none"
	if limits.Network {
		network = "bridge"
	}

	args := r.cli.command("run",
		"--name", name,
		"--rm", // Remove container after execution
		"--network", network,
		"--memory", fmt.Sprintf("%dm", limits.MemoryMB),
		"--memory-swap", fmt.Sprintf("%dm", limits.MemoryMB),
		"--cpus", strconv.FormatFloat(limits.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.Itoa(limits.PidsLimit),
		"--ulimit", "nofile=1024:1024",
		"--ulimit", "fsize=10000000",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
		"--user", "65534:65534", // nobody
		"--read-only",
		"--tmpfs", "/tmp:rw,size=64m",
	)
	args = append(args, r.cli.managedLabels(requestID)...)
	return append(args, tag)
}

// Run executes the image in a container named name and captures its
// streams. On timeout the container is killed and removed, and the result
// is marked TimedOut. Cancellation of ctx kills the container the same way
// and returns ctx.Err().
func (r *SandboxRunner) Run(ctx context.Context, tag, name, requestID string, limits Limits) (RunResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	stdout := newCappedBuffer(r.maxLogBytes)
	stderr := newCappedBuffer(r.maxLogBytes)

	args := r.runArgs(tag, name, requestID, limits)
	r.logger.Debug("starting container", zap.String("container", name), zap.Strings("args", args))

	exitCode, err := r.cli.cmdRunner.RunCommand(runCtx, args, stdout, stderr)
	if err != nil {
		if runCtx.Err() == nil {
			return RunResult{}, fmt.Errorf("failed to execute container: %w", err)
		}

		// The CLI process is gone but the container may still be running
		r.terminate(ctx, name)

		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return RunResult{}, ctxErr
		}
		return RunResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: -1,
			TimedOut: true,
		}, nil
	}

	if exitCode == exitCodeRuntimeError && isRuntimeFault(stderr.String()) {
		return RunResult{}, fmt.Errorf("container runtime failed to start %s (exit %d): %s",
			name, exitCode, strings.TrimSpace(stderr.String()))
	}

	if stdout.Truncated() || stderr.Truncated() {
		r.logger.Warn("container output truncated", zap.String("container", name), zap.Int("limit_bytes", r.maxLogBytes))
	}

	return RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// RemoveContainer force-removes a container. A missing container is not an error.
func (r *SandboxRunner) RemoveContainer(ctx context.Context, name string) error {
	return r.cli.removeContainer(ctx, name)
}

// terminate kills and removes a container on a context detached from the
// caller, so it still runs after the caller gave up.
func (r *SandboxRunner) terminate(ctx context.Context, name string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cleanupTimeout)
	defer cancel()

	if err := r.cli.killContainer(cleanupCtx, name); err != nil {
		r.logger.Warn("failed to kill container", zap.String("container", name), zap.Error(err))
	}
	if err := r.cli.removeContainer(cleanupCtx, name); err != nil {
		r.logger.Error("failed to remove container", zap.String("container", name), zap.Error(err))
		return
	}
	r.logger.Info("terminated container", zap.String("container", name))
}
