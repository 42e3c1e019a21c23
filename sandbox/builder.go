package sandbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// ImageBuilder turns a workspace into a runnable image
type ImageBuilder struct {
	logger       *zap.Logger
	cli          containerCLI
	buildNetwork bool
	extraArgs    []string
	maxLogBytes  int
}

// Build runs the image build for workspace and tags the result. A non-zero
// exit is a BuildFailure in the result, not an error; the error return is
// reserved for the build tool itself being unusable or the caller cancelling.
func (b *ImageBuilder) Build(ctx context.Context, workspace, tag, requestID string) (BuildResult, error) {
	args := b.cli.command("build",
		"--tag", tag,
		"--file", filepath.Join(workspace, DockerfileName),
		"--force-rm",
	)
	args = append(args, b.cli.managedLabels(requestID)...)
	if b.cli.runtime == "docker" {
		args = append(args, "--progress", "plain")
	}
	if !b.buildNetwork {
		args = append(args, "--network", "none")
	}
	args = append(args, b.extraArgs...)
	args = append(args, workspace)

	// Build tools split progress and errors across both streams differently,
	// so they share one capped log.
	buildLog := newCappedBuffer(b.maxLogBytes)

	b.logger.Debug("building image", zap.String("tag", tag), zap.Strings("args", args))
	exitCode, err := b.cli.cmdRunner.RunCommand(ctx, args, buildLog, buildLog)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return BuildResult{Log: buildLog.String(), TimedOut: true}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return BuildResult{}, ctxErr
		}
		return BuildResult{}, fmt.Errorf("failed to run image build: %w", err)
	}

	if exitCode != 0 {
		return BuildResult{
			Log:     buildLog.String(),
			Failure: &BuildFailure{ExitCode: exitCode, Stderr: buildLog.String()},
		}, nil
	}

	return BuildResult{ImageTag: tag, Log: buildLog.String()}, nil
}

// RemoveImage deletes a built image. A missing image is not an error.
func (b *ImageBuilder) RemoveImage(ctx context.Context, tag string) error {
	return b.cli.removeImage(ctx, tag)
}
