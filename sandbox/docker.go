package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Labels put on every image and container so leftovers can be found
const (
	LabelManaged = "runbox.managed"
	LabelRequest = "runbox.request"
)

// Exit codes with a runtime-level meaning rather than a program-level one
const (
	exitCodeRuntimeError = 125
	exitCodeKilled       = 137
)

// containerCLI issues commands to a docker compatible CLI (docker or podman)
type containerCLI struct {
	binary    string
	runtime   string
	cmdRunner CommandRunner
}

func (c containerCLI) command(args ...string) []string {
	return append([]string{c.binary}, args...)
}

func (c containerCLI) managedLabels(requestID string) []string {
	return []string{
		"--label", LabelManaged + "=true",
		"--label", LabelRequest + "=" + requestID,
	}
}

// removeContainer force-removes a container. A missing container is not an error.
func (c containerCLI) removeContainer(ctx context.Context, name string) error {
	return c.forceRemove(ctx, "rm", name)
}

// removeImage force-removes an image. A missing image is not an error.
func (c containerCLI) removeImage(ctx context.Context, ref string) error {
	return c.forceRemove(ctx, "rmi", ref)
}

// killContainer sends SIGKILL to a running container. A missing or stopped
// container is not an error.
func (c containerCLI) killContainer(ctx context.Context, name string) error {
	stderr := newCappedBuffer(4096)
	exitCode, err := c.cmdRunner.RunCommand(ctx, c.command("kill", "--signal", "KILL", name), io.Discard, stderr)
	if err != nil {
		return fmt.Errorf("failed to kill container %s: %w", name, err)
	}
	if exitCode != 0 && !isNotFound(stderr.String()) && !isNotRunning(stderr.String()) {
		return fmt.Errorf("failed to kill container %s (exit %d): %s", name, exitCode, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (c containerCLI) forceRemove(ctx context.Context, verb, ref string) error {
	stderr := newCappedBuffer(4096)
	exitCode, err := c.cmdRunner.RunCommand(ctx, c.command(verb, "--force", ref), io.Discard, stderr)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", verb, ref, err)
	}
	if exitCode != 0 && !isNotFound(stderr.String()) {
		return fmt.Errorf("failed to %s %s (exit %d): %s", verb, ref, exitCode, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// isNotFound matches the "does not exist" messages of docker and podman
func isNotFound(stderr string) bool {
	msg := strings.ToLower(stderr)
	return strings.Contains(msg, "no such container") ||
		strings.Contains(msg, "no such image") ||
		strings.Contains(msg, "no container with name or id") ||
		strings.Contains(msg, "image not known")
}

// isRuntimeFault tells a run the CLI could not start (exit 125 plus a CLI
// or daemon message) from a program that exited 125 on its own
func isRuntimeFault(stderr string) bool {
	msg := strings.TrimSpace(stderr)
	for _, prefix := range []string{
		"docker: ",
		"Error response from daemon",
		"Unable to find image",
		"Error: ", // podman
	} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func isNotRunning(stderr string) bool {
	msg := strings.ToLower(stderr)
	return strings.Contains(msg, "is not running") || strings.Contains(msg, "container state improper")
}
