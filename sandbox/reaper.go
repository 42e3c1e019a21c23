package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/isdmx/runbox/config"
)

// Reaper removes containers and images left behind by a previous process
// that exited before its cleanup ran. It finds them by the managed label.
type Reaper struct {
	logger *zap.Logger
	cli    containerCLI
}

// NewReaper creates a Reaper for the configured container runtime
func NewReaper(logger *zap.Logger, cfg *config.Config, cmdRunner CommandRunner) *Reaper {
	if cmdRunner == nil {
		cmdRunner = RealCommandRunner{}
	}
	return &Reaper{
		logger: logger,
		cli: containerCLI{
			binary:    cfg.ContainerBinary(),
			runtime:   cfg.Sandbox.Runtime,
			cmdRunner: cmdRunner,
		},
	}
}

// Reap removes every managed container, then every managed image
func (r *Reaper) Reap(ctx context.Context) error {
	filter := "label=" + LabelManaged + "=true"

	var containers, images []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := r.list(gctx, "ps", "--all", "--quiet", "--filter", filter)
		containers = ids
		return err
	})
	g.Go(func() error {
		ids, err := r.list(gctx, "images", "--quiet", "--filter", filter)
		images = ids
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	var failed int
	// Containers first, an image in use cannot be removed
	for _, id := range containers {
		if err := r.cli.removeContainer(ctx, id); err != nil {
			r.logger.Warn("failed to reap container", zap.String("container", id), zap.Error(err))
			failed++
		}
	}
	for _, id := range images {
		if err := r.cli.removeImage(ctx, id); err != nil {
			r.logger.Warn("failed to reap image", zap.String("image", id), zap.Error(err))
			failed++
		}
	}

	if len(containers)+len(images) > 0 {
		r.logger.Info("reaped orphaned sandbox resources",
			zap.Int("containers", len(containers)),
			zap.Int("images", len(images)),
			zap.Int("failed", failed))
	}
	if failed > 0 {
		return fmt.Errorf("failed to reap %d sandbox resources", failed)
	}
	return nil
}

func (r *Reaper) list(ctx context.Context, args ...string) ([]string, error) {
	var stdout bytes.Buffer
	stderr := newCappedBuffer(4096)

	exitCode, err := r.cli.cmdRunner.RunCommand(ctx, r.cli.command(args...), &stdout, stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", args[0], err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("failed to list %s (exit %d): %s", args[0], exitCode, strings.TrimSpace(stderr.String()))
	}

	seen := make(map[string]bool)
	var ids []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		id := strings.TrimSpace(line)
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
