package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/runbox/logger"
)

// State is a step of the execution state machine
type State string

// Execution states. Any state may move straight to StateCompleted on failure.
const (
	StateReceived       State = "received"
	StateWorkspaceReady State = "workspace_ready"
	StateBuilt          State = "built"
	StateRan            State = "ran"
	StateCompleted      State = "completed"
)

// resourceNames are derived from one request id and never shared
type resourceNames struct {
	ID        string
	Workspace string
	Image     string
	Container string
}

func newResourceNames(id, language string) resourceNames {
	return resourceNames{
		ID:        id,
		Workspace: "runbox-" + id,
		Image:     "runbox-" + language + "-" + id,
		Container: "runbox-run-" + id,
	}
}

// Orchestrator drives workspace, build and run for one submission at a
// time per call, with a bounded number of calls in flight.
type Orchestrator struct {
	logger     *zap.Logger
	languages  *LanguageTable
	workspaces *WorkspaceManager
	builder    *ImageBuilder
	runner     *SandboxRunner
	manifests  ManifestGenerator
	slots      *semaphore.Weighted
	newID      func() string

	limits          Limits
	deadline        time.Duration
	maxDeadline     time.Duration
	queueTimeout    time.Duration
	manifestTimeout time.Duration
	cleanupTimeout  time.Duration
	maxCodeBytes    int
}

// Languages returns the canonical names of the supported languages
func (o *Orchestrator) Languages() []string {
	return o.languages.Names()
}

// MaxDeadline is the largest per-request deadline override accepted
func (o *Orchestrator) MaxDeadline() time.Duration {
	return o.maxDeadline
}

// Execute runs one submission end to end. Build failures, runtime failures
// and timeouts are reported through the result; the error return is for
// invalid input, ErrBusy, workspace I/O, runtime faults and cancellation.
// Every workspace, image and container created is removed before return.
func (o *Orchestrator) Execute(ctx context.Context, req ExecuteRequest) (result ExecuteResult, err error) {
	start := time.Now()

	lang, deadline, err := o.validate(req)
	if err != nil {
		return ExecuteResult{}, err
	}

	if err := o.acquire(ctx); err != nil {
		return ExecuteResult{}, err
	}
	defer o.slots.Release(1)

	names := newResourceNames(o.newID(), lang.Name)
	log := logger.ForExecution(o.logger, names.ID, lang.Name)
	result = ExecuteResult{RequestID: names.ID, Language: lang.Name}

	state := StateReceived
	advance := func(next State) {
		log.Debug("execution state changed", zap.String("from", string(state)), zap.String("to", string(next)))
		state = next
	}
	defer func() {
		result.Duration = time.Since(start)
		advance(StateCompleted)
		if err != nil {
			log.Warn("execution aborted", zap.Error(err), zap.Duration("duration", result.Duration))
			return
		}
		log.Info("execution completed",
			zap.String("status", string(result.Status)),
			zap.String(logger.FieldStage, string(result.Stage)),
			zap.Int("exit_code", result.ExitCode),
			zap.Int("stdout_len", len(result.Stdout)),
			zap.Int("stderr_len", len(result.Stderr)),
			zap.Duration("duration", result.Duration))
	}()

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sub := Submission{
		Code:     req.Code,
		Manifest: o.generateManifest(ctx, log, lang, req.Code),
	}

	workspace, err := o.workspaces.Create(names.Workspace, lang, sub)
	if err != nil {
		return result, err
	}
	defer o.cleanup(ctx, log, "workspace", func(context.Context) error {
		return o.workspaces.Destroy(workspace)
	})
	advance(StateWorkspaceReady)

	// Registered before the build so an interrupted build is covered too
	defer o.cleanup(ctx, log, "image", func(cctx context.Context) error {
		return o.builder.RemoveImage(cctx, names.Image)
	})

	build, err := o.builder.Build(ctx, workspace, names.Image, names.ID)
	if err != nil {
		return result, err
	}
	result.BuildLog = build.Log
	switch {
	case build.TimedOut:
		result.Status, result.Stage = StatusTimeout, StageBuild
		return result, nil
	case build.Failure != nil:
		result.Status, result.Stage = StatusBuildFailure, StageBuild
		result.ExitCode = build.Failure.ExitCode
		result.Stderr = build.Failure.Stderr
		return result, nil
	}
	advance(StateBuilt)

	// --rm normally removes it; this covers a runtime that did not
	defer o.cleanup(ctx, log, "container", func(cctx context.Context) error {
		return o.runner.RemoveContainer(cctx, names.Container)
	})

	run, err := o.runner.Run(ctx, build.ImageTag, names.Container, names.ID, o.limits)
	if err != nil {
		return result, err
	}
	advance(StateRan)

	result.Stage = StageRun
	result.Stdout = run.Stdout
	result.Stderr = run.Stderr
	result.ExitCode = run.ExitCode

	// Failure is decided by the exit code alone; stderr from a successful
	// program is returned but does not fail it.
	switch {
	case run.TimedOut:
		result.Status = StatusTimeout
	case run.ExitCode != 0:
		result.Status = StatusRuntimeFailure
	default:
		result.Status = StatusSuccess
	}

	return result, nil
}

func (o *Orchestrator) validate(req ExecuteRequest) (Language, time.Duration, error) {
	if strings.TrimSpace(req.Code) == "" {
		return Language{}, 0, &InvalidInputError{Reason: "no code provided"}
	}
	if len(req.Code) > o.maxCodeBytes {
		return Language{}, 0, &InvalidInputError{Reason: fmt.Sprintf("code exceeds %d bytes", o.maxCodeBytes)}
	}

	lang, ok := o.languages.Resolve(req.Language)
	if !ok {
		return Language{}, 0, &InvalidInputError{
			Reason: fmt.Sprintf("unsupported language %q, must be one of: %s", req.Language, strings.Join(o.languages.Names(), ", ")),
		}
	}

	deadline := o.deadline
	if req.Deadline != 0 {
		if req.Deadline < time.Second || req.Deadline > o.maxDeadline {
			return Language{}, 0, &InvalidInputError{
				Reason: fmt.Sprintf("timeout must be between 1 and %d seconds", int(o.maxDeadline/time.Second)),
			}
		}
		deadline = req.Deadline
	}

	return lang, deadline, nil
}

// acquire waits for an execution slot, at most queueTimeout
func (o *Orchestrator) acquire(ctx context.Context) error {
	queueCtx, cancel := context.WithTimeout(ctx, o.queueTimeout)
	defer cancel()

	if err := o.slots.Acquire(queueCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return ErrBusy
	}
	return nil
}

// generateManifest asks the generator for a manifest when the language has
// one. Any failure leaves the submission without a manifest.
func (o *Orchestrator) generateManifest(ctx context.Context, log *zap.Logger, lang Language, code string) string {
	if o.manifests == nil || lang.ManifestFile == "" {
		return ""
	}

	manifestCtx, cancel := context.WithTimeout(ctx, o.manifestTimeout)
	defer cancel()

	manifest, err := o.manifests.Generate(manifestCtx, lang.ManifestFile, code)
	if err != nil {
		log.Warn("manifest generation failed, continuing without it",
			zap.String("manifest", lang.ManifestFile), zap.Error(err))
		return ""
	}
	return manifest
}

// cleanup runs fn on a context detached from the request so resources are
// released even when the request was cancelled or timed out.
func (o *Orchestrator) cleanup(ctx context.Context, log *zap.Logger, resource string, fn func(context.Context) error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
	defer cancel()

	if err := fn(cleanupCtx); err != nil {
		log.Error("cleanup failed", zap.String("resource", resource), zap.Error(err))
	}
}

// IsClientError reports whether err is the caller's fault
func IsClientError(err error) bool {
	var invalid *InvalidInputError
	return errors.As(err, &invalid)
}

func defaultID() string {
	return uuid.NewString()
}
