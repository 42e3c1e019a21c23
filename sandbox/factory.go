package sandbox

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/isdmx/runbox/config"
)

// Option customizes an Orchestrator
type Option func(*options)

type options struct {
	cmdRunner CommandRunner
	fs        FileSystem
	manifests ManifestGenerator
	newID     func() string
}

// WithCommandRunner sets the CommandRunner used for all container CLI calls
func WithCommandRunner(cmdRunner CommandRunner) Option {
	return func(o *options) {
		o.cmdRunner = cmdRunner
	}
}

// WithFileSystem sets the FileSystem used for workspaces
func WithFileSystem(fs FileSystem) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithManifestGenerator enables dependency manifest generation
func WithManifestGenerator(gen ManifestGenerator) Option {
	return func(o *options) {
		o.manifests = gen
	}
}

// WithIDGenerator replaces the per-request id source
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		o.newID = newID
	}
}

// NewOrchestrator creates an Orchestrator from the configuration with default
// implementations and optional interfaces
func NewOrchestrator(logger *zap.Logger, cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	o := options{
		cmdRunner: RealCommandRunner{}, // Default implementation
		fs:        RealFileSystem{},    // Default implementation
		newID:     defaultID,
	}

	for _, opt := range opts {
		opt(&o)
	}

	languages, err := NewLanguageTable(cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("failed to load languages: %w", err)
	}

	sc := cfg.Sandbox
	cli := containerCLI{
		binary:    cfg.ContainerBinary(),
		runtime:   sc.Runtime,
		cmdRunner: o.cmdRunner,
	}
	cleanupTimeout := time.Duration(sc.CleanupTimeoutSec) * time.Second

	return &Orchestrator{
		logger:     logger,
		languages:  languages,
		workspaces: NewWorkspaceManager(sc.BaseDir, o.fs, languages),
		builder: &ImageBuilder{
			logger:       logger,
			cli:          cli,
			buildNetwork: sc.BuildNetworkEnabled,
			extraArgs:    sc.BuildArgs,
			maxLogBytes:  sc.MaxLogBytes,
		},
		runner: &SandboxRunner{
			logger:         logger,
			cli:            cli,
			maxLogBytes:    sc.MaxLogBytes,
			cleanupTimeout: cleanupTimeout,
		},
		manifests: o.manifests,
		slots:     semaphore.NewWeighted(int64(sc.MaxConcurrent)),
		newID:     o.newID,
		limits: Limits{
			Timeout:   cfg.GetTimeout(),
			MemoryMB:  sc.MemoryMB,
			CPUs:      sc.CPUs,
			PidsLimit: sc.PidsLimit,
			Network:   sc.NetworkEnabled,
		},
		deadline:        cfg.GetDeadline(),
		maxDeadline:     time.Duration(sc.MaxDeadlineSec) * time.Second,
		queueTimeout:    time.Duration(sc.QueueTimeoutSec) * time.Second,
		manifestTimeout: time.Duration(cfg.Manifest.TimeoutSec) * time.Second,
		cleanupTimeout:  cleanupTimeout,
		maxCodeBytes:    sc.MaxCodeBytes,
	}, nil
}

// NewExecutor creates the sandbox executor described by the configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config, opts ...Option) (SandboxExecutor, error) {
	orchestrator, err := NewOrchestrator(logger, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return orchestrator, nil
}
