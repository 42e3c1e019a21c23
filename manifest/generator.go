package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
)

// Supported manifest files
const (
	PackageJSON  = "package.json"
	Requirements = "requirements.txt"
)

const systemPrompt = "You infer dependency manifests for standalone programs. " +
	"Reply with the file contents only, no explanation."

var prompts = map[string]string{
	PackageJSON: "Write a package.json for the program below. " +
		"List only third-party npm packages the program imports in \"dependencies\", " +
		"with semver ranges, and no scripts.\n\n",
	Requirements: "Write a requirements.txt for the program below. List only third-party " +
		"PyPI packages the program imports, one per line as name==version or name>=version. " +
		"Leave out standard library modules. Reply with an empty file if there are none.\n\n",
}

var (
	npmNamePattern    = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-z0-9][a-z0-9._-]*$`)
	npmVersionPattern = regexp.MustCompile(`^(\*|latest|[\^~]?v?\d+(\.(\d+|x|\*)){0,2}(-[0-9A-Za-z.-]+)?|(>=|<=|>|<|=)\s*v?\d+(\.\d+){0,2}(\s+(>=|<=|>|<)\s*v?\d+(\.\d+){0,2})?)$`)
	requirementLine   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(\[[A-Za-z0-9._,-]+\])?(\s*(==|>=|<=|~=|!=|>|<)\s*[A-Za-z0-9.*+!-]+(\s*,\s*(==|>=|<=|~=|!=|>|<)\s*[A-Za-z0-9.*+!-]+)*)?$`)
)

const maxNpmNameLength = 214

// ErrEmptyResponse is returned when the model replies without choices
var ErrEmptyResponse = errors.New("no choices returned")

// Generator asks an OpenAI-compatible chat model for a dependency manifest
// and validates the reply before it reaches a build context.
type Generator struct {
	logger   *zap.Logger
	client   openai.Client
	model    string
	maxBytes int
}

// New creates a Generator for the configured endpoint
func New(logger *zap.Logger, cfg config.ManifestConfig, opts ...option.RequestOption) *Generator {
	opts = append([]option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(cfg.APIKey),
	}, opts...)

	return &Generator{
		logger:   logger,
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		maxBytes: cfg.MaxBytes,
	}
}

// NewFromConfig returns a Generator, or nil when generation is disabled or
// no API key is configured.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) *Generator {
	if !cfg.Manifest.Enabled {
		return nil
	}
	if cfg.Manifest.APIKey == "" {
		logger.Warn("manifest generation enabled but manifest.api_key is empty, disabling it")
		return nil
	}
	return New(logger, cfg.Manifest, option.WithMaxRetries(2))
}

// Generate returns the contents of manifestFile for code. An empty string
// with a nil error means the program needs no third-party dependencies.
func (g *Generator) Generate(ctx context.Context, manifestFile, code string) (string, error) {
	prompt, ok := prompts[manifestFile]
	if !ok {
		return "", fmt.Errorf("unsupported manifest: %s", manifestFile)
	}

	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt + code),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	raw := stripFences(completion.Choices[0].Message.Content)
	if len(raw) > g.maxBytes {
		return "", fmt.Errorf("%s exceeds %d bytes", manifestFile, g.maxBytes)
	}

	var manifest string
	switch manifestFile {
	case PackageJSON:
		manifest, err = SanitizePackageJSON(raw)
	case Requirements:
		manifest, err = SanitizeRequirements(raw)
	}
	if err != nil {
		return "", err
	}

	g.logger.Debug("generated manifest",
		zap.String("manifest", manifestFile),
		zap.Int("bytes", len(manifest)))
	return manifest, nil
}

// stripFences returns the body of the first fenced block, or s itself
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}

	body := s[start+3:]
	// Drop the info string (```json)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

type packageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// SanitizePackageJSON rebuilds a package.json from the dependencies of raw.
// Everything else, scripts and "type" included, is dropped: node picks
// CommonJS or ES module syntax from the source itself.
func SanitizePackageJSON(raw string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("package.json is not a JSON object: %w", err)
	}

	var deps map[string]string
	if rawDeps, ok := fields["dependencies"]; ok {
		if err := json.Unmarshal(rawDeps, &deps); err != nil {
			return "", fmt.Errorf("package.json dependencies must map names to versions: %w", err)
		}
	}
	if len(deps) == 0 {
		return "", nil
	}

	for name, version := range deps {
		if len(name) > maxNpmNameLength || !npmNamePattern.MatchString(name) {
			return "", fmt.Errorf("invalid npm package name %q", name)
		}
		if !npmVersionPattern.MatchString(strings.TrimSpace(version)) {
			return "", fmt.Errorf("invalid version %q for npm package %s", version, name)
		}
	}

	out, err := json.MarshalIndent(packageManifest{
		Name:         "app",
		Version:      "1.0.0",
		Dependencies: deps,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode package.json: %w", err)
	}
	return string(out) + "\n", nil
}

// SanitizeRequirements keeps comment-free requirement specifiers and rejects
// anything else, including pip options and URLs.
func SanitizeRequirements(raw string) (string, error) {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !requirementLine.MatchString(line) {
			return "", fmt.Errorf("invalid requirement %q", line)
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}
