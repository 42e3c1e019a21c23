package sandbox

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/isdmx/runbox/config"
)

// LanguageName constants
const (
	LanguagePython = "python"
	LanguageNodeJS = "nodejs"
	LanguageGo     = "go"
	LanguageCPP    = "cpp"
)

// Filename constants
const (
	FilenamePython = "main.py"
	FilenameNodeJS = "index.js"
	FilenameGo     = "main.go"
	FilenameCPP    = "main.cpp"

	ManifestNodeJS = "package.json"
	ManifestPython = "requirements.txt"

	DockerfileName = "Dockerfile"
)

// Each template checks the source during the build so that syntax errors
// are reported as build failures rather than runtime failures.
const (
	dockerfileNodeJS = `FROM {{.Image}}
WORKDIR /app
{{- if .HasManifest}}
COPY {{.ManifestFile}} ./
RUN npm install --ignore-scripts --no-audit --no-fund --omit=dev
{{- end}}
COPY {{.SourceFile}} ./
RUN node --check {{.SourceFile}}
CMD ["node", "{{.SourceFile}}"]
`

	dockerfilePython = `FROM {{.Image}}
WORKDIR /app
ENV PYTHONUNBUFFERED=1 PYTHONDONTWRITEBYTECODE=1
{{- if .HasManifest}}
COPY {{.ManifestFile}} ./
RUN pip install --no-cache-dir --only-binary=:all: -r {{.ManifestFile}}
{{- end}}
COPY {{.SourceFile}} ./
RUN python -c "import ast,sys; ast.parse(open(sys.argv[1]).read(), sys.argv[1])" {{.SourceFile}}
CMD ["python", "{{.SourceFile}}"]
`

	dockerfileGo = `FROM {{.Image}} AS build
WORKDIR /src
COPY {{.SourceFile}} ./
RUN CGO_ENABLED=0 go build -o /src/app {{.SourceFile}}
FROM {{.RuntimeImage}}
COPY --from=build /src/app /app
CMD ["/app"]
`

	dockerfileCPP = `FROM {{.Image}} AS build
WORKDIR /src
COPY {{.SourceFile}} ./
RUN g++ -std=c++17 -O2 -static -o /src/app {{.SourceFile}}
FROM {{.RuntimeImage}}
COPY --from=build /src/app /app
CMD ["/app"]
`
)

// Language describes how one language is built into a runnable image
type Language struct {
	Name  string
	Image string
	// RuntimeImage is the final stage image; empty for single-stage builds
	RuntimeImage string
	SourceFile   string
	ManifestFile string
	Dockerfile   string
}

func builtinLanguages() map[string]Language {
	return map[string]Language{
		LanguageNodeJS: {
			Name:         LanguageNodeJS,
			Image:        "node:22-alpine",
			SourceFile:   FilenameNodeJS,
			ManifestFile: ManifestNodeJS,
			Dockerfile:   dockerfileNodeJS,
		},
		LanguagePython: {
			Name:         LanguagePython,
			Image:        "python:3.12-slim",
			SourceFile:   FilenamePython,
			ManifestFile: ManifestPython,
			Dockerfile:   dockerfilePython,
		},
		LanguageGo: {
			Name:         LanguageGo,
			Image:        "golang:1.23-alpine",
			RuntimeImage: "alpine:3.20",
			SourceFile:   FilenameGo,
			Dockerfile:   dockerfileGo,
		},
		LanguageCPP: {
			Name:         LanguageCPP,
			Image:        "gcc:13",
			RuntimeImage: "debian:bookworm-slim",
			SourceFile:   FilenameCPP,
			Dockerfile:   dockerfileCPP,
		},
	}
}

var languageAliases = map[string]string{
	"js":         LanguageNodeJS,
	"javascript": LanguageNodeJS,
	"node":       LanguageNodeJS,
	"py":         LanguagePython,
	"python3":    LanguagePython,
	"golang":     LanguageGo,
	"c++":        LanguageCPP,
}

type dockerfileData struct {
	Image        string
	RuntimeImage string
	SourceFile   string
	ManifestFile string
	HasManifest  bool
}

// LanguageTable resolves language names and renders their Dockerfiles
type LanguageTable struct {
	languages map[string]Language
	templates map[string]*template.Template
}

// NewLanguageTable merges config overrides into the built-in languages.
// Overrides may only change the images or Dockerfile template of a known language.
func NewLanguageTable(overrides map[string]config.LanguageConfig) (*LanguageTable, error) {
	languages := builtinLanguages()

	for name, override := range overrides {
		lang, ok := languages[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unsupported language in config: %s", name)
		}
		if override.Image != "" {
			lang.Image = override.Image
		}
		if override.RuntimeImage != "" {
			if lang.RuntimeImage == "" && override.Dockerfile == "" {
				return nil, fmt.Errorf("language %s has no runtime stage to set runtime_image on", name)
			}
			lang.RuntimeImage = override.RuntimeImage
		}
		if override.Dockerfile != "" {
			lang.Dockerfile = override.Dockerfile
		}
		languages[lang.Name] = lang
	}

	table := &LanguageTable{
		languages: languages,
		templates: make(map[string]*template.Template, len(languages)),
	}

	for name, lang := range languages {
		for _, file := range []string{lang.SourceFile, lang.ManifestFile} {
			if file != "" && (filepath.Base(file) != file || file == DockerfileName) {
				return nil, fmt.Errorf("invalid file name %q for language %s", file, name)
			}
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(lang.Dockerfile)
		if err != nil {
			return nil, fmt.Errorf("invalid dockerfile template for %s: %w", name, err)
		}
		table.templates[name] = tmpl
	}

	return table, nil
}

// Resolve looks a language up by name or alias, case-insensitively
func (t *LanguageTable) Resolve(name string) (Language, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := languageAliases[key]; ok {
		key = canonical
	}
	lang, ok := t.languages[key]
	return lang, ok
}

// Names returns the canonical language names in sorted order
func (t *LanguageTable) Names() []string {
	names := make([]string, 0, len(t.languages))
	for name := range t.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderDockerfile renders the build recipe for lang
func (t *LanguageTable) RenderDockerfile(lang Language, hasManifest bool) (string, error) {
	tmpl, ok := t.templates[lang.Name]
	if !ok {
		return "", fmt.Errorf("unsupported language: %s", lang.Name)
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, dockerfileData{
		Image:        lang.Image,
		RuntimeImage: lang.RuntimeImage,
		SourceFile:   lang.SourceFile,
		ManifestFile: lang.ManifestFile,
		HasManifest:  hasManifest && lang.ManifestFile != "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to render dockerfile for %s: %w", lang.Name, err)
	}
	return buf.String(), nil
}
