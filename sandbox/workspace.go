package sandbox

import (
	"path/filepath"
)

// WorkspaceManager materializes submissions into per-request build contexts
type WorkspaceManager struct {
	baseDir   string
	fs        FileSystem
	languages *LanguageTable
}

// NewWorkspaceManager creates a manager that allocates workspaces under baseDir
func NewWorkspaceManager(baseDir string, fs FileSystem, languages *LanguageTable) *WorkspaceManager {
	return &WorkspaceManager{
		baseDir:   baseDir,
		fs:        fs,
		languages: languages,
	}
}

// Create writes the source, the optional manifest, and the Dockerfile into
// a staging directory and renames it to baseDir/name once complete, so a
// half-written workspace is never visible under its final name.
func (w *WorkspaceManager) Create(name string, lang Language, sub Submission) (string, error) {
	finalPath := filepath.Join(w.baseDir, name)
	stagingPath := filepath.Join(w.baseDir, "."+name+".tmp")

	dockerfile, err := w.languages.RenderDockerfile(lang, sub.Manifest != "")
	if err != nil {
		return "", &WorkspaceError{Op: "render", Path: finalPath, Err: err}
	}

	if err := w.fs.MkdirAll(stagingPath, DirPermission); err != nil {
		return "", &WorkspaceError{Op: "create", Path: stagingPath, Err: err}
	}

	files := map[string]string{
		lang.SourceFile: sub.Code,
		DockerfileName:  dockerfile,
	}
	if sub.Manifest != "" && lang.ManifestFile != "" {
		files[lang.ManifestFile] = sub.Manifest
	}

	for file, content := range files {
		if err := w.fs.WriteFile(filepath.Join(stagingPath, file), []byte(content), FilePermission); err != nil {
			_ = w.fs.RemoveAll(stagingPath)
			return "", &WorkspaceError{Op: "write", Path: filepath.Join(stagingPath, file), Err: err}
		}
	}

	if err := w.fs.Rename(stagingPath, finalPath); err != nil {
		_ = w.fs.RemoveAll(stagingPath)
		return "", &WorkspaceError{Op: "publish", Path: finalPath, Err: err}
	}

	return finalPath, nil
}

// Destroy removes a workspace. Removing a missing workspace is not an error.
func (w *WorkspaceManager) Destroy(path string) error {
	if err := w.fs.RemoveAll(path); err != nil {
		return &WorkspaceError{Op: "remove", Path: path, Err: err}
	}
	return nil
}
