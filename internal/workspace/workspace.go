// Package workspace confines agent file reads and writes to one directory
// tree and gathers source files as prompt context.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EmptyFile stands in for the contents of a file that does not exist yet.
const EmptyFile = "EMPTY_FILE"

// ErrOutsideRoot is returned for paths that resolve outside the workspace.
var ErrOutsideRoot = errors.New("path escapes workspace root")

var (
	skipDirs       = map[string]bool{".git": true, "node_modules": true}
	skipSuffixes   = []string{".log", ".lock"}
	sourceSuffixes = []string{".go", ".js", ".ts", ".jsx", ".tsx", ".json", ".md"}
)

// Workspace is a directory that agents may read and write.
type Workspace struct {
	root string
}

// New returns a Workspace rooted at root, which must be an existing directory.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace: %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a workspace-relative path to an absolute one, rejecting
// absolute paths and paths that climb out of the root.
func (w *Workspace) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("workspace: empty path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("workspace: %q: %w", rel, ErrOutsideRoot)
	}
	resolved := filepath.Join(w.root, rel)
	relative, err := filepath.Rel(w.root, resolved)
	if err != nil {
		return "", fmt.Errorf("workspace: %q: %w", rel, err)
	}
	if relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: %q: %w", rel, ErrOutsideRoot)
	}
	return resolved, nil
}

// ReadFile returns the contents of rel, or EmptyFile when it does not exist.
func (w *Workspace) ReadFile(rel string) (string, error) {
	path, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return EmptyFile, nil
	}
	if err != nil {
		return "", fmt.Errorf("workspace: read %s: %w", rel, err)
	}
	return string(data), nil
}

// WriteFile writes content to rel, creating parent directories.
func (w *Workspace) WriteFile(rel, content string) error {
	path, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspace: write %s: %w", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("workspace: write %s: %w", rel, err)
	}
	return nil
}

// ListSourceFiles walks the workspace in lexical order and returns up to max
// relative paths of source files. Version control, dependency directories,
// logs and lockfiles are skipped.
func (w *Workspace) ListSourceFiles(max int) ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if max > 0 && len(files) >= max {
			return filepath.SkipAll
		}
		name := d.Name()
		if hasAnySuffix(name, skipSuffixes) || !hasAnySuffix(name, sourceSuffixes) {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: list files: %w", err)
	}
	return files, nil
}

// Context renders up to max source files as "File: <path>\n<contents>\n\n"
// blocks.
func (w *Workspace) Context(max int) (string, error) {
	files, err := w.ListSourceFiles(max)
	if err != nil {
		return "", err
	}
	return w.RenderFiles("File: ", files)
}

// RenderFiles concatenates the named files, each preceded by prefix and its
// path. Missing files render as EmptyFile.
func (w *Workspace) RenderFiles(prefix string, files []string) (string, error) {
	var b strings.Builder
	for _, f := range files {
		content, err := w.ReadFile(f)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%s%s\n%s\n\n", prefix, f, content)
	}
	return b.String(), nil
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
