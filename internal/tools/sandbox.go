package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Sandbox confines file operations to one base directory. A role gets at
// most one sandbox; the implementer's covers the product workspace, the tech
// writer's covers the project docs with the reports directory denied.
type Sandbox struct {
	Base       string
	AllowWrite bool
	// DenyDirs are absolute paths that stay write-protected even inside Base.
	DenyDirs []string

	rec Recorder
}

// NewSandbox creates a sandbox rooted at base.
func NewSandbox(base string, allowWrite bool, rec Recorder) *Sandbox {
	return &Sandbox{Base: base, AllowWrite: allowWrite, rec: rec}
}

// Resolve maps a relative path into the sandbox, rejecting escapes.
func (s *Sandbox) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.HasPrefix(rel, "~") {
		return "", fmt.Errorf("tilde paths are not allowed")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed")
	}

	// Tolerate paths that repeat the base directory name, e.g.
	// "workspace/app/main.py" inside the workspace sandbox.
	cleaned := filepath.Clean(rel)
	baseName := filepath.Base(s.Base)
	if cleaned == baseName {
		cleaned = "."
	} else if strings.HasPrefix(cleaned, baseName+string(filepath.Separator)) {
		cleaned = strings.TrimPrefix(cleaned, baseName+string(filepath.Separator))
	}

	baseAbs, err := filepath.Abs(s.Base)
	if err != nil {
		return "", fmt.Errorf("failed to resolve sandbox base: %w", err)
	}
	realBase, err := resolveExisting(baseAbs)
	if err != nil {
		realBase = baseAbs
	}

	// Resolve symlinks before the confinement check so a link inside the
	// sandbox pointing outside cannot smuggle reads or writes out.
	target := filepath.Clean(filepath.Join(baseAbs, cleaned))
	realTarget, err := resolveExisting(target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", rel, err)
	}
	if realTarget != realBase && !strings.HasPrefix(realTarget, realBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the sandbox: %s", rel)
	}
	return realTarget, nil
}

// resolveExisting resolves symlinks in path, tolerating a not-yet-created
// suffix by resolving the deepest existing ancestor instead.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	dir := filepath.Dir(path)
	if dir == path {
		return path, nil
	}
	parent, err := resolveExisting(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}

// Read returns the contents of a file inside the sandbox.
func (s *Sandbox) Read(rel string) (string, error) {
	target, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", rel, err)
	}
	s.record(Event{Tool: "fs_read", Path: target})
	return string(content), nil
}

// Write writes a file inside the sandbox, creating parent directories.
func (s *Sandbox) Write(rel, content string) (string, error) {
	if !s.AllowWrite {
		return "", fmt.Errorf("write access is not allowed for this role")
	}
	target, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	for _, deny := range s.DenyDirs {
		denyAbs, err := filepath.Abs(deny)
		if err != nil {
			continue
		}
		if resolved, err := resolveExisting(denyAbs); err == nil {
			denyAbs = resolved
		}
		if target == denyAbs || strings.HasPrefix(target, denyAbs+string(filepath.Separator)) {
			return "", fmt.Errorf("%s is write-protected for this role", deny)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", rel, err)
	}
	s.record(Event{Tool: "fs_write", Path: target, Bytes: len(content)})
	return target, nil
}

// List returns the sorted entries of a directory (or the file name itself)
// inside the sandbox.
func (s *Sandbox) List(rel string) ([]string, error) {
	if rel == "" {
		rel = "."
	}
	target, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("path does not exist: %s", rel)
	}
	if !info.IsDir() {
		s.record(Event{Tool: "fs_list", Path: target})
		return []string{info.Name()}, nil
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	s.record(Event{Tool: "fs_list", Path: target})
	return names, nil
}

func (s *Sandbox) record(e Event) {
	if s.rec != nil {
		s.rec.Record(e)
	}
}
