// Package storage owns the filesystem layout shared by the API and the
// worker: a data root holding one input and one output directory per task,
// plus request-scoped temporary files for the synchronous image path.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Manager resolves and creates task-scoped directories under a data root.
type Manager struct {
	root string
}

// NewManager constructs a Manager rooted at dataRoot.
func NewManager(dataRoot string) *Manager {
	return &Manager{root: dataRoot}
}

// TaskInputDir returns (and creates) the input directory for a task.
func (m *Manager) TaskInputDir(taskID string) (string, error) {
	return m.taskDir(taskID, "input")
}

// TaskOutputDir returns (and creates) the output directory for a task.
func (m *Manager) TaskOutputDir(taskID string) (string, error) {
	return m.taskDir(taskID, "output")
}

func (m *Manager) taskDir(taskID, kind string) (string, error) {
	dir := filepath.Join(m.root, "tasks", taskID, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create task %s dir: %w", kind, err)
	}
	return dir, nil
}

// SaveUpload streams an upload to dest, creating parent directories.
func (m *Manager) SaveUpload(r io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()
	n, err := io.Copy(f, r)
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("write upload: %w", err)
	}
	return n, nil
}

// SaveTemp writes r to a temporary file under the data root and returns its
// path. The caller owns the file and must remove it on every exit path.
func (m *Manager) SaveTemp(r io.Reader, pattern string) (string, error) {
	dir := filepath.Join(m.root, "tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return f.Name(), nil
}
