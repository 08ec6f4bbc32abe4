package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Workspace manages temporary files for a single transcription request
type Workspace struct {
	Dir       string
	CreatedAt time.Time
}

// NewWorkspace creates an isolated directory under root (the system temp
// directory when root is empty). Dir is always absolute.
func NewWorkspace(root string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(root, "riffcore-*")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	return &Workspace{Dir: dir, CreatedAt: time.Now()}, nil
}

// Path returns name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// Cleanup removes the workspace directory and all contents
func (w *Workspace) Cleanup() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	return os.RemoveAll(w.Dir)
}
