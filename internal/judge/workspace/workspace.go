// Package workspace allocates private per-attempt directories that are
// bind-mounted into the sandbox.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultDirMode  os.FileMode = 0o777
	defaultFileMode os.FileMode = 0o644
)

// Config controls where workspaces are created.
type Config struct {
	Root string `yaml:"root"`
	// DirMode must let the unprivileged sandbox user write compiler output.
	DirMode os.FileMode `yaml:"dirMode"`
	// MinFreeMb refuses new workspaces while the root filesystem has less
	// free space. Zero disables the check.
	MinFreeMb int64 `yaml:"minFreeMb"`
}

// Manager creates and tracks workspaces under one root directory.
type Manager struct {
	root    string
	dirMode os.FileMode
	minFree uint64
}

// NewManager ensures the root exists and returns a manager for it.
func NewManager(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root failed: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "create workspace root failed")
	}
	mode := cfg.DirMode
	if mode == 0 {
		mode = defaultDirMode
	}
	m := &Manager{root: root, dirMode: mode}
	if cfg.MinFreeMb > 0 {
		m.minFree = uint64(cfg.MinFreeMb) << 20
	}
	return m, nil
}

// Root returns the absolute root directory.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a fresh directory <root>/<uuid>.
// Collisions and filesystem failures are reported as WorkspaceAllocFailed.
func (m *Manager) Create(ctx context.Context) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "workspace allocation canceled")
	}
	if m.minFree > 0 {
		if free, ok := freeBytes(m.root); ok && free < m.minFree {
			return nil, appErr.Newf(appErr.WorkspaceAllocFailed, "workspace root has %d MiB free, need %d", free>>20, m.minFree>>20)
		}
	}
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, m.dirMode); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, appErr.Newf(appErr.WorkspaceAllocFailed, "workspace %s already exists", id)
		}
		return nil, appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "create workspace failed")
	}
	// Mkdir is subject to umask.
	if err := os.Chmod(dir, m.dirMode); err != nil {
		_ = os.RemoveAll(dir)
		return nil, appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "chmod workspace failed")
	}
	return &Workspace{ID: id, Dir: dir}, nil
}

// With creates a workspace, runs fn and destroys the workspace on every exit
// path, including a panic inside fn.
func (m *Manager) With(ctx context.Context, fn func(ctx context.Context, ws *Workspace) error) error {
	ws, err := m.Create(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if derr := ws.Destroy(); derr != nil {
			logger.Warn(ctx, "destroy workspace failed", zap.String("workspace", ws.Dir), zap.Error(derr))
		}
	}()
	return fn(ctx, ws)
}

// Workspace is a directory exclusive to one evaluation attempt.
type Workspace struct {
	ID  string
	Dir string

	once       sync.Once
	destroyErr error
}

// Path resolves name inside the workspace, rejecting escapes.
func (w *Workspace) Path(name string) (string, error) {
	if w == nil || w.Dir == "" {
		return "", appErr.New(appErr.InvalidParams).WithMessage("workspace is not initialized")
	}
	if strings.TrimSpace(name) == "" {
		return "", appErr.ValidationError("name", "required")
	}
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessagef("invalid relative path %q", name)
	}
	full := filepath.Join(w.Dir, clean)
	if !strings.HasPrefix(full, filepath.Clean(w.Dir)+string(filepath.Separator)) {
		return "", appErr.New(appErr.InvalidParams).WithMessagef("path traversal detected in %q", name)
	}
	return full, nil
}

// Write stores content under name, creating parent directories as needed.
func (w *Workspace) Write(name string, content []byte) error {
	path, err := w.Path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "create directory for %s failed", name)
	}
	if err := os.WriteFile(path, content, defaultFileMode); err != nil {
		return appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "write %s failed", name)
	}
	return nil
}

// Read returns the content stored under name.
func (w *Workspace) Read(name string) ([]byte, error) {
	path, err := w.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErr.New(appErr.NotFound).WithMessagef("%s not found in workspace", name)
		}
		return nil, appErr.Wrapf(err, appErr.WorkspaceAllocFailed, "read %s failed", name)
	}
	return data, nil
}

// Destroy removes the directory tree. It is idempotent and safe on nil.
func (w *Workspace) Destroy() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.destroyErr = fmt.Errorf("remove workspace %s failed: %w", w.Dir, err)
		}
	})
	return w.destroyErr
}
