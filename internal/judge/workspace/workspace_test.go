package workspace_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"judgeline/internal/judge/workspace"
	appErr "judgeline/pkg/errors"
)

func newManager(t *testing.T) *workspace.Manager {
	t.Helper()
	m, err := workspace.NewManager(workspace.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateWriteReadDestroy(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	ws, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Dir(ws.Dir) != m.Root() {
		t.Fatalf("workspace %s not under root %s", ws.Dir, m.Root())
	}

	if err := ws.Write("main.cpp", []byte("int main(){}")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := ws.Read("main.cpp")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "int main(){}" {
		t.Fatalf("unexpected content %q", data)
	}
	if _, err := ws.Read("absent.txt"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if err := ws.Destroy(); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace dir still exists: %v", err)
	}
	if err := ws.Destroy(); err != nil {
		t.Fatalf("second destroy must be a no-op, got %v", err)
	}
	var nilWs *workspace.Workspace
	if err := nilWs.Destroy(); err != nil {
		t.Fatalf("nil destroy must be a no-op, got %v", err)
	}
}

func TestWorkspacesAreNeverReused(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		ws, err := m.Create(context.Background())
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if seen[ws.Dir] {
			t.Fatalf("workspace path reused: %s", ws.Dir)
		}
		seen[ws.Dir] = true
		_ = ws.Destroy()
	}
}

func TestPathRejectsEscapes(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	ws, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer ws.Destroy()

	tests := []struct {
		name string
		ok   bool
	}{
		{name: "input.txt", ok: true},
		{name: "sub/dir/file", ok: true},
		{name: "./a/../b", ok: true},
		{name: "", ok: false},
		{name: "/etc/passwd", ok: false},
		{name: "..", ok: false},
		{name: "../outside", ok: false},
		{name: "a/../../outside", ok: false},
	}
	for _, tt := range tests {
		_, err := ws.Path(tt.name)
		if tt.ok && err != nil {
			t.Fatalf("%q: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("%q: expected rejection", tt.name)
		}
	}
	if err := ws.Write("../escape", []byte("x")); err == nil {
		t.Fatalf("write outside workspace must fail")
	}
}

func TestWithCleansUpOnErrorAndPanic(t *testing.T) {
	t.Parallel()
	m := newManager(t)
	var dir string
	wantErr := errors.New("boom")
	err := m.With(context.Background(), func(ctx context.Context, ws *workspace.Workspace) error {
		dir = ws.Dir
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace not removed after error")
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatalf("panic was swallowed")
			}
		}()
		_ = m.With(context.Background(), func(ctx context.Context, ws *workspace.Workspace) error {
			dir = ws.Dir
			panic("runner crashed")
		})
	}()
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("workspace not removed after panic")
	}
}

func TestCreateFailsWhenRootUnwritable(t *testing.T) {
	t.Parallel()
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := t.TempDir()
	m, err := workspace.NewManager(workspace.Config{Root: root})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := os.Chmod(root, 0o555); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(root, 0o755)

	if _, err := m.Create(context.Background()); !appErr.Is(err, appErr.WorkspaceAllocFailed) {
		t.Fatalf("expected WorkspaceAllocFailed, got %v", err)
	}
}
