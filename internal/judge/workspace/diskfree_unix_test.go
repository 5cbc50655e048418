//go:build unix

package workspace_test

import (
	"context"
	"testing"

	"judgeline/internal/judge/workspace"
	appErr "judgeline/pkg/errors"
)

func TestCreateRefusesLowDisk(t *testing.T) {
	t.Parallel()
	// No test host has an exbibyte free.
	m, err := workspace.NewManager(workspace.Config{Root: t.TempDir(), MinFreeMb: 1 << 40})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = m.Create(context.Background())
	if !appErr.Is(err, appErr.WorkspaceAllocFailed) || !appErr.IsInfrastructure(err) {
		t.Fatalf("expected retriable WorkspaceAllocFailed, got %v", err)
	}

	roomy, err := workspace.NewManager(workspace.Config{Root: t.TempDir(), MinFreeMb: 1})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ws, err := roomy.Create(context.Background())
	if err != nil {
		t.Fatalf("create with 1 MiB floor: %v", err)
	}
	_ = ws.Destroy()
}
