// Package sandbox compiles and runs untrusted submissions inside resource-limited containers.
package sandbox

import (
	"context"

	"judgeline/internal/judge/language"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/sandbox/result"
	"judgeline/internal/judge/workspace"
)

// InputFile is the workspace file fed to the program on stdin.
const InputFile = "input.txt"

// SandboxRunner compiles a workspace's source and executes the resulting program.
// Judging outcomes are reported through return values; a non-nil error from
// Execute, and any error from Compile other than *CompileError, is an
// infrastructure failure.
type SandboxRunner interface {
	Compile(ctx context.Context, ws *workspace.Workspace, lang language.Language) error
	// Execute runs tc's input. The expected output only sizes the capture.
	Execute(ctx context.Context, ws *workspace.Workspace, lang language.Language, tc model.Testcase, limits model.Constraints) (result.ExecutionResult, error)
}

// CompileError carries the compiler diagnostic of a failed build.
type CompileError struct {
	Output   string
	ExitCode int
	TimedOut bool
}

func (e *CompileError) Error() string {
	if e.TimedOut {
		return "compilation timed out"
	}
	return "compilation failed"
}
