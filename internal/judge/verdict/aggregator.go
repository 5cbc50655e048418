// Package verdict turns sandbox runs into a submission verdict.
package verdict

import (
	"context"
	"errors"
	"strings"
	"time"

	"judgeline/internal/judge/language"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/sandbox"
	"judgeline/internal/judge/sandbox/result"
	"judgeline/internal/judge/workspace"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const trailingSpace = " \t\r\n"

// StatusUpdate is an intermediate lifecycle transition.
type StatusUpdate struct {
	SubmissionID string
	Language     string
	Status       result.JudgeStatus
	TotalTests   int
	DoneTests    int
	ReceivedAt   int64
}

// StatusReporter receives intermediate updates. Failures are logged and do
// not abort judging.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate) error
}

// Aggregator compiles a submission once and runs its testcases in order.
type Aggregator struct {
	runner   sandbox.SandboxRunner
	reporter StatusReporter
}

// NewAggregator creates an aggregator over runner.
func NewAggregator(runner sandbox.SandboxRunner) *Aggregator {
	return &Aggregator{runner: runner}
}

// SetStatusReporter injects a reporter for intermediate updates.
func (a *Aggregator) SetStatusReporter(reporter StatusReporter) {
	a.reporter = reporter
}

// Judge evaluates sub inside ws. A returned error is an infrastructure
// failure; judging outcomes, CE included, come back as a FINISHED result.
func (a *Aggregator) Judge(ctx context.Context, ws *workspace.Workspace, lang language.Language, sub model.Submission) (result.JudgeResult, error) {
	if a.runner == nil {
		return result.JudgeResult{}, appErr.New(appErr.JudgeSystemError).WithMessage("sandbox runner is not initialized")
	}
	if len(sub.Testcases) == 0 {
		return result.JudgeResult{}, appErr.ValidationError("testcases", "at least one testcase is required")
	}

	receivedAt := time.Now().Unix()
	res := result.JudgeResult{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		Language:     lang.ID,
		Status:       result.StatusRunning,
		Verdict:      result.VerdictPending,
		Progress:     result.Progress{TotalTests: len(sub.Testcases)},
		Timestamps:   result.Timestamps{ReceivedAt: receivedAt},
	}

	if err := ws.Write(lang.SourceFile, []byte(sub.SourceCode)); err != nil {
		return res, err
	}

	a.report(ctx, res, result.StatusCompiling)
	if err := a.runner.Compile(ctx, ws, lang); err != nil {
		var ce *sandbox.CompileError
		if !errors.As(err, &ce) {
			return res, err
		}
		logger.Info(ctx, "compilation failed", zap.Int("exit_code", ce.ExitCode), zap.Bool("timed_out", ce.TimedOut))
		res.Status = result.StatusFinished
		res.Verdict = result.VerdictCE
		res.CompileOutput = ce.Output
		res.Timestamps.FinishedAt = time.Now().Unix()
		return res, nil
	}

	res.Tests = make([]result.TestcaseResult, 0, len(sub.Testcases))
	a.report(ctx, res, result.StatusRunning)
	for i, tc := range sub.Testcases {
		exec, err := a.runner.Execute(ctx, ws, lang, tc, sub.Constraints)
		if err != nil {
			return res, err
		}
		v := testcaseVerdict(exec, tc.ExpectedOutput)
		res.Tests = append(res.Tests, result.TestcaseResult{
			Index:           i,
			Verdict:         v,
			DurationMs:      exec.DurationMs,
			ExitCode:        exec.ExitCode,
			OutputTruncated: exec.OutputTruncated,
		})
		res.DurationMs += exec.DurationMs
		res.Progress.DoneTests++
		a.report(ctx, res, result.StatusRunning)

		if v != result.VerdictAC {
			idx := i
			res.Verdict = v
			res.FailingTestcaseIndex = &idx
			break
		}
	}
	if res.FailingTestcaseIndex == nil {
		res.Verdict = result.VerdictAC
	}
	res.Status = result.StatusFinished
	res.Timestamps.FinishedAt = time.Now().Unix()
	return res, nil
}

func (a *Aggregator) report(ctx context.Context, res result.JudgeResult, status result.JudgeStatus) {
	if a.reporter == nil {
		return
	}
	err := a.reporter.ReportStatus(ctx, StatusUpdate{
		SubmissionID: res.SubmissionID,
		Language:     res.Language,
		Status:       status,
		TotalTests:   res.Progress.TotalTests,
		DoneTests:    res.Progress.DoneTests,
		ReceivedAt:   res.Timestamps.ReceivedAt,
	})
	if err != nil {
		logger.Warn(ctx, "report intermediate status failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func testcaseVerdict(exec result.ExecutionResult, expected string) result.Verdict {
	if exec.Outcome != result.OutcomeSuccess {
		return exec.Outcome.Verdict()
	}
	if exec.OutputTruncated {
		// Longer than any answer that could match.
		return result.VerdictWA
	}
	if OutputMatches(exec.Stdout, expected) {
		return result.VerdictAC
	}
	return result.VerdictWA
}

// OutputMatches compares program output with the expected answer, ignoring
// trailing whitespace only.
func OutputMatches(actual, expected string) bool {
	return strings.TrimRight(actual, trailingSpace) == strings.TrimRight(expected, trailingSpace)
}
