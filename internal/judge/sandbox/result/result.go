// Package result defines sandbox execution results and judge verdicts.
package result

// JudgeStatus represents the lifecycle state of a submission.
type JudgeStatus string

const (
	StatusPending   JudgeStatus = "PENDING"
	StatusCompiling JudgeStatus = "COMPILING"
	StatusRunning   JudgeStatus = "RUNNING"
	StatusFinished  JudgeStatus = "FINISHED"
	StatusFailed    JudgeStatus = "FAILED"
)

// Terminal reports whether no further transitions follow.
func (s JudgeStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Verdict represents the final outcome of a submission or testcase.
type Verdict string

const (
	VerdictPending Verdict = "PENDING"
	VerdictAC      Verdict = "AC"
	VerdictWA      Verdict = "WA"
	VerdictTLE     Verdict = "TLE"
	VerdictMLE     Verdict = "MLE"
	VerdictRE      Verdict = "RE"
	VerdictCE      Verdict = "CE"
)

// Final reports whether v is a judging outcome rather than a placeholder.
func (v Verdict) Final() bool {
	switch v {
	case VerdictAC, VerdictWA, VerdictTLE, VerdictMLE, VerdictRE, VerdictCE:
		return true
	}
	return false
}

// Outcome is the classification of a single sandboxed run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "Success"
	OutcomeTimedOut       Outcome = "TimedOut"
	OutcomeMemoryExceeded Outcome = "MemoryExceeded"
	OutcomeRuntimeError   Outcome = "RuntimeError"
)

// Verdict maps a non-success run outcome to its verdict.
// Success maps to PENDING since it still needs output comparison.
func (o Outcome) Verdict() Verdict {
	switch o {
	case OutcomeTimedOut:
		return VerdictTLE
	case OutcomeMemoryExceeded:
		return VerdictMLE
	case OutcomeRuntimeError:
		return VerdictRE
	}
	return VerdictPending
}

// ExecutionResult captures one sandboxed run of the program.
type ExecutionResult struct {
	Stdout string
	Stderr string
	// OutputTruncated is set when stdout outgrew the capture, which is sized
	// to fit any answer that could match.
	OutputTruncated bool
	DurationMs      int64
	ExitCode        int
	Outcome         Outcome
}

// TestcaseResult contains per-testcase execution outcomes.
type TestcaseResult struct {
	Index           int     `json:"index"`
	Verdict         Verdict `json:"verdict"`
	DurationMs      int64   `json:"durationMs"`
	ExitCode        int     `json:"exitCode"`
	OutputTruncated bool    `json:"outputTruncated,omitempty"`
}

// Timestamps captures submission lifecycle timestamps in unix seconds.
type Timestamps struct {
	ReceivedAt int64 `json:"receivedAt,omitempty"`
	FinishedAt int64 `json:"finishedAt,omitempty"`
}

// Progress tracks how many testcases have been executed.
type Progress struct {
	TotalTests int `json:"totalTests"`
	DoneTests  int `json:"doneTests"`
}

// JudgeResult is the unified status record of a submission.
type JudgeResult struct {
	SubmissionID         string           `json:"submissionId"`
	UserID               string           `json:"userId,omitempty"`
	ContestID            string           `json:"contestId,omitempty"`
	Language             string           `json:"language,omitempty"`
	Status               JudgeStatus      `json:"status"`
	Verdict              Verdict          `json:"verdict,omitempty"`
	FailingTestcaseIndex *int             `json:"failingTestcaseIndex,omitempty"`
	DurationMs           int64            `json:"durationMs"`
	CompileOutput        string           `json:"compileOutput,omitempty"`
	Tests                []TestcaseResult `json:"tests,omitempty"`
	Progress             Progress         `json:"progress"`
	ErrorCode            int              `json:"errorCode,omitempty"`
	ErrorMessage         string           `json:"errorMessage,omitempty"`
	Timestamps           Timestamps       `json:"timestamps"`
}
