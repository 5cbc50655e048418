package model

import (
	"strings"

	"judgeline/internal/judge/sandbox/result"
	appErr "judgeline/pkg/errors"
)

// Testcase is one hidden input with its expected output.
type Testcase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"output"`
}

// Constraints are the resource limits applied to every testcase run.
type Constraints struct {
	TimeLimitMs   int64   `json:"timeLimitMs"`
	MemoryLimitMb int64   `json:"memoryLimitMb"`
	CPULimit      float64 `json:"cpuLimit"`
}

// Submission is the payload consumed from the submission topic.
// It is immutable once enqueued.
type Submission struct {
	ID          string      `json:"submissionId"`
	UserID      string      `json:"userId"`
	ContestID   string      `json:"contestId,omitempty"`
	ProblemID   string      `json:"problemId"`
	Language    string      `json:"language"`
	SourceCode  string      `json:"code,omitempty"`
	SourceKey   string      `json:"sourceKey,omitempty"`
	Testcases   []Testcase  `json:"testcases"`
	Constraints Constraints `json:"constraints"`
}

// Validate checks the fields required to judge the submission.
func (s *Submission) Validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return appErr.ValidationError("submissionId", "required")
	case strings.TrimSpace(s.UserID) == "":
		return appErr.ValidationError("userId", "required")
	case strings.TrimSpace(s.ProblemID) == "":
		return appErr.ValidationError("problemId", "required")
	case strings.TrimSpace(s.Language) == "":
		return appErr.ValidationError("language", "required")
	case s.SourceCode == "" && s.SourceKey == "":
		return appErr.ValidationError("code", "code or sourceKey is required")
	case len(s.Testcases) == 0:
		return appErr.ValidationError("testcases", "at least one testcase is required")
	case s.Constraints.TimeLimitMs <= 0:
		return appErr.ValidationError("constraints.timeLimitMs", "must be positive")
	case s.Constraints.MemoryLimitMb <= 0:
		return appErr.ValidationError("constraints.memoryLimitMb", "must be positive")
	case s.Constraints.CPULimit <= 0:
		return appErr.ValidationError("constraints.cpuLimit", "must be positive")
	}
	return nil
}

// ResultEvent is published to the result topic once a submission settles.
// Verdict is empty for infrastructure failures.
type ResultEvent struct {
	SubmissionID         string             `json:"submissionId"`
	UserID               string             `json:"userId,omitempty"`
	ContestID            string             `json:"contestId,omitempty"`
	Status               result.JudgeStatus `json:"status"`
	Verdict              result.Verdict     `json:"verdict,omitempty"`
	FailingTestcaseIndex *int               `json:"failingTestcaseIndex,omitempty"`
	DurationMs           int64              `json:"durationMs"`
	ErrorMessage         string             `json:"errorMessage,omitempty"`
	CreatedAt            int64              `json:"createdAt"`
}

// LeaderboardEvent carries one score update for a contest ranking.
type LeaderboardEvent struct {
	ContestID     string `json:"contestId"`
	UserID        string `json:"userId"`
	Score         int64  `json:"score"`
	TimeTakenInMs int64  `json:"timeTakenInMs"`
}

// Validate checks the event before it reaches the ranking.
func (e *LeaderboardEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.ContestID) == "":
		return appErr.ValidationError("contestId", "required")
	case strings.TrimSpace(e.UserID) == "":
		return appErr.ValidationError("userId", "required")
	}
	return nil
}
