package errors

import "net/http"

// ErrorCode identifies a failure class.
type ErrorCode int

// Code ranges:
// 10000-10999: common
// 13000-13999: submission and judge
// 14000-14999: leaderboard
//
// 13200-13299 are infrastructure failures. The worker retries them and
// dead-letters the job once the retry budget is spent.
const (
	Success ErrorCode = 10000

	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007

	CacheError     ErrorCode = 10200
	CacheSetFailed ErrorCode = 10202

	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301
	InvalidValue     ErrorCode = 10302

	SubmissionNotFound   ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	SubmissionExpired    ErrorCode = 13004

	JudgeSystemError ErrorCode = 13101

	WorkspaceAllocFailed ErrorCode = 13200
	SandboxUnavailable   ErrorCode = 13201
	StorageError         ErrorCode = 13202
	RetryExhausted       ErrorCode = 13203

	NotRanked       ErrorCode = 14202
	RankKeyOverflow ErrorCode = 14203
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",

	CacheError:     "Cache operation failed",
	CacheSetFailed: "Failed to set cache",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",
	InvalidValue:     "Invalid value",

	SubmissionNotFound:   "Submission not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	SubmissionExpired:    "Submission expired before judging, please resubmit",

	JudgeSystemError: "Judge system error",

	WorkspaceAllocFailed: "Failed to allocate judge workspace",
	SandboxUnavailable:   "Sandbox is unavailable",
	StorageError:         "Object storage operation failed",
	RetryExhausted:       "Evaluation failed, please resubmit",

	NotRanked:       "User is not ranked",
	RankKeyOverflow: "Score or time is outside the rankable range",
}

// Message returns the default message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the code onto a response status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case NotFound, SubmissionNotFound, NotRanked:
		return http.StatusNotFound
	case ServiceUnavailable, SandboxUnavailable:
		return http.StatusServiceUnavailable
	case InvalidParams, ValidationFailed, InvalidFormat, InvalidValue, RankKeyOverflow:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// IsInfrastructure reports whether the code is a system-side failure that is
// retried instead of reported to the submitter.
func (c ErrorCode) IsInfrastructure() bool {
	switch {
	case c >= 13200 && c < 13300:
		return true
	case c == ServiceUnavailable, c == CacheError, c == CacheSetFailed,
		c == JudgeSystemError, c == InternalServerError:
		return true
	}
	return false
}
