package sandbox

import "judgeline/internal/judge/sandbox/result"

// Signals are the raw observations of one finished run.
type Signals struct {
	ExitCode          int
	Signal            int
	WallClockExceeded bool
	OOMKilled         bool
}

// Classify maps run signals to an outcome. Time beats memory beats crash.
func Classify(s Signals) result.Outcome {
	switch {
	case s.WallClockExceeded:
		return result.OutcomeTimedOut
	case s.OOMKilled:
		return result.OutcomeMemoryExceeded
	case s.ExitCode != 0 || s.Signal != 0:
		return result.OutcomeRuntimeError
	default:
		return result.OutcomeSuccess
	}
}

const (
	exitTimeout = 124 // coreutils timeout after TERM
	exitKilled  = 137 // 128 + SIGKILL
)

// wallClockExceeded decides whether a run counts as a time-out: the outer
// supervisor fired, the run took longer than the limit, or the inner timeout
// fired once the limit was reached.
func wallClockExceeded(supervisorFired bool, exitCode int, elapsedMs, limitMs int64) bool {
	if supervisorFired || elapsedMs > limitMs {
		return true
	}
	return (exitCode == exitTimeout || exitCode == exitKilled) && elapsedMs >= limitMs
}

// signalFromExit recovers the terminating signal from a shell-style exit status.
func signalFromExit(exitCode int) int {
	if exitCode > 128 && exitCode < 160 {
		return exitCode - 128
	}
	return 0
}
