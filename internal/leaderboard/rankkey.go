package leaderboard

import (
	appErr "judgeline/pkg/errors"
)

const (
	// Scale must exceed every time-taken value. 10^9 ms is about 11.6 days,
	// longer than any contest the judge hosts.
	Scale int64 = 1_000_000_000

	// MaxScore keeps |key| <= 2^53 so the key survives the float64 score
	// of a Redis sorted set without rounding.
	MaxScore int64 = (1 << 53) / Scale
)

// EncodeKey folds score and time into one sortable key: a higher score wins,
// and for equal scores the smaller time wins.
func EncodeKey(score, timeTakenMs int64) (int64, error) {
	if score < 0 {
		return 0, appErr.ValidationError("score", "must not be negative")
	}
	if timeTakenMs < 0 || timeTakenMs >= Scale {
		return 0, appErr.Newf(appErr.RankKeyOverflow, "timeTakenMs must be in [0, %d)", Scale)
	}
	if score > MaxScore {
		return 0, appErr.Newf(appErr.RankKeyOverflow, "score must not exceed %d", MaxScore)
	}
	return score*Scale - timeTakenMs, nil
}

// DecodeKey inverts EncodeKey. Ceiling division is needed because a positive
// time pulls the key just below score*Scale.
func DecodeKey(key int64) (score, timeTakenMs int64) {
	score = key / Scale
	if key%Scale > 0 {
		score++
	}
	return score, score*Scale - key
}
