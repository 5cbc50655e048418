// Package leaderboard ranks contest participants by score, breaking ties by time.
package leaderboard

import (
	"context"
	"math"
	"strings"

	"judgeline/internal/common/cache"
	appErr "judgeline/pkg/errors"
)

const keyPrefix = "leaderboard:"

// ErrNotRanked is returned when the user has no entry in the contest.
var ErrNotRanked = appErr.New(appErr.NotRanked)

// Entry is one decoded leaderboard row.
type Entry struct {
	Rank        int64  `json:"rank"`
	UserID      string `json:"userId"`
	Score       int64  `json:"score"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

// Engine maintains per-contest rankings in a sorted set.
type Engine struct {
	cache   cache.Cache
	metrics *Metrics
}

// NewEngine creates an engine. metrics may be nil.
func NewEngine(cacheClient cache.Cache, metrics *Metrics) *Engine {
	return &Engine{cache: cacheClient, metrics: metrics}
}

// Key returns the sorted set holding contestID's ranking.
func Key(contestID string) string {
	return keyPrefix + contestID
}

// Update overwrites the user's entry; the last applied update wins.
func (e *Engine) Update(ctx context.Context, contestID, userID string, score, timeTakenMs int64) error {
	if err := validateIDs(contestID, userID); err != nil {
		return err
	}
	key, err := EncodeKey(score, timeTakenMs)
	if err != nil {
		e.metrics.update("rejected")
		return err
	}
	if err := e.cache.ZAdd(ctx, Key(contestID), cache.ZMember{Score: float64(key), Member: userID}); err != nil {
		e.metrics.update("error")
		return appErr.Wrapf(err, appErr.CacheError, "update leaderboard failed")
	}
	e.metrics.update("ok")
	return nil
}

// TopN returns the n best entries, best first, with 1-based ranks.
func (e *Engine) TopN(ctx context.Context, contestID string, n int) ([]Entry, error) {
	if strings.TrimSpace(contestID) == "" {
		return nil, appErr.ValidationError("contestId", "required")
	}
	if n <= 0 {
		return nil, appErr.ValidationError("n", "must be positive")
	}
	members, err := e.cache.ZRevRangeWithScores(ctx, Key(contestID), 0, int64(n-1))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CacheError, "read leaderboard failed")
	}
	entries := make([]Entry, 0, len(members))
	for i, m := range members {
		score, taken := DecodeKey(int64(math.Round(m.Score)))
		entries = append(entries, Entry{
			Rank:        int64(i + 1),
			UserID:      m.Member,
			Score:       score,
			TimeTakenMs: taken,
		})
	}
	return entries, nil
}

// Size returns how many users are ranked in the contest.
func (e *Engine) Size(ctx context.Context, contestID string) (int64, error) {
	if strings.TrimSpace(contestID) == "" {
		return 0, appErr.ValidationError("contestId", "required")
	}
	n, err := e.cache.ZCard(ctx, Key(contestID))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.CacheError, "read leaderboard size failed")
	}
	return n, nil
}

// Rank returns the user's 1-based position, or ErrNotRanked.
func (e *Engine) Rank(ctx context.Context, contestID, userID string) (Entry, error) {
	if err := validateIDs(contestID, userID); err != nil {
		return Entry{}, err
	}
	pos, err := e.cache.ZRevRank(ctx, Key(contestID), userID)
	if err != nil {
		return Entry{}, appErr.Wrapf(err, appErr.CacheError, "read rank failed")
	}
	if pos < 0 {
		return Entry{}, ErrNotRanked
	}
	raw, ok, err := e.cache.ZScore(ctx, Key(contestID), userID)
	if err != nil {
		return Entry{}, appErr.Wrapf(err, appErr.CacheError, "read score failed")
	}
	if !ok {
		// Removed between the two reads.
		return Entry{}, ErrNotRanked
	}
	score, taken := DecodeKey(int64(math.Round(raw)))
	return Entry{Rank: pos + 1, UserID: userID, Score: score, TimeTakenMs: taken}, nil
}

func validateIDs(contestID, userID string) error {
	if strings.TrimSpace(contestID) == "" {
		return appErr.ValidationError("contestId", "required")
	}
	if strings.TrimSpace(userID) == "" {
		return appErr.ValidationError("userId", "required")
	}
	return nil
}
