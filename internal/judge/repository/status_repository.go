package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgeline/internal/common/cache"
	"judgeline/internal/judge/sandbox/result"
	appErr "judgeline/pkg/errors"
)

const statusKeyPrefix = "judge:status:"

// StatusRepository keeps the latest JudgeResult of each submission in cache.
type StatusRepository struct {
	cache cache.Cache
	TTL   time.Duration
}

// NewStatusRepository creates a new repository.
func NewStatusRepository(cacheClient cache.Cache, ttl time.Duration) *StatusRepository {
	return &StatusRepository{cache: cacheClient, TTL: ttl}
}

// Get returns status by submission id.
func (r *StatusRepository) Get(ctx context.Context, submissionID string) (result.JudgeResult, error) {
	if submissionID == "" {
		return result.JudgeResult{}, appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return result.JudgeResult{}, appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	val, err := r.cache.Get(ctx, statusKeyPrefix+submissionID)
	if err != nil {
		return result.JudgeResult{}, appErr.Wrapf(err, appErr.CacheError, "load status failed")
	}
	if val == "" {
		return result.JudgeResult{}, appErr.New(appErr.SubmissionNotFound).WithMessage("submission status not found")
	}
	var res result.JudgeResult
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return result.JudgeResult{}, appErr.Wrapf(err, appErr.CacheError, "decode status failed")
	}
	return res, nil
}

// Save persists status. A non-terminal update never overwrites a terminal
// record, so a late progress report cannot hide the verdict.
func (r *StatusRepository) Save(ctx context.Context, status result.JudgeResult) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	if r.cache == nil {
		return appErr.New(appErr.CacheError).WithMessage("cache client is not initialized")
	}
	if !status.Status.Terminal() {
		current, err := r.Get(ctx, status.SubmissionID)
		if err == nil && current.Status.Terminal() {
			return nil
		}
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status failed: %w", err)
	}
	if err := r.cache.Set(ctx, statusKeyPrefix+status.SubmissionID, string(data), cache.JitterTTL(r.TTL)); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "store status failed")
	}
	return nil
}
