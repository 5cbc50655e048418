package repository

import (
	"context"
	"time"

	"judgeline/internal/common/cache"
	appErr "judgeline/pkg/errors"
)

const (
	claimKeyPrefix = "judge:claim:"
	doneKeyPrefix  = "judge:done:"
)

// DedupeStore makes at-least-once delivery judge each submission once.
// A claim guards concurrent duplicates; the done marker turns redeliveries
// of finished work into no-ops.
type DedupeStore struct {
	cache    cache.Cache
	ClaimTTL time.Duration
	DoneTTL  time.Duration
}

// NewDedupeStore creates a dedupe store.
func NewDedupeStore(cacheClient cache.Cache, claimTTL, doneTTL time.Duration) *DedupeStore {
	return &DedupeStore{cache: cacheClient, ClaimTTL: claimTTL, DoneTTL: doneTTL}
}

// Done reports whether submissionID already settled.
func (d *DedupeStore) Done(ctx context.Context, submissionID string) (bool, error) {
	n, err := d.cache.Exists(ctx, doneKeyPrefix+submissionID)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "check done marker failed")
	}
	return n > 0, nil
}

// Claim takes the processing claim for submissionID under token.
func (d *DedupeStore) Claim(ctx context.Context, submissionID, token string) (bool, error) {
	ok, err := d.cache.TryLock(ctx, claimKeyPrefix+submissionID, token, d.ClaimTTL)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "claim submission failed")
	}
	return ok, nil
}

// Release drops the claim if token still owns it.
func (d *DedupeStore) Release(ctx context.Context, submissionID, token string) error {
	if _, err := d.cache.Unlock(ctx, claimKeyPrefix+submissionID, token); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "release claim failed")
	}
	return nil
}

// MarkDone records that submissionID settled.
func (d *DedupeStore) MarkDone(ctx context.Context, submissionID string) error {
	if err := d.cache.Set(ctx, doneKeyPrefix+submissionID, "1", d.DoneTTL); err != nil {
		return appErr.Wrapf(err, appErr.CacheSetFailed, "mark submission done failed")
	}
	return nil
}

// Extend resets the claim TTL if token still owns it. False means the claim
// lapsed and another worker may have taken the job.
func (d *DedupeStore) Extend(ctx context.Context, submissionID, token string) (bool, error) {
	ok, err := d.cache.ExtendLock(ctx, claimKeyPrefix+submissionID, token, d.ClaimTTL)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "extend claim failed")
	}
	return ok, nil
}
