package service

import (
	"context"
	"strconv"
	"time"

	"judgeline/internal/common/mq"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	// AttemptHeader counts how many times a job was republished after an
	// infrastructure failure.
	AttemptHeader = "x-judge-attempt"
	// DeferHeader counts how many times a job was put back because another
	// worker held its claim. Deferrals do not spend the retry budget.
	DeferHeader = "x-judge-deferred"
)

// RetryPolicy bounds job-level retries of infrastructure failures.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt, so 3 means two retries.
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
}

func (p *RetryPolicy) setDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
}

// Exhausted reports whether no retry remains after the given completed attempt.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt+1 >= p.MaxAttempts
}

// Backoff returns the delay before republishing the attempt-th retry.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return ComputeBackoff(attempt, p.BaseDelay, p.MaxDelay)
}

// ParseAttempt reads the zero-based attempt number from headers.
func ParseAttempt(headers map[string]string) int {
	return parseCount(headers, AttemptHeader)
}

// ParseDeferrals reads how many times the job was deferred.
func ParseDeferrals(headers map[string]string) int {
	return parseCount(headers, DeferHeader)
}

func parseCount(headers map[string]string, key string) int {
	if headers == nil {
		return 0
	}
	raw, ok := headers[key]
	if !ok {
		return 0
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

// CloneMessageForRetry copies msg with a fresh timestamp and the attempt header.
func CloneMessageForRetry(msg *mq.Message, attempt int) *mq.Message {
	out := msg.Clone()
	out.Timestamp = time.Now()
	out.RetryCount = 0
	out.SetHeader(AttemptHeader, strconv.Itoa(attempt))
	return out
}

// ComputeBackoff doubles base per attempt, capped at max.
func ComputeBackoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		if max > 0 && delay > max/2 {
			return max
		}
		delay *= 2
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// republish schedules the next attempt on the retry topic, or moves the job
// to the dead-letter topic once the policy is exhausted. It reports whether
// the job was dead-lettered.
func (s *Service) republish(ctx context.Context, msg *mq.Message, attempt int) (bool, error) {
	if s.queue == nil || s.retryTopic == "" {
		return false, appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	if s.retry.Exhausted(attempt) {
		if s.deadLetterTopic == "" {
			logger.Warn(ctx, "retries exhausted without dead letter topic", zap.Int("attempt", attempt), zap.String("message_id", msg.ID))
			return true, nil
		}
		logger.Warn(ctx, "retries exhausted, sending to dead letter", zap.Int("attempt", attempt), zap.String("message_id", msg.ID), zap.String("topic", s.deadLetterTopic))
		if err := s.queue.Publish(ctx, s.deadLetterTopic, CloneMessageForRetry(msg, attempt)); err != nil {
			return false, appErr.Wrapf(err, appErr.ServiceUnavailable, "publish dead letter failed")
		}
		return true, nil
	}

	delay := s.retry.Backoff(attempt)
	if err := sleep(ctx, delay); err != nil {
		logger.Warn(ctx, "retry canceled during backoff", zap.Int("attempt", attempt), zap.String("message_id", msg.ID), zap.Duration("delay", delay))
		return false, err
	}
	logger.Info(ctx, "requeue after infrastructure failure", zap.Int("attempt", attempt+1), zap.String("message_id", msg.ID), zap.Duration("delay", delay), zap.String("topic", s.retryTopic))
	if err := s.queue.Publish(ctx, s.retryTopic, CloneMessageForRetry(msg, attempt+1)); err != nil {
		return false, appErr.Wrapf(err, appErr.ServiceUnavailable, "publish retry failed")
	}
	return false, nil
}

// postpone puts a job whose claim is held elsewhere back on the retry topic.
// If the holder crashed, its claim expires and a later delivery judges the
// job; if it finishes, the done marker turns the copy into a no-op.
func (s *Service) postpone(ctx context.Context, msg *mq.Message) error {
	if s.retryTopic == "" {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("retry queue is not configured")
	}
	deferrals := ParseDeferrals(msg.Headers)
	delay := s.retry.Backoff(deferrals)
	if err := sleep(ctx, delay); err != nil {
		return err
	}
	out := CloneMessageForRetry(msg, ParseAttempt(msg.Headers))
	out.SetHeader(DeferHeader, strconv.Itoa(deferrals+1))
	logger.Info(ctx, "submission is claimed by another worker, deferring", zap.Int("deferrals", deferrals+1), zap.Duration("delay", delay), zap.String("topic", s.retryTopic))
	if err := s.queue.Publish(ctx, s.retryTopic, out); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish deferred job failed")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
