// Package service consumes submission jobs and drives them through judging.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"judgeline/internal/common/mq"
	"judgeline/internal/common/storage"
	"judgeline/internal/judge/language"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/repository"
	"judgeline/internal/judge/sandbox/result"
	"judgeline/internal/judge/verdict"
	"judgeline/internal/judge/workspace"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/contextkey"
	"judgeline/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultMaxSourceBytes = 256 << 10

// ScoreFunc derives the leaderboard score of a judged submission.
type ScoreFunc func(res result.JudgeResult) int64

// PassedRatioScore awards 100 points scaled by the share of testcases passed
// before the first failure.
func PassedRatioScore(res result.JudgeResult) int64 {
	if res.Progress.TotalTests == 0 {
		return 0
	}
	passed := 0
	for _, tc := range res.Tests {
		if tc.Verdict == result.VerdictAC {
			passed++
		}
	}
	return int64(100 * passed / res.Progress.TotalTests)
}

// Service handles judge jobs.
type Service struct {
	aggregator      *verdict.Aggregator
	languages       language.Registry
	workspaces      *workspace.Manager
	statusRepo      *repository.StatusRepository
	dedupe          *repository.DedupeStore
	publisher       repository.EventPublisher
	queue           mq.MessageQueue
	storage         storage.ObjectStorage
	sourceBucket    string
	maxSourceBytes  int64
	retryTopic      string
	deadLetterTopic string
	retry           RetryPolicy
	claimRefresh    time.Duration
	statusTimeout   time.Duration
	storageTimeout  time.Duration
	score           ScoreFunc
	metrics         *Metrics
}

// Config holds service dependencies and settings.
type Config struct {
	Aggregator      *verdict.Aggregator
	Languages       language.Registry
	Workspaces      *workspace.Manager
	StatusRepo      *repository.StatusRepository
	Dedupe          *repository.DedupeStore
	Publisher       repository.EventPublisher
	Queue           mq.MessageQueue
	Storage         storage.ObjectStorage
	SourceBucket    string
	MaxSourceBytes  int64
	RetryTopic      string
	DeadLetterTopic string
	Retry           RetryPolicy
	// ClaimRefresh is how often a held claim is extended while judging.
	// Defaults to a third of the dedupe claim TTL.
	ClaimRefresh    time.Duration
	StatusTimeout   time.Duration
	StorageTimeout  time.Duration
	Score           ScoreFunc
	Metrics         *Metrics
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Aggregator == nil:
		return nil, fmt.Errorf("aggregator is required")
	case cfg.Languages == nil:
		return nil, fmt.Errorf("language registry is required")
	case cfg.Workspaces == nil:
		return nil, fmt.Errorf("workspace manager is required")
	case cfg.StatusRepo == nil:
		return nil, fmt.Errorf("status repository is required")
	case cfg.Dedupe == nil:
		return nil, fmt.Errorf("dedupe store is required")
	case cfg.Publisher == nil:
		return nil, fmt.Errorf("event publisher is required")
	case cfg.Queue == nil:
		return nil, fmt.Errorf("message queue is required")
	}
	cfg.Retry.setDefaults()
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.Score == nil {
		cfg.Score = PassedRatioScore
	}
	if cfg.ClaimRefresh <= 0 {
		cfg.ClaimRefresh = cfg.Dedupe.ClaimTTL / 3
	}
	s := &Service{
		aggregator:      cfg.Aggregator,
		languages:       cfg.Languages,
		workspaces:      cfg.Workspaces,
		statusRepo:      cfg.StatusRepo,
		dedupe:          cfg.Dedupe,
		publisher:       cfg.Publisher,
		queue:           cfg.Queue,
		storage:         cfg.Storage,
		sourceBucket:    cfg.SourceBucket,
		maxSourceBytes:  cfg.MaxSourceBytes,
		retryTopic:      cfg.RetryTopic,
		deadLetterTopic: cfg.DeadLetterTopic,
		retry:           cfg.Retry,
		claimRefresh:    cfg.ClaimRefresh,
		statusTimeout:   cfg.StatusTimeout,
		storageTimeout:  cfg.StorageTimeout,
		score:           cfg.Score,
		metrics:         cfg.Metrics,
	}
	s.aggregator.SetStatusReporter(s)
	return s, nil
}

// HandleMessage processes one submission job. It returns nil whenever the
// message may be acknowledged, including poison messages and jobs scheduled
// for retry or deferred behind another worker's claim; an error means the job
// could not be settled or rescheduled.
func (s *Service) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	ctx = messageContext(ctx, msg)

	var sub model.Submission
	if err := json.Unmarshal(msg.Body, &sub); err != nil {
		s.metrics.skip("malformed")
		logger.Warn(ctx, "dropping malformed submission message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = contextkey.WithSubmissionID(ctx, sub.ID)
	if sub.ContestID != "" {
		ctx = contextkey.WithContestID(ctx, sub.ContestID)
	}
	if err := sub.Validate(); err != nil {
		s.metrics.skip("invalid")
		logger.Warn(ctx, "dropping invalid submission", zap.String("message_id", msg.ID), zap.Error(err))
		if sub.ID != "" {
			return s.reject(ctx, sub, err)
		}
		return nil
	}

	done, err := s.dedupe.Done(ctx, sub.ID)
	if err != nil {
		return s.handleInfraFailure(ctx, msg, sub, err)
	}
	if done {
		s.metrics.skip("duplicate")
		logger.Info(ctx, "submission already judged, skipping redelivery")
		return nil
	}
	token := uuid.NewString()
	claimed, err := s.dedupe.Claim(ctx, sub.ID, token)
	if err != nil {
		return s.handleInfraFailure(ctx, msg, sub, err)
	}
	if !claimed {
		s.metrics.skip("in_progress")
		return s.postpone(ctx, msg)
	}
	stopRefresh := s.keepClaim(ctx, sub.ID, token)
	defer func() {
		stopRefresh()
		if err := s.dedupe.Release(context.WithoutCancel(ctx), sub.ID, token); err != nil {
			logger.Warn(ctx, "release claim failed", zap.Error(err))
		}
	}()

	attempt := ParseAttempt(msg.Headers)
	logger.Info(ctx, "judging submission", zap.String("language", sub.Language), zap.Int("testcases", len(sub.Testcases)), zap.Int("attempt", attempt))

	if err := s.persistStatus(ctx, result.JudgeResult{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		Language:     sub.Language,
		Status:       result.StatusPending,
		Progress:     result.Progress{TotalTests: len(sub.Testcases)},
		Timestamps:   result.Timestamps{ReceivedAt: time.Now().Unix()},
	}); err != nil {
		return s.handleInfraFailure(ctx, msg, sub, err)
	}

	res, err := s.judge(ctx, sub)
	if err != nil {
		if appErr.IsInfrastructure(err) {
			return s.handleInfraFailure(ctx, msg, sub, err)
		}
		return s.reject(ctx, sub, err)
	}

	if err := s.settle(ctx, sub, res); err != nil {
		return s.handleInfraFailure(ctx, msg, sub, err)
	}
	s.metrics.verdict(sub.Language, string(res.Verdict))
	logger.Info(ctx, "submission judged", zap.String("verdict", string(res.Verdict)), zap.Int64("duration_ms", res.DurationMs))
	return nil
}

// HandleExpired settles a job that waited in the queue past its TTL. The job
// is kept on the dead-letter topic and reported FAILED so the submitter can
// resubmit; it is never judged.
func (s *Service) HandleExpired(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	ctx = messageContext(ctx, msg)

	var sub model.Submission
	if err := json.Unmarshal(msg.Body, &sub); err != nil || sub.ID == "" {
		s.metrics.skip("malformed")
		logger.Warn(ctx, "dropping malformed expired message", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = contextkey.WithSubmissionID(ctx, sub.ID)

	done, err := s.dedupe.Done(ctx, sub.ID)
	if err != nil {
		return err
	}
	if done {
		s.metrics.skip("duplicate")
		return nil
	}
	s.metrics.skip("expired")
	logger.Warn(ctx, "submission expired before judging", zap.Time("enqueued_at", msg.Timestamp), zap.Duration("ttl", msg.Expiration))

	if s.deadLetterTopic != "" {
		if err := s.queue.Publish(ctx, s.deadLetterTopic, msg.Clone()); err != nil {
			return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish dead letter failed")
		}
		s.metrics.deadLettered()
	}
	if err := s.reject(ctx, sub, appErr.New(appErr.SubmissionExpired)); err != nil {
		return err
	}
	// A retry copy still in flight must not judge over the FAILED record.
	if err := s.dedupe.MarkDone(ctx, sub.ID); err != nil {
		logger.Warn(ctx, "mark expired submission done failed", zap.Error(err))
	}
	return nil
}

func messageContext(ctx context.Context, msg *mq.Message) context.Context {
	traceID, _ := msg.GetHeader(repository.TraceHeader)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return contextkey.WithTraceID(ctx, traceID)
}

// keepClaim refreshes the claim until the returned stop func is called. A
// lapsed claim is only logged: the result is still settled, and the done
// marker stops any worker that has not started yet.
func (s *Service) keepClaim(ctx context.Context, submissionID, token string) (stop func()) {
	interval := s.claimRefresh
	if interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ok, err := s.dedupe.Extend(ctx, submissionID, token)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				logger.Warn(ctx, "refresh claim failed", zap.Error(err))
			case !ok:
				logger.Warn(ctx, "claim lapsed while judging")
				return
			}
		}
	}()
	return func() {
		cancel()
		<-finished
	}
}

func (s *Service) judge(ctx context.Context, sub model.Submission) (result.JudgeResult, error) {
	lang, err := s.languages.Get(sub.Language)
	if err != nil {
		return result.JudgeResult{}, err
	}
	if sub.SourceCode == "" {
		code, err := s.fetchSource(ctx, sub.SourceKey)
		if err != nil {
			return result.JudgeResult{}, err
		}
		sub.SourceCode = code
	}
	if int64(len(sub.SourceCode)) > s.maxSourceBytes {
		return result.JudgeResult{}, appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxSourceBytes)
	}

	var res result.JudgeResult
	err = s.workspaces.With(ctx, func(ctx context.Context, ws *workspace.Workspace) error {
		var judgeErr error
		res, judgeErr = s.aggregator.Judge(ctx, ws, lang, sub)
		return judgeErr
	})
	return res, err
}

func (s *Service) fetchSource(ctx context.Context, key string) (string, error) {
	if s.storage == nil || s.sourceBucket == "" {
		return "", appErr.New(appErr.StorageError).WithMessage("object storage is not configured")
	}
	if s.storageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.storageTimeout)
		defer cancel()
	}
	stat, err := s.storage.StatObject(ctx, s.sourceBucket, key)
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return "", appErr.Newf(appErr.NotFound, "source object %s not found", key)
	case err != nil:
		return "", appErr.Wrapf(err, appErr.StorageError, "stat source failed")
	case stat.SizeBytes > s.maxSourceBytes:
		return "", appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxSourceBytes)
	}
	data, err := storage.ReadAll(ctx, s.storage, s.sourceBucket, key, s.maxSourceBytes)
	switch {
	case errors.Is(err, storage.ErrObjectTooLarge):
		return "", appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxSourceBytes)
	case errors.Is(err, storage.ErrObjectNotFound):
		return "", appErr.Newf(appErr.NotFound, "source object %s not found", key)
	case err != nil:
		return "", appErr.Wrapf(err, appErr.StorageError, "download source failed")
	}
	return string(data), nil
}

// settle records a judged submission and hands it downstream.
func (s *Service) settle(ctx context.Context, sub model.Submission, res result.JudgeResult) error {
	if err := s.persistStatus(ctx, res); err != nil {
		return err
	}
	if err := s.publisher.PublishResult(ctx, res); err != nil {
		return err
	}
	if sub.ContestID != "" && res.Verdict.Final() {
		event := model.LeaderboardEvent{
			ContestID:     sub.ContestID,
			UserID:        sub.UserID,
			Score:         s.score(res),
			TimeTakenInMs: res.DurationMs,
		}
		if err := s.publisher.PublishLeaderboard(ctx, event); err != nil {
			return err
		}
	}
	return s.dedupe.MarkDone(ctx, sub.ID)
}

// reject settles a job that can never be judged, without retrying it.
func (s *Service) reject(ctx context.Context, sub model.Submission, cause error) error {
	code := appErr.GetCode(cause)
	failed := result.JudgeResult{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		Language:     sub.Language,
		Status:       result.StatusFailed,
		ErrorCode:    int(code),
		ErrorMessage: cause.Error(),
		Timestamps:   result.Timestamps{FinishedAt: time.Now().Unix()},
	}
	if err := s.persistStatus(ctx, failed); err != nil {
		logger.Warn(ctx, "update rejected status failed", zap.Error(err))
	}
	if err := s.publisher.PublishResult(ctx, failed); err != nil {
		logger.Warn(ctx, "publish rejected result failed", zap.Error(err))
	}
	return nil
}

// handleInfraFailure retries the job or, once retries are exhausted,
// dead-letters it and reports it as FAILED. The submitter never sees RE for
// a platform fault.
func (s *Service) handleInfraFailure(ctx context.Context, msg *mq.Message, sub model.Submission, cause error) error {
	code := appErr.GetCode(cause)
	s.metrics.infra(strconv.Itoa(int(code)))
	attempt := ParseAttempt(msg.Headers)
	logger.Error(ctx, "judge attempt failed", zap.Int("attempt", attempt), zap.Int("error_code", int(code)), zap.Error(cause))
	if ctx.Err() != nil {
		// Shutting down; leave the message for redelivery.
		return cause
	}

	deadLettered, err := s.republish(ctx, msg, attempt)
	if err != nil {
		return err
	}
	if !deadLettered {
		s.metrics.retried()
		return nil
	}

	s.metrics.deadLettered()
	failed := result.JudgeResult{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ContestID:    sub.ContestID,
		Language:     sub.Language,
		Status:       result.StatusFailed,
		ErrorCode:    int(appErr.RetryExhausted),
		ErrorMessage: appErr.RetryExhausted.Message(),
		Timestamps:   result.Timestamps{FinishedAt: time.Now().Unix()},
	}
	if err := s.persistStatus(ctx, failed); err != nil {
		logger.Warn(ctx, "update failed status failed", zap.Error(err))
	}
	if err := s.publisher.PublishResult(ctx, failed); err != nil {
		logger.Warn(ctx, "publish failed result failed", zap.Error(err))
	}
	return nil
}
