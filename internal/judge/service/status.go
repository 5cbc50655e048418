package service

import (
	"context"

	"judgeline/internal/judge/sandbox/result"
	"judgeline/internal/judge/verdict"
	"judgeline/pkg/utils/logger"

	"go.uber.org/zap"
)

var _ verdict.StatusReporter = (*Service)(nil)

func (s *Service) persistStatus(ctx context.Context, status result.JudgeResult) error {
	ctxStatus := ctx
	if s.statusTimeout > 0 {
		var cancel context.CancelFunc
		ctxStatus, cancel = context.WithTimeout(ctx, s.statusTimeout)
		defer cancel()
	}
	return s.statusRepo.Save(ctxStatus, status)
}

// ReportStatus updates intermediate judge status in cache.
func (s *Service) ReportStatus(ctx context.Context, update verdict.StatusUpdate) error {
	status := result.JudgeResult{
		SubmissionID: update.SubmissionID,
		Language:     update.Language,
		Status:       update.Status,
		Timestamps:   result.Timestamps{ReceivedAt: update.ReceivedAt},
		Progress: result.Progress{
			TotalTests: update.TotalTests,
			DoneTests:  update.DoneTests,
		},
	}
	if err := s.persistStatus(ctx, status); err != nil {
		logger.Warn(ctx, "update intermediate status failed", zap.Error(err))
		return err
	}
	return nil
}
