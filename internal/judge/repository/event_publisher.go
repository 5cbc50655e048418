package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"judgeline/internal/common/mq"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/sandbox/result"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/contextkey"
)

// TraceHeader carries the trace id across topics.
const TraceHeader = "x-trace-id"

// EventPublisher publishes settled submissions downstream.
type EventPublisher interface {
	PublishResult(ctx context.Context, status result.JudgeResult) error
	PublishLeaderboard(ctx context.Context, event model.LeaderboardEvent) error
}

// MQEventPublisher publishes result and leaderboard events to a message queue.
type MQEventPublisher struct {
	queue            mq.MessageQueue
	resultTopic      string
	leaderboardTopic string
}

// NewMQEventPublisher creates a new MQ event publisher.
func NewMQEventPublisher(queue mq.MessageQueue, resultTopic, leaderboardTopic string) *MQEventPublisher {
	return &MQEventPublisher{queue: queue, resultTopic: resultTopic, leaderboardTopic: leaderboardTopic}
}

// PublishResult publishes the final outcome of a submission, keyed by its id.
func (p *MQEventPublisher) PublishResult(ctx context.Context, status result.JudgeResult) error {
	if status.SubmissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	event := model.ResultEvent{
		SubmissionID:         status.SubmissionID,
		UserID:               status.UserID,
		ContestID:            status.ContestID,
		Status:               status.Status,
		FailingTestcaseIndex: status.FailingTestcaseIndex,
		DurationMs:           status.DurationMs,
		ErrorMessage:         status.ErrorMessage,
		CreatedAt:            time.Now().Unix(),
	}
	if status.Verdict.Final() {
		event.Verdict = status.Verdict
	}
	return p.publish(ctx, p.resultTopic, status.SubmissionID, event)
}

// PublishLeaderboard publishes a score update, keyed by contest and user so
// updates for one entry stay ordered on a partition.
func (p *MQEventPublisher) PublishLeaderboard(ctx context.Context, event model.LeaderboardEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	return p.publish(ctx, p.leaderboardTopic, event.ContestID+":"+event.UserID, event)
}

func (p *MQEventPublisher) publish(ctx context.Context, topic, id string, event any) error {
	if p == nil || p.queue == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("event publisher is not configured")
	}
	if topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("event topic is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}
	message := mq.NewMessage(id, payload)
	if traceID := contextkey.String(ctx, contextkey.TraceID); traceID != "" {
		message.SetHeader(TraceHeader, traceID)
	}
	if err := p.queue.Publish(ctx, topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish event to %s failed", topic)
	}
	return nil
}
