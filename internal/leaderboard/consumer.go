package leaderboard

import (
	"context"
	"encoding/json"

	"judgeline/internal/common/mq"
	"judgeline/internal/judge/model"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/contextkey"
	"judgeline/pkg/utils/logger"

	"go.uber.org/zap"
)

const traceHeader = "x-trace-id"

// Consumer applies leaderboard events from the queue to the engine.
type Consumer struct {
	engine *Engine
}

// NewConsumer creates a consumer.
func NewConsumer(engine *Engine) *Consumer {
	return &Consumer{engine: engine}
}

// HandleMessage applies one event. Events that can never be applied are
// logged and acknowledged; cache failures are returned for redelivery.
func (c *Consumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return nil
	}
	if traceID, ok := msg.GetHeader(traceHeader); ok {
		ctx = contextkey.WithTraceID(ctx, traceID)
	}
	var event model.LeaderboardEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.Warn(ctx, "dropping malformed leaderboard event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	if err := event.Validate(); err != nil {
		logger.Warn(ctx, "dropping invalid leaderboard event", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	ctx = contextkey.WithContestID(ctx, event.ContestID)

	err := c.engine.Update(ctx, event.ContestID, event.UserID, event.Score, event.TimeTakenInMs)
	if err != nil {
		if appErr.IsInfrastructure(err) {
			return err
		}
		logger.Warn(ctx, "dropping unrankable leaderboard event", zap.String("user_id", event.UserID), zap.Int64("score", event.Score), zap.Int64("time_taken_ms", event.TimeTakenInMs), zap.Error(err))
		return nil
	}
	logger.Debug(ctx, "leaderboard updated", zap.String("user_id", event.UserID), zap.Int64("score", event.Score), zap.Int64("time_taken_ms", event.TimeTakenInMs))
	return nil
}
