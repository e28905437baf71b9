package activity

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/model"
)

type logSink struct{}

func createLogSink(_ SinkDeps) (Sink, error) {
	return logSink{}, nil
}

func (logSink) Write(ctx context.Context, entry *model.ActivityLog) error {
	fields := []zap.Field{
		zap.String("id", entry.ID),
		zap.String("action", entry.Action),
		zap.Any("metadata", entry.Metadata),
		zap.Int64("created_at", entry.CreatedAt),
	}
	if entry.UserID != nil {
		fields = append(fields, zap.Int64("user_id", *entry.UserID))
	}
	logutil.GetLogger(ctx).Info("activity", fields...)
	return nil
}
