package notification

import (
	"go.uber.org/zap"

	"campusdesk.io/notify/internal/pkg/logger"
)

// LogAlerter writes alerts to the structured log. Used when no interactive
// UI is attached.
type LogAlerter struct{}

// ShowToast logs the toast.
func (LogAlerter) ShowToast(t Toast) {
	fields := []zap.Field{
		zap.String("title", t.Title),
		zap.String("body", t.Body),
	}
	if t.NotificationID != "" {
		fields = append(fields, zap.String("notification_id", string(t.NotificationID)))
	}
	if t.Level == LevelError {
		logger.Warn("alert", fields...)
		return
	}
	logger.Info("notification", fields...)
}

// ShowBanner logs the banner.
func (LogAlerter) ShowBanner(b Banner) {
	logger.Warn(b.Message, zap.String("banner", b.Key))
}

// ClearBanner logs the banner removal.
func (LogAlerter) ClearBanner(key string) {
	logger.Info("banner cleared", zap.String("banner", key))
}

var _ Alerter = LogAlerter{}
