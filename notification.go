package pgcdc

import "context"

// NotificationService defines an optional interface for surfacing engine
// events (delivery failures, retry exhaustion) to alerting systems.
//
// Implementations might send emails, Slack messages, or feed monitoring.
type NotificationService interface {
	// NotifyMessagesFailed is called after a drain schedules messages for
	// retry. This is informational and happens on every failed attempt.
	NotifyMessagesFailed(ctx context.Context, ids []int64) error

	// NotifyRetryExhausted is called when messages use up their final
	// retry attempt and become permanently failed.
	NotifyRetryExhausted(ctx context.Context, ids []int64) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyMessagesFailed does nothing.
func (n *NoOpNotificationService) NotifyMessagesFailed(_ context.Context, _ []int64) error {
	return nil
}

// NotifyRetryExhausted does nothing.
func (n *NoOpNotificationService) NotifyRetryExhausted(_ context.Context, _ []int64) error {
	return nil
}

// LoggingNotificationService is a simple implementation that logs
// notifications.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyMessagesFailed logs the ids scheduled for retry.
func (n *LoggingNotificationService) NotifyMessagesFailed(_ context.Context, ids []int64) error {
	n.logger.Warnf("Scheduled %d message(s) for retry: %v", len(ids), ids)
	return nil
}

// NotifyRetryExhausted logs the permanently failed ids.
func (n *LoggingNotificationService) NotifyRetryExhausted(_ context.Context, ids []int64) error {
	n.logger.Errorf("Messages exhausted retries and permanently failed: %v", ids)
	return nil
}
