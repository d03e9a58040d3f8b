package workflow

import (
	"context"

	"github.com/mmdatafocus/bilan_backend/config"
	"github.com/mmdatafocus/bilan_backend/utils"
	"github.com/sirupsen/logrus"
)

// Notifier delivers an executed automation action to its recipient.
type Notifier interface {
	Notify(ctx context.Context, action AutomationAction) error
}

// PubSubNotifier publishes to NOTIFICATIONS_TOPIC; subscribers own the actual delivery channel.
type PubSubNotifier struct {
	logger  *logrus.Logger
	publish func(ctx context.Context, msg config.NotificationMessage) (string, error)
}

func NewPubSubNotifier(logger *logrus.Logger) *PubSubNotifier {
	return &PubSubNotifier{logger: logger, publish: config.PublishNotificationWithResult}
}

func (n *PubSubNotifier) Notify(ctx context.Context, action AutomationAction) error {
	correlationID, _ := utils.GetCorrelationIdFromContext(ctx)
	msg := config.NotificationMessage{
		IdempotencyKey: action.Key(),
		CaseId:         action.CaseId,
		ActionKind:     string(action.Kind),
		Priority:       string(action.Priority),
		Recipient:      string(action.Recipient),
		Message:        action.Message,
		RequiredAction: action.RequiredAction,
		ActionRequired: action.ActionRequired,
		GeneratedAt:    action.GeneratedAt,
		CorrelationId:  correlationID,
	}
	id, err := n.publish(ctx, msg)
	if err != nil {
		return err
	}
	n.logger.WithFields(logrus.Fields{
		"module":     "workflow",
		"funcName":   "Notify",
		"case_id":    action.CaseId,
		"action":     action.Kind,
		"message_id": id,
	}).Info("notification published")
	return nil
}

// LogNotifier only logs. Used when Pub/Sub is not configured.
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, action AutomationAction) error {
	n.logger.WithFields(logrus.Fields{
		"module":    "workflow",
		"funcName":  "Notify",
		"case_id":   action.CaseId,
		"action":    action.Kind,
		"recipient": action.Recipient,
		"priority":  action.Priority,
	}).Info(action.Message)
	return nil
}
