package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/config"
	"github.com/spec-kit/account-hierarchy/internal/events"
)

// NotificationService emits notifications for committed hierarchy and
// recovery events. Delivery is stubbed to log lines.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, t := range []events.EventType{
		events.EventUserPromoted,
		events.EventUserDemoted,
		events.EventAdminVisibilityChanged,
		events.EventUserActivationChanged,
		events.EventUserDeleted,
	} {
		n.dispatcher.Subscribe(t, n.handleHierarchyChange)
	}
	n.dispatcher.Subscribe(events.EventUserBlocked, n.handleAccessChange)
	n.dispatcher.Subscribe(events.EventUserUnblocked, n.handleAccessChange)
	n.dispatcher.Subscribe(events.EventSecretKeyIssued, n.handleSecretKey)
	n.dispatcher.Subscribe(events.EventSecretKeyRedeemed, n.handleSecretKey)
}

func (n *NotificationService) handleHierarchyChange(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("user_id", event.UserID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleAccessChange(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("user_id", event.UserID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

// handleSecretKey warns the account owner that a recovery key was issued or used.
func (n *NotificationService) handleSecretKey(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type), zap.String("user_id", event.UserID))
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("user_id", event.UserID),
		zap.String("event_type", string(event.Type)))
}
