package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/account-hierarchy/internal/events"
	apperrors "github.com/spec-kit/account-hierarchy/pkg/util"
)

// outcomeOf maps an operation result onto a metrics label.
func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	switch apperrors.ToDomainError(err).Code {
	case apperrors.CodeForbidden:
		return "forbidden"
	case apperrors.CodeInvalidState:
		return "invalid_state"
	case apperrors.CodeNotFound:
		return "not_found"
	case apperrors.CodeInvalidRecoveryKey:
		return "rejected"
	case apperrors.CodeTooManyAttempts:
		return "throttled"
	default:
		return "error"
	}
}

// publish emits a committed change. Handler failures are logged, never returned:
// the mutation is already durable.
func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func strPtr(s string) *string { return &s }
