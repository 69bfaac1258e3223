package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/account-hierarchy/internal/domain"
)

type auditRepository struct {
	db DBTX
}

// NewAuditRepository builds repository.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_log (action, target_user_id, performed_by, description, details)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`

	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	if err := r.db.QueryRow(ctx, query,
		string(entry.Action),
		entry.TargetUserID,
		entry.PerformedBy,
		entry.Description,
		details,
	).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
