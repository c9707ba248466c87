package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fraudshield/scoring-engine/internal/models"
)

// AuditRepository records feedback submissions and admin actions.
type AuditRepository struct {
	db *Database
}

func NewAuditRepository(db *Database) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, entry *models.AuditLog) error {
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	payload, _ := entry.Payload.Value()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, event_type, entity_id, entity_type, client_id, action, payload, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.ID, entry.EventType, entry.EntityID, entry.EntityType,
		entry.ClientID, entry.Action, payload, entry.RequestID, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

// ListRecent returns the latest audit entries for one event type.
func (r *AuditRepository) ListRecent(ctx context.Context, eventType string, limit int) ([]*models.AuditLog, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, event_type, entity_id, entity_type, client_id, action, payload, request_id, created_at
		FROM audit_logs
		WHERE event_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditLog
	for rows.Next() {
		var e models.AuditLog
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.EntityID, &e.EntityType,
			&e.ClientID, &e.Action, &e.Payload, &e.RequestID, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
