package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

type auditRepository struct {
	q querier
}

// NewAuditRepository создаёт PostgreSQL-реализацию журнала аудита.
func NewAuditRepository(store *Store) domain.AuditRepository {
	return &auditRepository{q: store.DB()}
}

// Record добавляет запись. UPDATE и DELETE для audit_records не выполняются.
func (r *auditRepository) Record(ctx context.Context, record domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	details := record.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_records (
			id, actor_id, action_type, resource_type, resource_id, summary, details, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		record.ID, record.ActorID, record.ActionType, record.ResourceType, record.ResourceID,
		record.Summary, payload, record.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	return nil
}

func (r *auditRepository) ListByResource(ctx context.Context, resourceType, resourceID string) ([]domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, actor_id, action_type, resource_type, resource_id, summary, details, created_at
		FROM audit_records
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at ASC, id ASC
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var (
			record  domain.AuditRecord
			details []byte
		)
		if err := rows.Scan(
			&record.ID, &record.ActorID, &record.ActionType, &record.ResourceType, &record.ResourceID,
			&record.Summary, &details, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := json.Unmarshal(details, &record.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}

	return records, nil
}

var _ domain.AuditRepository = (*auditRepository)(nil)
