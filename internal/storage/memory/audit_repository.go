package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockflow/internal/domain"
)

// auditRepositoryInMemory хранит журнал аудита в памяти (для разработки/тестов).
type auditRepositoryInMemory struct {
	mu      sync.RWMutex
	records map[string][]domain.AuditRecord
}

// NewAuditRepository создаёт in-memory реализацию AuditRepository.
func NewAuditRepository() *auditRepositoryInMemory {
	return &auditRepositoryInMemory{records: make(map[string][]domain.AuditRecord)}
}

func auditKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}

// Record добавляет запись в журнал. Записи не изменяются.
func (r *auditRepositoryInMemory) Record(ctx context.Context, record domain.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := auditKey(record.ResourceType, record.ResourceID)
	r.records[key] = append(r.records[key], record)

	sort.SliceStable(r.records[key], func(i, j int) bool {
		return r.records[key][i].CreatedAt.Before(r.records[key][j].CreatedAt)
	})

	return nil
}

// ListByResource возвращает записи ресурса в хронологическом порядке.
func (r *auditRepositoryInMemory) ListByResource(ctx context.Context, resourceType, resourceID string) ([]domain.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.records[auditKey(resourceType, resourceID)]
	result := make([]domain.AuditRecord, len(records))
	copy(result, records)
	return result, nil
}

// remove используется только откатом транзакции.
func (r *auditRepositoryInMemory) remove(record domain.AuditRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := auditKey(record.ResourceType, record.ResourceID)
	records := r.records[key]
	for i := range records {
		if records[i].ID == record.ID {
			r.records[key] = append(records[:i], records[i+1:]...)
			return
		}
	}
}

var _ domain.AuditRepository = (*auditRepositoryInMemory)(nil)
