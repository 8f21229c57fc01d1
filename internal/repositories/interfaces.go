package repositories

import (
	"context"
	"time"

	"crm-sync-platform/internal/models"
)

// SyncRecordRepository defines the interface for persisted record outcomes
type SyncRecordRepository interface {
	Create(ctx context.Context, record *models.SyncRecord) error
	CreateBatch(ctx context.Context, records []*models.SyncRecord) error
	GetByID(ctx context.Context, id string) (*models.SyncRecord, error)
	GetByPass(ctx context.Context, passID string) ([]*models.SyncRecord, error)
	GetByStatus(ctx context.Context, status models.TxStatus, limit, offset int) ([]*models.SyncRecord, error)
	GetLatestBySrcID(ctx context.Context, txTypeSrcID string) (*models.SyncRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FieldMappingRepository defines the interface for persisted field-map overrides
type FieldMappingRepository interface {
	Create(ctx context.Context, mapping *models.FieldMapping) error
	GetByScope(ctx context.Context, target, entityType string) ([]*models.FieldMapping, error)
	Update(ctx context.Context, mapping *models.FieldMapping) error
	Delete(ctx context.Context, id string) error
}
