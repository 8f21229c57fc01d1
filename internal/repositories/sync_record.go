package repositories

import (
	"context"
	"time"

	"crm-sync-platform/internal/database"
	"crm-sync-platform/internal/models"
)

// syncRecordRepository implements SyncRecordRepository
type syncRecordRepository struct {
	db *database.Connection
}

// NewSyncRecordRepository creates a new sync record repository
func NewSyncRecordRepository(db *database.Connection) SyncRecordRepository {
	return &syncRecordRepository{db: db}
}

// Create stores one record outcome
func (r *syncRecordRepository) Create(ctx context.Context, record *models.SyncRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// CreateBatch stores the outcomes of a pass in batches
func (r *syncRecordRepository) CreateBatch(ctx context.Context, records []*models.SyncRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

// GetByID retrieves a record outcome by ID
func (r *syncRecordRepository) GetByID(ctx context.Context, id string) (*models.SyncRecord, error) {
	var record models.SyncRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByPass retrieves every outcome recorded by one pass
func (r *syncRecordRepository) GetByPass(ctx context.Context, passID string) ([]*models.SyncRecord, error) {
	var records []*models.SyncRecord
	err := r.db.WithContext(ctx).
		Where("pass_id = ?", passID).
		Order("processed_at ASC").
		Find(&records).Error
	return records, err
}

// GetByStatus retrieves outcomes with a given status, newest first, with pagination
func (r *syncRecordRepository) GetByStatus(ctx context.Context, status models.TxStatus, limit, offset int) ([]*models.SyncRecord, error) {
	var records []*models.SyncRecord
	err := r.db.WithContext(ctx).
		Where("tx_status = ?", string(status)).
		Order("processed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}

// GetLatestBySrcID retrieves the most recent outcome for a record
func (r *syncRecordRepository) GetLatestBySrcID(ctx context.Context, txTypeSrcID string) (*models.SyncRecord, error) {
	var record models.SyncRecord
	err := r.db.WithContext(ctx).
		Where("tx_type_src_id = ?", txTypeSrcID).
		Order("processed_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteBefore removes outcomes processed before a cut-off and returns how many were removed
func (r *syncRecordRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at < ?", before).
		Delete(&models.SyncRecord{})
	return result.RowsAffected, result.Error
}
