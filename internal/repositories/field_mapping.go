package repositories

import (
	"context"

	"crm-sync-platform/internal/database"
	"crm-sync-platform/internal/models"

	"github.com/google/uuid"
)

// fieldMappingRepository implements FieldMappingRepository
type fieldMappingRepository struct {
	db *database.Connection
}

// NewFieldMappingRepository creates a new field mapping repository
func NewFieldMappingRepository(db *database.Connection) FieldMappingRepository {
	return &fieldMappingRepository{db: db}
}

// Create creates a new field mapping
func (r *fieldMappingRepository) Create(ctx context.Context, mapping *models.FieldMapping) error {
	if mapping.ID == "" {
		mapping.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(mapping).Error
}

// GetByScope retrieves the active mappings of a target and entity type
func (r *fieldMappingRepository) GetByScope(ctx context.Context, target, entityType string) ([]*models.FieldMapping, error) {
	var mappings []*models.FieldMapping
	err := r.db.WithContext(ctx).
		Where("target = ? AND entity_type = ? AND is_active = ?", target, entityType, true).
		Order("target_field ASC").
		Find(&mappings).Error
	return mappings, err
}

// Update updates a field mapping
func (r *fieldMappingRepository) Update(ctx context.Context, mapping *models.FieldMapping) error {
	return r.db.WithContext(ctx).Save(mapping).Error
}

// Delete soft deletes a field mapping
func (r *fieldMappingRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.FieldMapping{}, "id = ?", id).Error
}
