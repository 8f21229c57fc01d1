package services

import (
	"context"
	"time"

	"crm-sync-platform/internal/models"
)

// CRMClient defines the CRM operations the pipeline consumes
type CRMClient interface {
	Search(ctx context.Context, objectType string, req *models.SearchRequest) (*models.SearchPage, error)
	// GetObject fetches by CRM id, or by a unique property when idProperty is set
	GetObject(ctx context.Context, objectType, id, idProperty string, properties []string) (*models.CRMObject, error)
	GetAssociations(ctx context.Context, fromType, fromID, toType string) ([]models.AssociationResult, error)
	CreateAssociation(ctx context.Context, fromType, fromID, toType, toID string) error
	UpsertObject(ctx context.Context, objectType, idProperty string, properties map[string]interface{}) (string, error)
	UpdateObject(ctx context.Context, objectType, id string, properties map[string]interface{}) (string, error)
	CreateObject(ctx context.Context, objectType string, properties map[string]interface{}) (string, error)
	GetProperties(ctx context.Context, objectType string) ([]*models.PropertyDefinition, error)
	GetOwners(ctx context.Context) ([]*models.Owner, error)
	GetTeams(ctx context.Context) ([]*models.Team, error)
	UploadFileByURL(ctx context.Context, fileURL string) (string, error)
	GetFileSignedURL(ctx context.Context, fileID string) (*models.Attachment, error)
}

// SourceClient defines the source-of-record operations the pipeline consumes
type SourceClient interface {
	FetchChanged(ctx context.Context, entityType models.EntityType, start, end time.Time) ([]models.RawRecord, error)
}

// SyncService runs synchronization passes
type SyncService interface {
	// RunPass fetches changed source records and writes them to the CRM
	RunPass(ctx context.Context, req *models.PassRequest) (*models.PassResult, error)
	// Load writes already-transformed records to the CRM
	Load(ctx context.Context, records []*models.EntityRecord) (*models.PassResult, error)
	// Extract fetches changed CRM records and transforms them for a downstream target
	Extract(ctx context.Context, req *models.PassRequest) (*models.PassResult, error)
	ListRecords(ctx context.Context, status models.TxStatus, limit, offset int) ([]*models.SyncRecord, error)
	GetPass(ctx context.Context, passID string) ([]*models.SyncRecord, error)
}
