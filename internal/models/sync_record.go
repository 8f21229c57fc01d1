package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncRecord is the persisted outcome of one record in one pass
type SyncRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	PassID      string    `json:"pass_id" gorm:"size:36;not null;index" validate:"required"`
	TxTypeSrcID string    `json:"tx_type_src_id" gorm:"not null;index" validate:"required"`
	EntityType  string    `json:"entity_type" gorm:"not null;index" validate:"required,entitytype"`
	SrcID       string    `json:"src_id" gorm:"not null"`
	TgtID       string    `json:"tgt_id,omitempty"`
	TxStatus    string    `json:"tx_status" gorm:"size:1;not null;index" validate:"required,oneof=S F I"`
	TxNote      string    `json:"tx_note,omitempty" gorm:"type:text"`
	Data        JSONMap   `json:"data,omitempty" gorm:"type:jsonb"`
	SrcUpdated  time.Time `json:"src_updated_at"`
	ProcessedAt time.Time `json:"processed_at" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the table name for SyncRecord
func (SyncRecord) TableName() string {
	return "sync_records"
}

// BeforeCreate assigns an id when none is set
func (r *SyncRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// NewSyncRecord snapshots an annotated entity record for persistence
func NewSyncRecord(passID string, record *EntityRecord, processedAt time.Time) *SyncRecord {
	entityType, _ := record.Type()
	return &SyncRecord{
		PassID:      passID,
		TxTypeSrcID: record.TxTypeSrcID,
		EntityType:  string(entityType),
		SrcID:       record.SrcID,
		TgtID:       record.TgtID,
		TxStatus:    string(record.TxStatus),
		TxNote:      record.TxNote,
		Data:        record.Data,
		SrcUpdated:  record.UpdatedAt,
		ProcessedAt: processedAt,
	}
}

// IsFailure reports whether the record failed
func (r *SyncRecord) IsFailure() bool {
	return r.TxStatus == string(TxStatusFailure)
}
