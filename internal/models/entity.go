package models

import (
	"fmt"
	"strings"
	"time"
)

// EntityType identifies which transform and write path applies to a record
type EntityType string

const (
	EntityOpportunity          EntityType = "opportunity"
	EntityOrder                EntityType = "order"
	EntityContact              EntityType = "contact"
	EntityCompany              EntityType = "company"
	EntityProduct              EntityType = "product"
	EntitySampleConversion     EntityType = "sample_conversion"
	EntitySampleConversionItem EntityType = "sample_conversion_item"
)

// EntityTypes lists every supported entity type
var EntityTypes = []EntityType{
	EntityOpportunity,
	EntityOrder,
	EntityContact,
	EntityCompany,
	EntityProduct,
	EntitySampleConversion,
	EntitySampleConversionItem,
}

// IsValid reports whether the entity type is one of the supported types
func (t EntityType) IsValid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsDeal reports whether records of this type are written as CRM deals
func (t EntityType) IsDeal() bool {
	return t == EntityOpportunity || t == EntityOrder || t == EntitySampleConversion
}

// ObjectType returns the CRM object type records of this entity type live in
func (t EntityType) ObjectType() string {
	switch t {
	case EntityOpportunity, EntityOrder, EntitySampleConversion:
		return ObjectDeals
	case EntityContact:
		return ObjectContacts
	case EntityCompany:
		return ObjectCompanies
	case EntityProduct:
		return ObjectProducts
	case EntitySampleConversionItem:
		return ObjectLineItems
	default:
		return ""
	}
}

// ParseEntityType extracts the entity type from a composite "<type>-<src_id>" key.
// Types may contain underscores but never dashes.
func ParseEntityType(txTypeSrcID string) (EntityType, error) {
	prefix, _, _ := strings.Cut(txTypeSrcID, "-")
	entityType := EntityType(prefix)
	if !entityType.IsValid() {
		return entityType, &UnsupportedEntityError{EntityType: prefix}
	}
	return entityType, nil
}

// TxTypeSrcID builds the composite key for an entity type and source id
func TxTypeSrcID(entityType EntityType, srcID string) string {
	return fmt.Sprintf("%s-%s", entityType, srcID)
}

// UnsupportedEntityError is returned for entity type tags without a handler
type UnsupportedEntityError struct {
	EntityType string
}

func (e *UnsupportedEntityError) Error() string {
	return fmt.Sprintf("%s is not supported", e.EntityType)
}

// TxStatus is the terminal outcome of a record in a pass
type TxStatus string

const (
	TxStatusUnset   TxStatus = ""
	TxStatusSuccess TxStatus = "S"
	TxStatusFailure TxStatus = "F"
	TxStatusIgnored TxStatus = "I"
)

// FailedTargetID marks a record whose write step ran but failed
const FailedTargetID = "####"

// RawRecord is a record as returned by the source system or the CRM
type RawRecord map[string]interface{}

// Clone returns a shallow copy of the record
func (r RawRecord) Clone() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value of a key formatted as a string, or "" when absent
func (r RawRecord) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// EntityRecord is the canonical unit flowing through a synchronization pass
type EntityRecord struct {
	TxTypeSrcID string     `json:"tx_type_src_id"`
	SrcID       string     `json:"src_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Data        JSONMap    `json:"data"`
	TxStatus    TxStatus   `json:"tx_status,omitempty"`
	TxNote      string     `json:"tx_note,omitempty"`
	TgtID       string     `json:"tgt_id,omitempty"`
	EntityType  EntityType `json:"-"`
}

// NewEntityRecord creates an unprocessed record for an entity type
func NewEntityRecord(entityType EntityType, srcID string, data JSONMap) *EntityRecord {
	return &EntityRecord{
		TxTypeSrcID: TxTypeSrcID(entityType, srcID),
		SrcID:       srcID,
		Data:        data,
		EntityType:  entityType,
	}
}

// Type returns the record's entity type, parsing the composite key when needed
func (r *EntityRecord) Type() (EntityType, error) {
	if r.EntityType != "" {
		return r.EntityType, nil
	}
	return ParseEntityType(r.TxTypeSrcID)
}

// IsTerminal reports whether a terminal status has been recorded
func (r *EntityRecord) IsTerminal() bool {
	return r.TxStatus == TxStatusSuccess || r.TxStatus == TxStatusFailure || r.TxStatus == TxStatusIgnored
}
