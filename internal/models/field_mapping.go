package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// FieldSpec describes how one target field is produced from a raw record.
// Exactly one of Source, Constant or Expr is set.
type FieldSpec struct {
	Source    string      `json:"source,omitempty" yaml:"source,omitempty" mapstructure:"source"`
	Constant  interface{} `json:"constant,omitempty" yaml:"constant,omitempty" mapstructure:"constant"`
	Expr      string      `json:"expr,omitempty" yaml:"expr,omitempty" mapstructure:"expr"`
	Transform string      `json:"transform,omitempty" yaml:"transform,omitempty" mapstructure:"transform"`
	Default   interface{} `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
}

// Validate checks that the spec names exactly one value source
func (s FieldSpec) Validate() error {
	set := 0
	if s.Source != "" {
		set++
	}
	if s.Constant != nil {
		set++
	}
	if s.Expr != "" {
		set++
	}
	if set != 1 {
		return errors.New("exactly one of source, constant or expr must be set")
	}
	return nil
}

// FieldMap maps target field names to their specs
type FieldMap map[string]FieldSpec

// Validate checks every spec of the map
func (m FieldMap) Validate() error {
	for field, spec := range m {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
	}
	return nil
}

// Merge returns a copy of m with the entries of override applied on top
func (m FieldMap) Merge(override FieldMap) FieldMap {
	out := make(FieldMap, len(m)+len(override))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// FieldMapping is a persisted field-map row overriding configured field maps
type FieldMapping struct {
	ID          string         `json:"id" gorm:"primaryKey;size:36"`
	Target      string         `json:"target" gorm:"not null;index:idx_field_mapping_scope" validate:"required"`
	EntityType  string         `json:"entity_type" gorm:"not null;index:idx_field_mapping_scope" validate:"required,entitytype"`
	TargetField string         `json:"target_field" gorm:"not null" validate:"required"`
	Source      string         `json:"source,omitempty"`
	Constant    string         `json:"constant,omitempty"`
	Expr        string         `json:"expr,omitempty" gorm:"type:text"`
	Transform   string         `json:"transform,omitempty"`
	IsActive    bool           `json:"is_active" gorm:"default:true"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the table name for FieldMapping
func (FieldMapping) TableName() string {
	return "field_mappings"
}

// Spec converts the row into a FieldSpec
func (f *FieldMapping) Spec() FieldSpec {
	spec := FieldSpec{
		Source:    f.Source,
		Expr:      f.Expr,
		Transform: f.Transform,
	}
	if f.Source == "" && f.Expr == "" {
		spec.Constant = f.Constant
	}
	return spec
}
