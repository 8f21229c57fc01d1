package config

import (
	"fmt"
	"time"

	"crm-sync-platform/internal/models"

	"github.com/go-playground/validator/v10"
)

// SyncConfig holds everything a synchronization pass consumes: field maps,
// id properties, filters and timezone handling.
type SyncConfig struct {
	Target              string                                 `mapstructure:"target" validate:"required"`
	Timezone            string                                 `mapstructure:"timezone" validate:"required"`
	WindowHours         int                                    `mapstructure:"window_hours" validate:"gte=0"`
	BackoffSeconds      int                                    `mapstructure:"backoff_seconds" validate:"gte=0"`
	MaxWidenAttempts    int                                    `mapstructure:"max_widen_attempts" validate:"gte=0"`
	IDProperty          map[string]string                      `mapstructure:"id_property"`
	ObjectProperties    map[string][]string                    `mapstructure:"object_properties"`
	RecordKeys          map[string]map[string]RecordKeys       `mapstructure:"record_keys"`
	FieldMaps           map[string]map[string]models.FieldMap  `mapstructure:"field_maps"`
	FieldMapFile        string                                 `mapstructure:"field_map_file"`
	DealFilter          DealFilterConfig                       `mapstructure:"deal_filter"`
	TimezoneConversions map[string]string                      `mapstructure:"timezone_conversions"`
	UpdatableDealFields []string                               `mapstructure:"updatable_deal_fields"`

	CompanyReferenceProperty string `mapstructure:"company_reference_property"`
	ContactAccountProperty   string `mapstructure:"contact_account_property"`
	DocumentNumberProperty   string `mapstructure:"document_number_property"`
	ShipCutoffTimezone       string `mapstructure:"ship_cutoff_timezone"`
	ShipCutoffHour           int    `mapstructure:"ship_cutoff_hour" validate:"gte=0,lte=23"`

	ExtractTarget          string `mapstructure:"extract_target"`
	DealTargetIDField      string `mapstructure:"deal_target_id_field"`
	CompanyIDField         string `mapstructure:"company_id_field"`
	AssociatedContactField string `mapstructure:"associated_contact_field"`
	PONumberProperty       string `mapstructure:"po_number_property"`
	ShipDateProperty       string `mapstructure:"ship_date_property"`
}

// RecordKeys names the raw fields holding a record's identity and timestamps.
type RecordKeys struct {
	SrcID     string `mapstructure:"src_id"`
	CreatedAt string `mapstructure:"created_at"`
	UpdatedAt string `mapstructure:"updated_at"`
}

// DealFilterConfig holds pipeline/stage qualification rules for deals and orders
type DealFilterConfig struct {
	Pipeline           string   `mapstructure:"pipeline"`
	Stage              string   `mapstructure:"stage"`
	SyncControlField   string   `mapstructure:"sync_control_field"`
	QualifyingStatus   string   `mapstructure:"qualifying_status"`
	OrderTypeField     string   `mapstructure:"order_type_field"`
	ExcludedOrderTypes []string `mapstructure:"excluded_order_types"`
	OwnerIDs           []string `mapstructure:"owner_ids"`
}

// DefaultRecordKeys is used when no record_keys entry matches a target/type.
var DefaultRecordKeys = RecordKeys{
	SrcID:     "hs_object_id",
	CreatedAt: "createdate",
	UpdatedAt: "hs_lastmodifieddate",
}

// KeysFor returns the record keys configured for a target and entity type
func (c *SyncConfig) KeysFor(target, entityType string) RecordKeys {
	if byType, ok := c.RecordKeys[target]; ok {
		if keys, ok := byType[entityType]; ok {
			return keys
		}
	}
	return DefaultRecordKeys
}

// IDPropertyFor returns the external-id property for an entity type
func (c *SyncConfig) IDPropertyFor(entityType string) (string, error) {
	prop, ok := c.IDProperty[entityType]
	if !ok || prop == "" {
		return "", fmt.Errorf("no id_property configured for %s", entityType)
	}
	return prop, nil
}

// Location returns the configured sync timezone
func (c *SyncConfig) Location() *time.Location {
	return loadLocation(c.Timezone)
}

// ShipCutoffLocation returns the timezone used for the shipping cut-off rule
func (c *SyncConfig) ShipCutoffLocation() *time.Location {
	return loadLocation(c.ShipCutoffTimezone)
}

// Backoff returns the pause between widened fetch windows
func (c *SyncConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// IsExcludedOrderType reports whether an order type is filtered out of deal creation
func (c *SyncConfig) IsExcludedOrderType(orderType string) bool {
	for _, excluded := range c.DealFilter.ExcludedOrderTypes {
		if excluded == orderType {
			return true
		}
	}
	return false
}

// Validate checks the sync section for structural errors
func (c *SyncConfig) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid sync configuration: %w", err)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid sync timezone %q: %w", c.Timezone, err)
	}
	for suffix, zone := range c.TimezoneConversions {
		if _, err := time.LoadLocation(zone); err != nil {
			return fmt.Errorf("invalid timezone %q for suffix %s: %w", zone, suffix, err)
		}
	}

	for target, byType := range c.FieldMaps {
		for entityType, fieldMap := range byType {
			if err := fieldMap.Validate(); err != nil {
				return fmt.Errorf("field map %s/%s: %w", target, entityType, err)
			}
		}
	}

	return nil
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
