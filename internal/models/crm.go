package models

import (
	"strings"
	"time"
)

// CRM object types
const (
	ObjectDeals     = "deals"
	ObjectContacts  = "contacts"
	ObjectCompanies = "companies"
	ObjectProducts  = "products"
	ObjectLineItems = "line_items"
	ObjectNotes     = "notes"
)

// CRM property types and field types that drive value coercion
const (
	PropertyTypeEnumeration = "enumeration"
	PropertyTypeNumber      = "number"
	PropertyTypeDateTime    = "datetime"
	PropertyTypeDate        = "date"
	PropertyTypeString      = "string"

	FieldTypeCheckbox = "checkbox"
	FieldTypeSelect   = "select"
	FieldTypeRadio    = "radio"
	FieldTypeFile     = "file"

	ReferenceOwner   = "OWNER"
	ReferenceCompany = "COMPANY"
)

// PropertyOption is one allowed value of an enumerated property
type PropertyOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// PropertyDefinition describes one CRM property of an object type
type PropertyDefinition struct {
	Name                 string            `json:"name"`
	Label                string            `json:"label"`
	Type                 string            `json:"type"`
	FieldType            string            `json:"fieldType"`
	ReferencedObjectType string            `json:"referencedObjectType,omitempty"`
	Options              []PropertyOption  `json:"options"`
	OptionsMapping       map[string]string `json:"-"`
}

// BuildOptionsMapping indexes option labels by option value
func (p *PropertyDefinition) BuildOptionsMapping() {
	p.OptionsMapping = make(map[string]string, len(p.Options))
	for _, option := range p.Options {
		p.OptionsMapping[option.Value] = option.Label
	}
}

// HasOptions reports whether the property carries an enumeration
func (p *PropertyDefinition) HasOptions() bool {
	return len(p.Options) > 0
}

// Reference returns the upper-cased referenced object type ("OWNER", "COMPANY"), if any
func (p *PropertyDefinition) Reference() string {
	return strings.ToUpper(p.ReferencedObjectType)
}

// Owner is a CRM user that can own records
type Owner struct {
	ID        string `json:"id"`
	UserID    int64  `json:"userId"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Archived  bool   `json:"archived"`
}

// FullName returns "first last"
func (o *Owner) FullName() string {
	return strings.TrimSpace(o.FirstName + " " + o.LastName)
}

// Team is a CRM team
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CRMObject is a generic CRM record with its properties
type CRMObject struct {
	ID         string                 `json:"id"`
	Properties map[string]interface{} `json:"properties"`
	Archived   bool                   `json:"archived"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// Property returns a property value as a string, or "" when absent
func (o *CRMObject) Property(name string) string {
	return RawRecord(o.Properties).String(name)
}

// AssociationType is the label/category pair of one association
type AssociationType struct {
	TypeID   int    `json:"typeId"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// AssociationResult is a single association from a source object to a target
type AssociationResult struct {
	ToObjectID string            `json:"toObjectId"`
	Types      []AssociationType `json:"associationTypes"`
}

// Attachment is a file attached to a CRM record, resolved to a signed URL
type Attachment struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Extension string    `json:"extension"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SearchFilter is a single filter inside a filter group
type SearchFilter struct {
	PropertyName string   `json:"propertyName"`
	Operator     string   `json:"operator"`
	Value        string   `json:"value,omitempty"`
	HighValue    string   `json:"highValue,omitempty"`
	Values       []string `json:"values,omitempty"`
}

// SearchFilterGroup is an AND-ed set of filters; groups are OR-ed
type SearchFilterGroup struct {
	Filters []SearchFilter `json:"filters"`
}

// SearchSort orders search results
type SearchSort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

// SearchRequest is a CRM object search
type SearchRequest struct {
	FilterGroups []SearchFilterGroup `json:"filterGroups,omitempty"`
	Sorts        []SearchSort        `json:"sorts,omitempty"`
	Properties   []string            `json:"properties,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
	After        string              `json:"after,omitempty"`
}

// SearchPage is one page of search results; After is empty on the last page
type SearchPage struct {
	Results []*CRMObject `json:"results"`
	Total   int          `json:"total"`
	After   string       `json:"after,omitempty"`
}
