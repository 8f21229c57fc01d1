package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// Company fields holding owner or user ids, rendered as "<field>_name"
var companyOwnerFields = []string{
	"hubspot_owner_id",
	"hs_created_by_user_id",
	"sales_rep",
	"assistant",
}

const (
	parentCompanyField     = "hs_parent_company_id"
	parentCompanyNameField = "parent_company_name"
	primaryCompanyTypeID   = 1
)

// Enricher augments a raw CRM record before its field map is applied
type Enricher func(ctx context.Context, raw models.RawRecord) error

// Enrichment attaches related CRM data to raw deal, company and contact records.
// Every sub-step is best-effort: failures are logged and the record continues.
type Enrichment struct {
	client     CRMClient
	properties *PropertyCache
	resolver   *ReferenceResolver
	coercer    *ValueCoercer
	cfg        *config.SyncConfig
	logger     *logger.Logger
	now        func() time.Time
}

// NewEnrichment creates the CRM-side enrichers
func NewEnrichment(client CRMClient, properties *PropertyCache, resolver *ReferenceResolver, coercer *ValueCoercer, cfg *config.Config, logger *logger.Logger) *Enrichment {
	return &Enrichment{
		client:     client,
		properties: properties,
		resolver:   resolver,
		coercer:    coercer,
		cfg:        &cfg.Sync,
		logger:     logger,
		now:        time.Now,
	}
}

// Enrichers returns the enricher dispatch table keyed by entity type
func (e *Enrichment) Enrichers() map[models.EntityType]Enricher {
	return map[models.EntityType]Enricher{
		models.EntityOpportunity:      e.EnrichDeal,
		models.EntityOrder:            e.EnrichDeal,
		models.EntitySampleConversion: e.EnrichDeal,
		models.EntityCompany:          e.EnrichCompany,
		models.EntityContact:          e.EnrichContact,
	}
}

// DealQualifies reports whether a deal sits in the configured pipeline and stage
// with its sync-control flag on. Unset filters match everything.
func (e *Enrichment) DealQualifies(raw models.RawRecord) bool {
	filter := e.cfg.DealFilter
	if filter.Pipeline != "" && raw.String("pipeline") != filter.Pipeline {
		return false
	}
	if filter.Stage != "" && raw.String("dealstage") != filter.Stage {
		return false
	}
	if filter.SyncControlField != "" && !truthy(raw[filter.SyncControlField]) {
		return false
	}
	return true
}

// EnrichDeal attaches line items, company, contact, PO number, ship date and attachments
func (e *Enrichment) EnrichDeal(ctx context.Context, raw models.RawRecord) error {
	if !e.DealQualifies(raw) {
		return nil
	}

	dealID := raw.String("hs_object_id")
	log := e.logger.WithObject(models.ObjectDeals, dealID)

	if items, err := e.lineItems(ctx, dealID); err != nil {
		log.WithError(err).Warn("Failed to attach line items")
	} else {
		raw["line_items"] = items
	}

	if company, err := e.dealCompany(ctx, dealID); err != nil {
		log.WithError(err).Warn("Failed to attach company")
	} else if company != nil {
		raw["company"] = company
	}

	if contact, err := e.dealContact(ctx, dealID); err != nil {
		log.WithError(err).Warn("Failed to attach contact")
	} else if contact != nil {
		raw["contact"] = contact
	}

	if raw.String(e.cfg.PONumberProperty) == "" {
		raw[e.cfg.PONumberProperty] = "PO-" + e.now().In(e.cfg.Location()).Format("20060102150405")
	}

	if err := e.applyShipCutoff(raw); err != nil {
		log.WithError(err).Warn("Failed to compute ship date")
	}

	if raw.String(e.cfg.DocumentNumberProperty) == "" {
		if attachments, err := e.attachments(ctx, dealID); err != nil {
			log.WithError(err).Warn("Failed to attach files")
		} else {
			raw["attachments"] = attachments
		}
	}

	return nil
}

// EnrichCompany renders owner and parent-company references as names and coerces every property
func (e *Enrichment) EnrichCompany(ctx context.Context, raw models.RawRecord) error {
	companyID := raw.String("hs_object_id")
	log := e.logger.WithObject(models.ObjectCompanies, companyID)

	names := make(map[string]interface{})
	for _, field := range companyOwnerFields {
		id := raw.String(field)
		if id == "" {
			continue
		}
		name, ok, err := e.resolver.OwnerDisplayName(ctx, id)
		if err != nil {
			log.WithError(err).WithField("field", field).Warn("Failed to resolve owner")
			continue
		}
		if ok {
			names[field+"_name"] = name
		}
	}

	if parentID := raw.String(parentCompanyField); parentID != "" {
		name, err := e.coercer.companyName(ctx, parentID)
		if err != nil {
			log.WithError(err).Warn("Failed to resolve parent company")
		} else if name != nil {
			names[parentCompanyNameField] = name
		}
	}

	defs, err := e.properties.Definitions(ctx, models.ObjectCompanies)
	if err != nil {
		log.WithError(err).Warn("Company properties unavailable, skipping coercion")
	} else {
		coerced, err := e.coercer.CoerceProperties(ctx, defs, raw)
		if err != nil {
			return fmt.Errorf("coerce company properties: %w", err)
		}
		for k, v := range coerced {
			raw[k] = v
		}
	}

	for k, v := range names {
		raw[k] = v
	}
	return nil
}

// EnrichContact attaches the primary associated company's properties under "company"
func (e *Enrichment) EnrichContact(ctx context.Context, raw models.RawRecord) error {
	contactID := raw.String("hs_object_id")

	associations, err := e.client.GetAssociations(ctx, models.ObjectContacts, contactID, models.ObjectCompanies)
	if err != nil {
		e.logger.WithObject(models.ObjectContacts, contactID).WithError(err).Warn("Failed to load company associations")
		return nil
	}
	if len(associations) == 0 {
		return nil
	}

	primary := associations[0]
	for _, association := range associations {
		if isPrimary(association) {
			primary = association
			break
		}
	}

	company, err := e.client.GetObject(ctx, models.ObjectCompanies, primary.ToObjectID, "", e.cfg.ObjectProperties[models.ObjectCompanies])
	if err != nil {
		e.logger.WithObject(models.ObjectContacts, contactID).WithError(err).Warn("Failed to load primary company")
		return nil
	}
	raw["company"] = map[string]interface{}(company.Properties)
	return nil
}

// ResolveOwnerName replaces an "owner_name" field with the matching hubspot_owner_id
func (e *Enrichment) ResolveOwnerName(ctx context.Context, data models.JSONMap) error {
	name, ok := data["owner_name"].(string)
	if !ok {
		return nil
	}
	delete(data, "owner_name")
	if strings.TrimSpace(name) == "" {
		return nil
	}

	owner, err := e.resolver.OwnerByName(ctx, name)
	if err != nil {
		return err
	}
	if owner != nil {
		data["hubspot_owner_id"] = owner.ID
	}
	return nil
}

func (e *Enrichment) lineItems(ctx context.Context, dealID string) ([]interface{}, error) {
	associations, err := e.client.GetAssociations(ctx, models.ObjectDeals, dealID, models.ObjectLineItems)
	if err != nil {
		return nil, err
	}

	items := make([]interface{}, 0, len(associations))
	for _, association := range associations {
		item, err := e.client.GetObject(ctx, models.ObjectLineItems, association.ToObjectID, "",
			[]string{"amount", "hs_sku", "quantity", "price", "name"})
		if err != nil {
			return nil, fmt.Errorf("line item %s: %w", association.ToObjectID, err)
		}
		items = append(items, map[string]interface{}{
			"amount":   item.Properties["amount"],
			"sku":      item.Properties["hs_sku"],
			"quantity": item.Properties["quantity"],
			"price":    item.Properties["price"],
		})
	}
	return items, nil
}

// dealCompany returns the first associated company carrying the external
// reference property, preferring active companies.
func (e *Enrichment) dealCompany(ctx context.Context, dealID string) (map[string]interface{}, error) {
	associations, err := e.client.GetAssociations(ctx, models.ObjectDeals, dealID, models.ObjectCompanies)
	if err != nil {
		return nil, err
	}

	properties := appendUnique(e.cfg.ObjectProperties[models.ObjectCompanies], "name", e.cfg.CompanyReferenceProperty)

	var fallback *models.CRMObject
	for _, association := range associations {
		company, err := e.client.GetObject(ctx, models.ObjectCompanies, association.ToObjectID, "", properties)
		if err != nil {
			return nil, fmt.Errorf("company %s: %w", association.ToObjectID, err)
		}
		if company.Property(e.cfg.CompanyReferenceProperty) == "" {
			continue
		}
		if !company.Archived {
			return company.Properties, nil
		}
		if fallback == nil {
			fallback = company
		}
	}

	if fallback != nil {
		return fallback.Properties, nil
	}
	return nil, nil
}

func (e *Enrichment) dealContact(ctx context.Context, dealID string) (map[string]interface{}, error) {
	associations, err := e.client.GetAssociations(ctx, models.ObjectDeals, dealID, models.ObjectContacts)
	if err != nil {
		return nil, err
	}

	properties := appendUnique(e.cfg.ObjectProperties[models.ObjectContacts], "email", "firstname", "lastname", e.cfg.ContactAccountProperty)
	for _, association := range associations {
		contact, err := e.client.GetObject(ctx, models.ObjectContacts, association.ToObjectID, "", properties)
		if err != nil {
			return nil, fmt.Errorf("contact %s: %w", association.ToObjectID, err)
		}
		if contact.Property(e.cfg.ContactAccountProperty) != "" {
			return contact.Properties, nil
		}
	}
	return nil, nil
}

// applyShipCutoff pushes the ship date by a day when the local ship time is at
// or after the cut-off hour.
func (e *Enrichment) applyShipCutoff(raw models.RawRecord) error {
	value, ok := raw[e.cfg.ShipDateProperty]
	if !ok || isEmpty(value) {
		return nil
	}

	shipAt, err := ParseTimestamp(value)
	if err != nil {
		return err
	}

	delayed := shipAt.In(e.cfg.ShipCutoffLocation()).Hour() >= e.cfg.ShipCutoffHour
	if delayed {
		shipAt = shipAt.Add(24 * time.Hour)
	}
	raw["ship_date"] = shipAt.Format(time.RFC3339)
	raw["ship_delayed"] = delayed
	return nil
}

func (e *Enrichment) attachments(ctx context.Context, dealID string) ([]interface{}, error) {
	notes, err := e.client.GetAssociations(ctx, models.ObjectDeals, dealID, models.ObjectNotes)
	if err != nil {
		return nil, err
	}

	attachments := make([]interface{}, 0)
	for _, association := range notes {
		note, err := e.client.GetObject(ctx, models.ObjectNotes, association.ToObjectID, "", []string{"hs_attachment_ids"})
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", association.ToObjectID, err)
		}

		for _, fileID := range strings.Split(note.Property("hs_attachment_ids"), ";") {
			fileID = strings.TrimSpace(fileID)
			if fileID == "" {
				continue
			}
			file, err := e.client.GetFileSignedURL(ctx, fileID)
			if err != nil {
				return nil, fmt.Errorf("file %s: %w", fileID, err)
			}
			attachments = append(attachments, map[string]interface{}{
				"name":       file.Name,
				"extension":  file.Extension,
				"url":        file.URL,
				"expires_at": file.ExpiresAt.UTC().Format(time.RFC3339),
			})
		}
	}
	return attachments, nil
}

func isPrimary(association models.AssociationResult) bool {
	for _, t := range association.Types {
		if t.TypeID == primaryCompanyTypeID || strings.EqualFold(t.Label, "Primary") {
			return true
		}
	}
	return false
}

func truthy(v interface{}) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		s := strings.ToLower(strings.TrimSpace(value))
		return s == "true" || s == "1" || s == "yes"
	case float64:
		return value != 0
	default:
		return false
	}
}

func appendUnique(base []string, extra ...string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, p := range append(append([]string{}, base...), extra...) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
