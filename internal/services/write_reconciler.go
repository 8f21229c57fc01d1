package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"

	"github.com/sirupsen/logrus"
)

// WriteOutcome is the result class of a write
type WriteOutcome string

const (
	OutcomeWritten WriteOutcome = "written"
	OutcomeIgnored WriteOutcome = "ignored"
)

// WriteResult is what a successful or ignored write reports. Hard failures
// come back as an error instead.
type WriteResult struct {
	TgtID   string       `json:"tgt_id,omitempty"`
	Outcome WriteOutcome `json:"outcome"`
	Note    string       `json:"note,omitempty"`
}

// DealState is a step of the deal write state machine
type DealState string

const (
	DealStateNew            DealState = "NEW"
	DealStateUpdateExisting DealState = "UPDATE_EXISTING"
	DealStateIgnored        DealState = "IGNORED"
	DealStateWritten        DealState = "WRITTEN"
	DealStateFailed         DealState = "FAILED"
)

type writeHandler func(ctx context.Context, record *models.EntityRecord) (WriteResult, error)

// resolvedItem is a line item whose SKU matched a CRM product
type resolvedItem struct {
	product  *models.CRMObject
	quantity interface{}
	price    interface{}
}

// WriteReconciler writes entity records to the CRM, dispatching on entity type,
// and links deals to their company, contact and line items without duplicating
// existing associations.
type WriteReconciler struct {
	client     CRMClient
	properties *PropertyCache
	cfg        *config.SyncConfig
	logger     *logger.Logger
	handlers   map[models.EntityType]writeHandler
}

// NewWriteReconciler creates a new write reconciler
func NewWriteReconciler(client CRMClient, properties *PropertyCache, cfg *config.Config, logger *logger.Logger) *WriteReconciler {
	w := &WriteReconciler{
		client:     client,
		properties: properties,
		cfg:        &cfg.Sync,
		logger:     logger,
	}
	w.handlers = map[models.EntityType]writeHandler{
		models.EntityOrder:                w.writeOrder,
		models.EntityOpportunity:          w.writeOpportunity,
		models.EntitySampleConversion:     w.writeOpportunity,
		models.EntityContact:              w.writeWithFiles,
		models.EntityCompany:              w.writeWithFiles,
		models.EntityProduct:              w.writeProduct,
		models.EntitySampleConversionItem: w.writeLineItem,
	}
	return w
}

// Write sends one record to the CRM
func (w *WriteReconciler) Write(ctx context.Context, record *models.EntityRecord) (WriteResult, error) {
	entityType, err := record.Type()
	if err != nil {
		return WriteResult{}, err
	}

	handler, ok := w.handlers[entityType]
	if !ok {
		return WriteResult{}, &models.UnsupportedEntityError{EntityType: string(entityType)}
	}
	return handler(ctx, record)
}

func ignored(format string, args ...interface{}) (WriteResult, error) {
	return WriteResult{Outcome: OutcomeIgnored, Note: fmt.Sprintf(format, args...)}, nil
}

func written(tgtID string) (WriteResult, error) {
	return WriteResult{TgtID: tgtID, Outcome: OutcomeWritten}, nil
}

func (w *WriteReconciler) writeOrder(ctx context.Context, record *models.EntityRecord) (WriteResult, error) {
	return w.writeDeal(ctx, record, true)
}

func (w *WriteReconciler) writeOpportunity(ctx context.Context, record *models.EntityRecord) (WriteResult, error) {
	return w.writeDeal(ctx, record, false)
}

// writeDeal runs the deal state machine. Orders must carry the qualifying status,
// a non-excluded order type and at least one resolvable line item.
func (w *WriteReconciler) writeDeal(ctx context.Context, record *models.EntityRecord, isOrder bool) (WriteResult, error) {
	payload := cloneData(record.Data)
	log := w.logger.WithRecord(record.TxTypeSrcID)

	if existingID := stringify(payload[w.cfg.DealTargetIDField]); existingID != "" {
		log.WithField("state", DealStateUpdateExisting).Debug("Updating existing deal")
		return w.updateDeal(ctx, existingID, payload, log)
	}

	log.WithField("state", DealStateNew).Debug("Creating or upserting deal")

	entityType, _ := record.Type()
	idProperty, err := w.cfg.IDPropertyFor(string(entityType))
	if err != nil {
		return WriteResult{}, err
	}
	dealKey := stringify(payload[idProperty])

	items := itemList(payload["items"])
	delete(payload, "items")

	if isOrder {
		status := stringify(payload["status"])
		delete(payload, "status")
		if status != w.cfg.DealFilter.QualifyingStatus {
			log.WithField("state", DealStateIgnored).Info("Deal status does not qualify")
			return ignored("%s's status is %q, not %s, can not be synced", dealKey, status, w.cfg.DealFilter.QualifyingStatus)
		}
		if orderType := stringify(payload[w.cfg.DealFilter.OrderTypeField]); orderType != "" && w.cfg.IsExcludedOrderType(orderType) {
			log.WithField("state", DealStateIgnored).Info("Deal order type is excluded")
			return ignored("%s's order type %s is excluded", dealKey, orderType)
		}
		if len(items) == 0 {
			return WriteResult{}, fmt.Errorf("%s does not have items", dealKey)
		}
	}

	resolved, err := w.resolveItems(ctx, items, log)
	if err != nil {
		return WriteResult{}, err
	}
	if isOrder && len(resolved) == 0 {
		return WriteResult{}, fmt.Errorf("%s does not have available items", dealKey)
	}

	companyRef := stringify(payload[w.cfg.CompanyIDField])
	delete(payload, w.cfg.CompanyIDField)

	dealID, err := w.client.UpsertObject(ctx, models.ObjectDeals, idProperty, payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to upsert deal %s: %w", dealKey, err)
	}
	if dealID == "" {
		return WriteResult{}, fmt.Errorf("failed to create deal %s", dealKey)
	}

	dealLog := log.WithField("deal_id", dealID)

	if companyRef != "" {
		if err := w.associateCompany(ctx, dealID, companyRef); err != nil {
			dealLog.WithError(err).Warn("Company association skipped")
		}
	}
	if email := stringify(payload[w.cfg.AssociatedContactField]); email != "" {
		if err := w.associateContact(ctx, dealID, email); err != nil {
			dealLog.WithError(err).Warn("Contact association skipped")
		}
	}
	if err := w.reconcileLineItems(ctx, dealID, resolved, dealLog); err != nil {
		dealLog.WithError(err).Warn("Line item reconciliation incomplete")
	}

	dealLog.WithField("state", DealStateWritten).Debug("Deal written")
	return written(dealID)
}

func (w *WriteReconciler) updateDeal(ctx context.Context, dealID string, payload map[string]interface{}, log *logrus.Entry) (WriteResult, error) {
	if len(w.cfg.UpdatableDealFields) == 0 {
		return WriteResult{}, errors.New("no updatable deal fields are configured")
	}

	filtered := make(map[string]interface{}, len(w.cfg.UpdatableDealFields))
	for _, field := range w.cfg.UpdatableDealFields {
		if field == w.cfg.DealTargetIDField {
			continue
		}
		if value, ok := payload[field]; ok {
			filtered[field] = value
		}
	}
	if len(filtered) == 0 {
		return WriteResult{}, fmt.Errorf("deal %s has no updatable fields in its payload", dealID)
	}

	id, err := w.client.UpdateObject(ctx, models.ObjectDeals, dealID, filtered)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to update deal %s: %w", dealID, err)
	}
	if id == "" {
		id = dealID
	}

	log.WithField("state", DealStateWritten).WithField("deal_id", id).Debug("Deal updated")
	return written(id)
}

// resolveItems looks every SKU up as a CRM product; unknown SKUs are skipped
func (w *WriteReconciler) resolveItems(ctx context.Context, items []map[string]interface{}, log *logrus.Entry) ([]resolvedItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	productProperty, err := w.cfg.IDPropertyFor(string(models.EntityProduct))
	if err != nil {
		return nil, err
	}

	resolved := make([]resolvedItem, 0, len(items))
	for _, item := range items {
		sku := stringify(item["sku"])
		if sku == "" {
			log.Info("Skipping line item without sku")
			continue
		}

		product, err := w.client.GetObject(ctx, models.ObjectProducts, sku, productProperty, []string{"name", "price", productProperty})
		if err != nil || product == nil {
			log.WithField("field", productProperty).
				WithField("value", sku).
				WithError(err).
				Info("Can't find product")
			continue
		}

		quantity, ok := item["qty_ordered"]
		if !ok {
			quantity = item["quantity"]
		}
		resolved = append(resolved, resolvedItem{
			product:  product,
			quantity: quantity,
			price:    item["price"],
		})
	}
	return resolved, nil
}

func (w *WriteReconciler) associateCompany(ctx context.Context, dealID, companyRef string) error {
	idProperty, err := w.cfg.IDPropertyFor(string(models.EntityCompany))
	if err != nil {
		return err
	}
	company, err := w.client.GetObject(ctx, models.ObjectCompanies, companyRef, idProperty, nil)
	if err != nil {
		return fmt.Errorf("company %s: %w", companyRef, err)
	}
	return w.associateOnce(ctx, dealID, models.ObjectCompanies, company.ID)
}

func (w *WriteReconciler) associateContact(ctx context.Context, dealID, contactRef string) error {
	idProperty, err := w.cfg.IDPropertyFor(string(models.EntityContact))
	if err != nil {
		return err
	}
	contact, err := w.client.GetObject(ctx, models.ObjectContacts, contactRef, idProperty, nil)
	if err != nil {
		return fmt.Errorf("contact %s: %w", contactRef, err)
	}
	return w.associateOnce(ctx, dealID, models.ObjectContacts, contact.ID)
}

// associateOnce links the deal to an object unless the deal already has an
// association of that object type.
func (w *WriteReconciler) associateOnce(ctx context.Context, dealID, toType, toID string) error {
	existing, err := w.client.GetAssociations(ctx, models.ObjectDeals, dealID, toType)
	if err != nil {
		return fmt.Errorf("failed to read %s associations: %w", toType, err)
	}
	if len(existing) > 0 {
		return nil
	}
	return w.client.CreateAssociation(ctx, models.ObjectDeals, dealID, toType, toID)
}

// reconcileLineItems creates line items only when the deal has none, so a
// re-run never duplicates them.
func (w *WriteReconciler) reconcileLineItems(ctx context.Context, dealID string, items []resolvedItem, log *logrus.Entry) error {
	if len(items) == 0 {
		return nil
	}

	existing, err := w.client.GetAssociations(ctx, models.ObjectDeals, dealID, models.ObjectLineItems)
	if err != nil {
		return fmt.Errorf("failed to read line item associations: %w", err)
	}
	if len(existing) > 0 {
		log.WithField("line_items", len(existing)).Debug("Deal already has line items")
		return nil
	}

	for _, item := range items {
		lineItemID, err := w.createLineItem(ctx, item)
		if err != nil {
			return err
		}
		if err := w.client.CreateAssociation(ctx, models.ObjectLineItems, lineItemID, models.ObjectDeals, dealID); err != nil {
			return fmt.Errorf("failed to link line item %s: %w", lineItemID, err)
		}
	}
	return nil
}

func (w *WriteReconciler) createLineItem(ctx context.Context, item resolvedItem) (string, error) {
	properties := map[string]interface{}{
		"hs_product_id": item.product.ID,
		"name":          item.product.Properties["name"],
		"quantity":      item.quantity,
		"price":         item.price,
	}
	if properties["price"] == nil {
		properties["price"] = item.product.Properties["price"]
	}

	id, err := w.client.CreateObject(ctx, models.ObjectLineItems, properties)
	if err != nil {
		return "", fmt.Errorf("failed to create line item for product %s: %w", item.product.ID, err)
	}
	return id, nil
}

// writeLineItem adds one line item to the deal named in the payload, reusing an
// existing line item of the same product.
func (w *WriteReconciler) writeLineItem(ctx context.Context, record *models.EntityRecord) (WriteResult, error) {
	payload := cloneData(record.Data)
	log := w.logger.WithRecord(record.TxTypeSrcID)

	dealProperty, err := w.cfg.IDPropertyFor(string(models.EntitySampleConversion))
	if err != nil {
		return WriteResult{}, err
	}
	dealKey := stringify(payload[dealProperty])
	if dealKey == "" {
		return WriteResult{}, fmt.Errorf("line item %s has no %s", record.SrcID, dealProperty)
	}

	deal, err := w.client.GetObject(ctx, models.ObjectDeals, dealKey, dealProperty, nil)
	if err != nil {
		return WriteResult{}, fmt.Errorf("deal %s: %w", dealKey, err)
	}

	resolved, err := w.resolveItems(ctx, []map[string]interface{}{payload}, log)
	if err != nil {
		return WriteResult{}, err
	}
	if len(resolved) == 0 {
		return WriteResult{}, fmt.Errorf("line item %s has no available product", record.SrcID)
	}
	item := resolved[0]

	existing, err := w.client.GetAssociations(ctx, models.ObjectDeals, deal.ID, models.ObjectLineItems)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to read line item associations: %w", err)
	}
	for _, association := range existing {
		lineItem, err := w.client.GetObject(ctx, models.ObjectLineItems, association.ToObjectID, "", []string{"hs_product_id"})
		if err != nil {
			log.WithError(err).WithField("line_item_id", association.ToObjectID).Warn("Failed to read line item")
			continue
		}
		if lineItem.Property("hs_product_id") == item.product.ID {
			return written(lineItem.ID)
		}
	}

	lineItemID, err := w.createLineItem(ctx, item)
	if err != nil {
		return WriteResult{}, err
	}
	if err := w.client.CreateAssociation(ctx, models.ObjectLineItems, lineItemID, models.ObjectDeals, deal.ID); err != nil {
		log.WithError(err).WithField("line_item_id", lineItemID).Warn("Line item association skipped")
	}
	return written(lineItemID)
}

// writeWithFiles upserts a contact or company, first replacing file properties
// with the ids of files uploaded from their URLs.
func (w *WriteReconciler) writeWithFiles(ctx context.Context, record *models.EntityRecord) (WriteResult, error) {
	entityType, _ := record.Type()
	objectType := entityType.ObjectType()
	payload := cloneData(record.Data)

	idProperty, err := w.cfg.IDPropertyFor(string(entityType))
	if err != nil {
		return WriteResult{}, err
	}

	defs, err := w.properties.Definitions(ctx, objectType)
	if err != nil {
		return WriteResult{}, err
	}
	for name, value := range payload {
		def, ok := defs[name]
		if !ok || def.FieldType != models.FieldTypeFile || isEmpty(value) {
			continue
		}
		fileIDs, err := w.uploadFiles(ctx, stringify(value))
		if err != nil {
			return WriteResult{}, fmt.Errorf("property %s: %w", name, err)
		}
		payload[name] = fileIDs
	}

	id, err := w.client.UpsertObject(ctx, objectType, idProperty, payload)
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to upsert %s: %w", entityType, err)
	}
	return written(id)
}

func (w *WriteReconciler) uploadFiles(ctx context.Context, urls string) (string, error) {
	var ids []string
	for _, fileURL := range strings.Split(urls, ";") {
		fileURL = strings.TrimSpace(fileURL)
		if fileURL == "" {
			continue
		}
		id, err := w.client.UploadFileByURL(ctx, fileURL)
		if err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", fileURL, err)
		}
		ids = append(ids, id)
	}
	return strings.Join(ids, ";"), nil
}

func (w *WriteReconciler) writeProduct(ctx context.Context, record *models.EntityRecord) (WriteResult, error) {
	idProperty, err := w.cfg.IDPropertyFor(string(models.EntityProduct))
	if err != nil {
		return WriteResult{}, err
	}
	id, err := w.client.UpsertObject(ctx, models.ObjectProducts, idProperty, cloneData(record.Data))
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to upsert product: %w", err)
	}
	return written(id)
}

func cloneData(data models.JSONMap) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// itemList accepts the decoded forms a line-item list may take
func itemList(v interface{}) []map[string]interface{} {
	switch items := v.(type) {
	case []map[string]interface{}:
		return items
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			switch m := item.(type) {
			case map[string]interface{}:
				out = append(out, m)
			case models.JSONMap:
				out = append(out, m)
			case models.RawRecord:
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
