package services

import (
	"context"
	"testing"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnrichment(client CRMClient, cfg *config.Config) *Enrichment {
	cache := NewCacheService(nil, cfg)
	log := createTestLogger()
	properties := NewPropertyCache(client, cache, cfg, log)
	resolver := NewReferenceResolver(client, cache, cfg, log)
	coercer := NewValueCoercer(resolver, client, cfg, log)
	enrichment := NewEnrichment(client, properties, resolver, coercer, cfg, log)
	enrichment.now = func() time.Time { return time.Date(2024, 1, 15, 20, 0, 0, 0, time.UTC) }
	return enrichment
}

func link(crm *fakeCRM, fromType, fromID, toType string, results ...models.AssociationResult) {
	key := fromType + "/" + fromID + "/" + toType
	crm.associations[key] = append(crm.associations[key], results...)
}

func TestEnrichment_DealQualifies(t *testing.T) {
	cfg := createTestConfig()
	cfg.Sync.DealFilter.Pipeline = "default"
	cfg.Sync.DealFilter.Stage = "closedwon"
	cfg.Sync.DealFilter.SyncControlField = "sync_to_erp"
	enrichment := newTestEnrichment(newFakeCRM(), cfg)

	assert.True(t, enrichment.DealQualifies(models.RawRecord{"pipeline": "default", "dealstage": "closedwon", "sync_to_erp": "true"}))
	assert.False(t, enrichment.DealQualifies(models.RawRecord{"pipeline": "other", "dealstage": "closedwon", "sync_to_erp": true}))
	assert.False(t, enrichment.DealQualifies(models.RawRecord{"pipeline": "default", "dealstage": "open", "sync_to_erp": true}))
	assert.False(t, enrichment.DealQualifies(models.RawRecord{"pipeline": "default", "dealstage": "closedwon", "sync_to_erp": "false"}))

	open := newTestEnrichment(newFakeCRM(), createTestConfig())
	assert.True(t, open.DealQualifies(models.RawRecord{}), "unset filters match every deal")
}

func TestEnrichment_EnrichDeal(t *testing.T) {
	crm := newFakeCRM()
	dealID := crm.add(models.ObjectDeals, map[string]interface{}{"dealname": "D"})
	lineItemID := crm.add(models.ObjectLineItems, map[string]interface{}{"hs_sku": "W-1", "quantity": "2", "price": "5", "amount": "10"})
	archivedCompany := crm.add(models.ObjectCompanies, map[string]interface{}{"company_number": "C-OLD", "name": "Old Acme"})
	crm.objects[models.ObjectCompanies][archivedCompany].Archived = true
	unreferenced := crm.add(models.ObjectCompanies, map[string]interface{}{"name": "No Ref"})
	activeCompany := crm.add(models.ObjectCompanies, map[string]interface{}{"company_number": "C-1", "name": "Acme"})
	leadContact := crm.add(models.ObjectContacts, map[string]interface{}{"email": "lead@acme.test"})
	buyer := crm.add(models.ObjectContacts, map[string]interface{}{"email": "buyer@acme.test", "account_number": "A-1"})
	note := crm.add(models.ObjectNotes, map[string]interface{}{"hs_attachment_ids": "f1;f2"})

	link(crm, models.ObjectDeals, dealID, models.ObjectLineItems, models.AssociationResult{ToObjectID: lineItemID})
	link(crm, models.ObjectDeals, dealID, models.ObjectCompanies,
		models.AssociationResult{ToObjectID: archivedCompany},
		models.AssociationResult{ToObjectID: unreferenced},
		models.AssociationResult{ToObjectID: activeCompany})
	link(crm, models.ObjectDeals, dealID, models.ObjectContacts,
		models.AssociationResult{ToObjectID: leadContact},
		models.AssociationResult{ToObjectID: buyer})
	link(crm, models.ObjectDeals, dealID, models.ObjectNotes, models.AssociationResult{ToObjectID: note})

	enrichment := newTestEnrichment(crm, createTestConfig())
	raw := models.RawRecord{"hs_object_id": dealID, "closedate": "2024-01-15T21:00:00Z"}

	require.NoError(t, enrichment.EnrichDeal(context.Background(), raw))

	assert.Equal(t, []interface{}{map[string]interface{}{
		"amount": "10", "sku": "W-1", "quantity": "2", "price": "5",
	}}, raw["line_items"])
	assert.Equal(t, "C-1", raw["company"].(map[string]interface{})["company_number"], "active company wins")
	assert.Equal(t, "buyer@acme.test", raw["contact"].(map[string]interface{})["email"])
	assert.Equal(t, "PO-20240115200000", raw["po_number"])
	assert.Equal(t, true, raw["ship_delayed"])
	assert.Equal(t, "2024-01-16T21:00:00Z", raw["ship_date"])

	attachments := raw["attachments"].([]interface{})
	require.Len(t, attachments, 2)
	assert.Equal(t, "https://files.example.com/f1", attachments[0].(map[string]interface{})["url"])
}

func TestEnrichment_EnrichDealKeepsExistingValues(t *testing.T) {
	crm := newFakeCRM()
	dealID := crm.add(models.ObjectDeals, nil)
	enrichment := newTestEnrichment(crm, createTestConfig())

	raw := models.RawRecord{
		"hs_object_id":    dealID,
		"po_number":       "PO-CUSTOMER",
		"document_number": "INV-1",
		"closedate":       "2024-01-15T18:00:00Z",
	}
	require.NoError(t, enrichment.EnrichDeal(context.Background(), raw))

	assert.Equal(t, "PO-CUSTOMER", raw["po_number"])
	assert.NotContains(t, raw, "attachments", "invoiced deals skip attachments")
	assert.NotContains(t, raw, "company")
	assert.Equal(t, false, raw["ship_delayed"])
	assert.Equal(t, "2024-01-15T18:00:00Z", raw["ship_date"])
}

func TestEnrichment_NonQualifyingDealUntouched(t *testing.T) {
	cfg := createTestConfig()
	cfg.Sync.DealFilter.Pipeline = "default"
	enrichment := newTestEnrichment(newFakeCRM(), cfg)

	raw := models.RawRecord{"hs_object_id": "1", "pipeline": "partners"}
	require.NoError(t, enrichment.EnrichDeal(context.Background(), raw))
	assert.Equal(t, models.RawRecord{"hs_object_id": "1", "pipeline": "partners"}, raw)
}

func TestEnrichment_EnrichCompany(t *testing.T) {
	crm := newFakeCRM()
	crm.owners = []*models.Owner{
		{ID: "11", UserID: 500, FirstName: "Sam", LastName: "Rep"},
		{ID: "12", FirstName: "Ex", LastName: "Employee", Archived: true},
	}
	parent := crm.add(models.ObjectCompanies, map[string]interface{}{"name": "Holding Co"})
	crm.properties[models.ObjectCompanies] = []*models.PropertyDefinition{
		{Name: "industry", Type: models.PropertyTypeEnumeration, FieldType: models.FieldTypeSelect,
			Options: []models.PropertyOption{{Value: "COMPUTER_SOFTWARE", Label: "Computer Software"}}},
		{Name: "numberofemployees", Type: models.PropertyTypeNumber},
	}
	enrichment := newTestEnrichment(crm, createTestConfig())

	raw := models.RawRecord{
		"hs_object_id":          "77",
		"hubspot_owner_id":      "11",
		"hs_created_by_user_id": "500",
		"sales_rep":             "12",
		"assistant":             "999",
		"hs_parent_company_id":  parent,
		"industry":              "COMPUTER_SOFTWARE",
		"numberofemployees":     "250",
	}
	require.NoError(t, enrichment.EnrichCompany(context.Background(), raw))

	assert.Equal(t, "Sam Rep", raw["hubspot_owner_id_name"])
	assert.Equal(t, "Sam Rep", raw["hs_created_by_user_id_name"])
	assert.Equal(t, "Ex Employee (Deactivated User)", raw["sales_rep_name"])
	assert.NotContains(t, raw, "assistant_name")
	assert.Equal(t, "Holding Co", raw["parent_company_name"])
	assert.Equal(t, "Computer Software", raw["industry"])
	assert.Equal(t, 250.0, raw["numberofemployees"])
	assert.Equal(t, "11", raw["hubspot_owner_id"], "id fields keep their ids")
}

func TestEnrichment_EnrichContactPrimaryCompany(t *testing.T) {
	crm := newFakeCRM()
	secondary := crm.add(models.ObjectCompanies, map[string]interface{}{"name": "Secondary"})
	primary := crm.add(models.ObjectCompanies, map[string]interface{}{"name": "Primary Inc"})
	link(crm, models.ObjectContacts, "5", models.ObjectCompanies,
		models.AssociationResult{ToObjectID: secondary, Types: []models.AssociationType{{TypeID: 279, Category: "HUBSPOT_DEFINED"}}},
		models.AssociationResult{ToObjectID: primary, Types: []models.AssociationType{{TypeID: 1, Label: "Primary", Category: "HUBSPOT_DEFINED"}}})
	enrichment := newTestEnrichment(crm, createTestConfig())

	raw := models.RawRecord{"hs_object_id": "5"}
	require.NoError(t, enrichment.EnrichContact(context.Background(), raw))
	assert.Equal(t, "Primary Inc", raw["company"].(map[string]interface{})["name"])

	lonely := models.RawRecord{"hs_object_id": "6"}
	require.NoError(t, enrichment.EnrichContact(context.Background(), lonely))
	assert.NotContains(t, lonely, "company")
}

func TestEnrichment_ResolveOwnerName(t *testing.T) {
	crm := newFakeCRM()
	crm.owners = testOwners()
	enrichment := newTestEnrichment(crm, createTestConfig())
	ctx := context.Background()

	data := models.JSONMap{"owner_name": "Jane DOE", "dealname": "x"}
	require.NoError(t, enrichment.ResolveOwnerName(ctx, data))
	assert.Equal(t, models.JSONMap{"hubspot_owner_id": "101", "dealname": "x"}, data)

	unknown := models.JSONMap{"owner_name": "Nobody"}
	require.NoError(t, enrichment.ResolveOwnerName(ctx, unknown))
	assert.Equal(t, models.JSONMap{}, unknown)

	untouched := models.JSONMap{"hubspot_owner_id": "7"}
	require.NoError(t, enrichment.ResolveOwnerName(ctx, untouched))
	assert.Equal(t, models.JSONMap{"hubspot_owner_id": "7"}, untouched)
}
