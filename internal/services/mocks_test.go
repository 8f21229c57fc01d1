package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/models"

	"github.com/stretchr/testify/mock"
)

func createTestConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
		Cache:   config.CacheConfig{PropertyTTL: 60, ReferenceTTL: 60, KeyPrefix: "test"},
		HubSpot: config.HubSpotConfig{PageSize: 100},
		Sync: config.SyncConfig{
			Target:           "hubspot",
			Timezone:         "UTC",
			MaxWidenAttempts: 500,
			IDProperty: map[string]string{
				"opportunity":       "deal_number",
				"order":             "deal_number",
				"sample_conversion": "deal_number",
				"contact":           "email",
				"company":           "company_number",
				"product":           "hs_sku",
			},
			DealFilter: config.DealFilterConfig{
				QualifyingStatus: "Billed",
				OrderTypeField:   "order_type",
			},
			CompanyReferenceProperty: "company_number",
			ContactAccountProperty:   "account_number",
			DocumentNumberProperty:   "document_number",
			ShipCutoffTimezone:       "America/Los_Angeles",
			ShipCutoffHour:           12,
			ExtractTarget:            "source",
			DealTargetIDField:        "hs_object_id",
			CompanyIDField:           "company_id",
			AssociatedContactField:   "associated_email_contact",
			PONumberProperty:         "po_number",
			ShipDateProperty:         "closedate",
		},
	}
}

// MockCRMClient is a testify mock of CRMClient
type MockCRMClient struct {
	mock.Mock
}

func (m *MockCRMClient) Search(ctx context.Context, objectType string, req *models.SearchRequest) (*models.SearchPage, error) {
	args := m.Called(ctx, objectType, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SearchPage), args.Error(1)
}

func (m *MockCRMClient) GetObject(ctx context.Context, objectType, id, idProperty string, properties []string) (*models.CRMObject, error) {
	args := m.Called(ctx, objectType, id, idProperty, properties)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CRMObject), args.Error(1)
}

func (m *MockCRMClient) GetAssociations(ctx context.Context, fromType, fromID, toType string) ([]models.AssociationResult, error) {
	args := m.Called(ctx, fromType, fromID, toType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.AssociationResult), args.Error(1)
}

func (m *MockCRMClient) CreateAssociation(ctx context.Context, fromType, fromID, toType, toID string) error {
	args := m.Called(ctx, fromType, fromID, toType, toID)
	return args.Error(0)
}

func (m *MockCRMClient) UpsertObject(ctx context.Context, objectType, idProperty string, properties map[string]interface{}) (string, error) {
	args := m.Called(ctx, objectType, idProperty, properties)
	return args.String(0), args.Error(1)
}

func (m *MockCRMClient) UpdateObject(ctx context.Context, objectType, id string, properties map[string]interface{}) (string, error) {
	args := m.Called(ctx, objectType, id, properties)
	return args.String(0), args.Error(1)
}

func (m *MockCRMClient) CreateObject(ctx context.Context, objectType string, properties map[string]interface{}) (string, error) {
	args := m.Called(ctx, objectType, properties)
	return args.String(0), args.Error(1)
}

func (m *MockCRMClient) GetProperties(ctx context.Context, objectType string) ([]*models.PropertyDefinition, error) {
	args := m.Called(ctx, objectType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PropertyDefinition), args.Error(1)
}

func (m *MockCRMClient) GetOwners(ctx context.Context) ([]*models.Owner, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Owner), args.Error(1)
}

func (m *MockCRMClient) GetTeams(ctx context.Context) ([]*models.Team, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Team), args.Error(1)
}

func (m *MockCRMClient) UploadFileByURL(ctx context.Context, fileURL string) (string, error) {
	args := m.Called(ctx, fileURL)
	return args.String(0), args.Error(1)
}

func (m *MockCRMClient) GetFileSignedURL(ctx context.Context, fileID string) (*models.Attachment, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Attachment), args.Error(1)
}

// MockSourceClient is a testify mock of SourceClient
type MockSourceClient struct {
	mock.Mock
}

func (m *MockSourceClient) FetchChanged(ctx context.Context, entityType models.EntityType, start, end time.Time) ([]models.RawRecord, error) {
	args := m.Called(ctx, entityType, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawRecord), args.Error(1)
}

// MockSyncRecordRepository is a testify mock of SyncRecordRepository
type MockSyncRecordRepository struct {
	mock.Mock
}

func (m *MockSyncRecordRepository) Create(ctx context.Context, record *models.SyncRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockSyncRecordRepository) CreateBatch(ctx context.Context, records []*models.SyncRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockSyncRecordRepository) GetByID(ctx context.Context, id string) (*models.SyncRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) GetByPass(ctx context.Context, passID string) ([]*models.SyncRecord, error) {
	args := m.Called(ctx, passID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) GetByStatus(ctx context.Context, status models.TxStatus, limit, offset int) ([]*models.SyncRecord, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) GetLatestBySrcID(ctx context.Context, txTypeSrcID string) (*models.SyncRecord, error) {
	args := m.Called(ctx, txTypeSrcID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncRecord), args.Error(1)
}

func (m *MockSyncRecordRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

// MockFieldMappingRepository is a testify mock of FieldMappingRepository
type MockFieldMappingRepository struct {
	mock.Mock
}

func (m *MockFieldMappingRepository) Create(ctx context.Context, mapping *models.FieldMapping) error {
	args := m.Called(ctx, mapping)
	return args.Error(0)
}

func (m *MockFieldMappingRepository) GetByScope(ctx context.Context, target, entityType string) ([]*models.FieldMapping, error) {
	args := m.Called(ctx, target, entityType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.FieldMapping), args.Error(1)
}

func (m *MockFieldMappingRepository) Update(ctx context.Context, mapping *models.FieldMapping) error {
	args := m.Called(ctx, mapping)
	return args.Error(0)
}

func (m *MockFieldMappingRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// fakeCRM is a small in-memory CRM used where tests need state across calls
type fakeCRM struct {
	mutex        sync.Mutex
	nextID       int
	objects      map[string]map[string]*models.CRMObject
	associations map[string][]models.AssociationResult
	owners       []*models.Owner
	properties   map[string][]*models.PropertyDefinition
	failAssoc    bool
	calls        map[string]int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		nextID:       1000,
		objects:      make(map[string]map[string]*models.CRMObject),
		associations: make(map[string][]models.AssociationResult),
		properties:   make(map[string][]*models.PropertyDefinition),
		calls:        make(map[string]int),
	}
}

func (f *fakeCRM) add(objectType string, properties map[string]interface{}) string {
	f.nextID++
	id := strconv.Itoa(f.nextID)
	if f.objects[objectType] == nil {
		f.objects[objectType] = make(map[string]*models.CRMObject)
	}
	props := make(map[string]interface{}, len(properties)+1)
	for k, v := range properties {
		props[k] = v
	}
	props["hs_object_id"] = id
	f.objects[objectType][id] = &models.CRMObject{ID: id, Properties: props}
	return id
}

func (f *fakeCRM) find(objectType, id, idProperty string) *models.CRMObject {
	if idProperty == "" {
		return f.objects[objectType][id]
	}
	for _, object := range f.objects[objectType] {
		if object.Property(idProperty) == id {
			return object
		}
	}
	return nil
}

func (f *fakeCRM) count(objectType string) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.objects[objectType])
}

func (f *fakeCRM) linked(fromType, fromID, toType string) []models.AssociationResult {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.associations[fromType+"/"+fromID+"/"+toType]
}

func (f *fakeCRM) Search(ctx context.Context, objectType string, req *models.SearchRequest) (*models.SearchPage, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["search"]++
	page := &models.SearchPage{}
	for _, object := range f.objects[objectType] {
		page.Results = append(page.Results, object)
	}
	page.Total = len(page.Results)
	return page, nil
}

func (f *fakeCRM) GetObject(ctx context.Context, objectType, id, idProperty string, properties []string) (*models.CRMObject, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["get_object"]++
	if object := f.find(objectType, id, idProperty); object != nil {
		return object, nil
	}
	return nil, &HTTPStatusError{StatusCode: 404, Method: "GET", URL: fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, id)}
}

func (f *fakeCRM) GetAssociations(ctx context.Context, fromType, fromID, toType string) ([]models.AssociationResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["get_associations"]++
	return f.associations[fromType+"/"+fromID+"/"+toType], nil
}

func (f *fakeCRM) CreateAssociation(ctx context.Context, fromType, fromID, toType, toID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["create_association"]++
	if f.failAssoc {
		return &HTTPStatusError{StatusCode: 400, Method: "PUT", URL: "/crm/v4/objects/associations"}
	}
	key := fromType + "/" + fromID + "/" + toType
	f.associations[key] = append(f.associations[key], models.AssociationResult{ToObjectID: toID})
	reverse := toType + "/" + toID + "/" + fromType
	f.associations[reverse] = append(f.associations[reverse], models.AssociationResult{ToObjectID: fromID})
	return nil
}

func (f *fakeCRM) UpsertObject(ctx context.Context, objectType, idProperty string, properties map[string]interface{}) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["upsert"]++
	key := stringify(properties[idProperty])
	if existing := f.find(objectType, key, idProperty); existing != nil {
		for k, v := range properties {
			existing.Properties[k] = v
		}
		return existing.ID, nil
	}
	return f.add(objectType, properties), nil
}

func (f *fakeCRM) UpdateObject(ctx context.Context, objectType, id string, properties map[string]interface{}) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["update"]++
	existing := f.find(objectType, id, "")
	if existing == nil {
		return "", &HTTPStatusError{StatusCode: 404, Method: "PATCH", URL: "/crm/v3/objects/" + objectType + "/" + id}
	}
	for k, v := range properties {
		existing.Properties[k] = v
	}
	return existing.ID, nil
}

func (f *fakeCRM) CreateObject(ctx context.Context, objectType string, properties map[string]interface{}) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["create"]++
	return f.add(objectType, properties), nil
}

func (f *fakeCRM) GetProperties(ctx context.Context, objectType string) ([]*models.PropertyDefinition, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["get_properties"]++
	return f.properties[objectType], nil
}

func (f *fakeCRM) GetOwners(ctx context.Context) ([]*models.Owner, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls["get_owners"]++
	return f.owners, nil
}

func (f *fakeCRM) GetTeams(ctx context.Context) ([]*models.Team, error) {
	return nil, nil
}

func (f *fakeCRM) UploadFileByURL(ctx context.Context, fileURL string) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nextID++
	return "file-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeCRM) GetFileSignedURL(ctx context.Context, fileID string) (*models.Attachment, error) {
	return &models.Attachment{ID: fileID, Name: fileID, Extension: "pdf", URL: "https://files.example.com/" + fileID}, nil
}
