package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"crm-sync-platform/internal/models"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHubSpotClient(t *testing.T, router *mux.Router) *hubSpotClient {
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	cfg := createTestConfig()
	cfg.HubSpot.BaseURL = server.URL
	cfg.HubSpot.AccessToken = "pat-test"

	errorHandler := NewErrorHandler(createTestLogger())
	errorHandler.SetRetryPolicy(fastRetryPolicy())

	client := NewHubSpotClient(cfg, errorHandler, createTestLogger()).(*hubSpotClient)
	client.pollInterval = time.Millisecond
	return client
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestHubSpotClient_SearchAndGet(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/crm/v3/objects/deals/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer pat-test", r.Header.Get("Authorization"))
		var req models.SearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 100, req.Limit)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total":   1,
			"results": []map[string]interface{}{{"id": "11", "properties": map[string]interface{}{"dealname": "D"}}},
			"paging":  map[string]interface{}{"next": map[string]interface{}{"after": "11"}},
		})
	}).Methods(http.MethodPost)
	router.HandleFunc("/crm/v3/objects/products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != "W-1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "resource not found"})
			return
		}
		assert.Equal(t, "hs_sku", r.URL.Query().Get("idProperty"))
		assert.Equal(t, "name,price", r.URL.Query().Get("properties"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "p1", "properties": map[string]interface{}{"name": "Widget"}})
	}).Methods(http.MethodGet)
	client := newTestHubSpotClient(t, router)
	ctx := context.Background()

	page, err := client.Search(ctx, models.ObjectDeals, &models.SearchRequest{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "11", page.After)
	assert.Equal(t, "D", page.Results[0].Property("dealname"))

	product, err := client.GetObject(ctx, models.ObjectProducts, "W-1", "hs_sku", []string{"name", "price"})
	require.NoError(t, err)
	assert.Equal(t, "p1", product.ID)

	_, err = client.GetObject(ctx, models.ObjectProducts, "W-404", "hs_sku", []string{"name", "price"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHubSpotClient_Associations(t *testing.T) {
	var created int32
	router := mux.NewRouter()
	router.HandleFunc("/crm/v4/objects/deals/11/associations/line_items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"results": []map[string]interface{}{{"toObjectId": 501, "associationTypes": []map[string]interface{}{{"typeId": 20, "category": "HUBSPOT_DEFINED"}}}},
				"paging":  map[string]interface{}{"next": map[string]interface{}{"after": "501"}},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"results": []map[string]interface{}{{"toObjectId": 502}},
		})
	}).Methods(http.MethodGet)
	router.HandleFunc("/crm/v4/objects/line_items/501/associations/default/deals/11", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&created, 1)
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "COMPLETE"})
	}).Methods(http.MethodPut)
	client := newTestHubSpotClient(t, router)
	ctx := context.Background()

	associations, err := client.GetAssociations(ctx, models.ObjectDeals, "11", models.ObjectLineItems)
	require.NoError(t, err)
	require.Len(t, associations, 2)
	assert.Equal(t, "501", associations[0].ToObjectID)
	assert.Equal(t, 20, associations[0].Types[0].TypeID)
	assert.Equal(t, "502", associations[1].ToObjectID)

	require.NoError(t, client.CreateAssociation(ctx, models.ObjectLineItems, "501", models.ObjectDeals, "11"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&created))
}

func TestHubSpotClient_Writes(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/crm/v3/objects/deals/batch/upsert", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Inputs []struct {
				IDProperty string                 `json:"idProperty"`
				ID         string                 `json:"id"`
				Properties map[string]interface{} `json:"properties"`
			} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Inputs, 1)
		assert.Equal(t, "deal_number", body.Inputs[0].IDProperty)
		assert.Equal(t, "SO-1", body.Inputs[0].ID)
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []map[string]interface{}{{"id": "900"}}})
	}).Methods(http.MethodPost)
	router.HandleFunc("/crm/v3/objects/deals/900", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "900"})
	}).Methods(http.MethodPatch)
	router.HandleFunc("/crm/v3/objects/line_items", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]interface{}{"id": "501"})
	}).Methods(http.MethodPost)
	client := newTestHubSpotClient(t, router)
	ctx := context.Background()

	id, err := client.UpsertObject(ctx, models.ObjectDeals, "deal_number", map[string]interface{}{"deal_number": "SO-1"})
	require.NoError(t, err)
	assert.Equal(t, "900", id)

	_, err = client.UpsertObject(ctx, models.ObjectDeals, "deal_number", map[string]interface{}{"dealname": "x"})
	assert.Error(t, err, "upsert needs the id property value")

	id, err = client.UpdateObject(ctx, models.ObjectDeals, "900", map[string]interface{}{"dealstage": "closedwon"})
	require.NoError(t, err)
	assert.Equal(t, "900", id)

	id, err = client.CreateObject(ctx, models.ObjectLineItems, map[string]interface{}{"quantity": 1})
	require.NoError(t, err)
	assert.Equal(t, "501", id)
}

func TestHubSpotClient_Metadata(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/crm/v3/properties/companies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []map[string]interface{}{
			{"name": "industry", "type": "enumeration", "fieldType": "select", "options": []map[string]string{{"value": "tech", "label": "Technology"}}},
		}})
	}).Methods(http.MethodGet)
	router.HandleFunc("/crm/v3/owners", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("archived") == "true" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"results": []map[string]interface{}{{"id": "3", "firstName": "Old", "lastName": "Owner"}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []map[string]interface{}{{"id": "1", "userId": 77, "firstName": "Jane", "lastName": "Doe"}}})
	}).Methods(http.MethodGet)
	router.HandleFunc("/settings/v3/users/teams", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []map[string]interface{}{{"id": "t1", "name": "West"}}})
	}).Methods(http.MethodGet)
	client := newTestHubSpotClient(t, router)
	ctx := context.Background()

	props, err := client.GetProperties(ctx, models.ObjectCompanies)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Technology", props[0].Options[0].Label)

	owners, err := client.GetOwners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 2)
	assert.False(t, owners[0].Archived)
	assert.Equal(t, int64(77), owners[0].UserID)
	assert.True(t, owners[1].Archived)

	teams, err := client.GetTeams(ctx)
	require.NoError(t, err)
	assert.Equal(t, "West", teams[0].Name)
}

func TestHubSpotClient_Files(t *testing.T) {
	var polls int32
	router := mux.NewRouter()
	router.HandleFunc("/files/v3/files/import-from-url/async", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": "task-1"})
	}).Methods(http.MethodPost)
	router.HandleFunc("/files/v3/files/import-from-url/async/tasks/task-1/status", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 3 {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "PROCESSING"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "COMPLETE", "result": map[string]interface{}{"id": "f-9"}})
	}).Methods(http.MethodGet)
	router.HandleFunc("/files/v3/files/f-9/signed-url", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"url": "https://cdn.example.com/f-9", "name": "invoice", "extension": "pdf", "expiresAt": "2024-01-15T21:00:00Z",
		})
	}).Methods(http.MethodGet)
	client := newTestHubSpotClient(t, router)
	ctx := context.Background()

	fileID, err := client.UploadFileByURL(ctx, "https://example.com/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, "f-9", fileID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&polls))

	attachment, err := client.GetFileSignedURL(ctx, "f-9")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/f-9", attachment.URL)
	assert.Equal(t, "pdf", attachment.Extension)
	assert.Equal(t, time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC), attachment.ExpiresAt.UTC())
}

func TestHubSpotClient_RetriesTransientErrors(t *testing.T) {
	var attempts int32
	router := mux.NewRouter()
	router.HandleFunc("/crm/v3/properties/deals", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
			return
		}
		_, _ = io.WriteString(w, `{"results":[]}`)
	}).Methods(http.MethodGet)
	client := newTestHubSpotClient(t, router)

	props, err := client.GetProperties(context.Background(), models.ObjectDeals)
	require.NoError(t, err)
	assert.Empty(t, props)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.True(t, parseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)) > 30*time.Minute)
}

func TestHubSpotClient_MaxRetriesStaysWithClient(t *testing.T) {
	cfg := createTestConfig()
	cfg.HubSpot.MaxRetries = 5

	shared := NewErrorHandler(createTestLogger())
	shared.SetRetryPolicy(fastRetryPolicy())

	client := NewHubSpotClient(cfg, shared, createTestLogger()).(*hubSpotClient)
	require.NotNil(t, client.retryPolicy)
	assert.Equal(t, 6, client.retryPolicy.MaxAttempts)

	// The source client shares the handler and keeps its policy
	source := NewSourceClient(cfg, shared, createTestLogger())
	require.NotNil(t, source)
	assert.Equal(t, fastRetryPolicy().MaxAttempts, shared.retryPolicy.MaxAttempts)
}
