package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// MockSyncService is a mock implementation of SyncService
type MockSyncService struct {
	mock.Mock
}

func (m *MockSyncService) RunPass(ctx context.Context, req *models.PassRequest) (*models.PassResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*models.PassResult)
	return result, args.Error(1)
}

func (m *MockSyncService) Load(ctx context.Context, records []*models.EntityRecord) (*models.PassResult, error) {
	args := m.Called(ctx, records)
	result, _ := args.Get(0).(*models.PassResult)
	return result, args.Error(1)
}

func (m *MockSyncService) Extract(ctx context.Context, req *models.PassRequest) (*models.PassResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*models.PassResult)
	return result, args.Error(1)
}

func (m *MockSyncService) ListRecords(ctx context.Context, status models.TxStatus, limit, offset int) ([]*models.SyncRecord, error) {
	args := m.Called(ctx, status, limit, offset)
	records, _ := args.Get(0).([]*models.SyncRecord)
	return records, args.Error(1)
}

func (m *MockSyncService) GetPass(ctx context.Context, passID string) ([]*models.SyncRecord, error) {
	args := m.Called(ctx, passID)
	records, _ := args.Get(0).([]*models.SyncRecord)
	return records, args.Error(1)
}

func setupSyncRouter(svc *MockSyncService) *mux.Router {
	cfg := &config.Config{
		Logging: config.LoggingConfig{
			Level:  "error",
			Format: "json",
		},
	}
	router := mux.NewRouter()
	NewSyncHandler(logger.NewLogger(cfg), svc).RegisterRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func doRequest(router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var testCutDate = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestSyncHandler_RunPass(t *testing.T) {
	svc := &MockSyncService{}
	router := setupSyncRouter(svc)

	result := models.NewPassResult("pass-1", models.EntityOrder, testCutDate)
	result.Counts["S"] = 2
	svc.On("RunPass", mock.Anything, mock.MatchedBy(func(req *models.PassRequest) bool {
		return req.EntityType == models.EntityOrder && req.CutDate.Equal(testCutDate) && *req.WindowHours == 6
	})).Return(result, nil).Once()

	w := doRequest(router, "POST", "/api/v1/sync/passes", map[string]interface{}{
		"entity_type":  "order",
		"cut_date":     "2024-03-01T00:00:00Z",
		"window_hours": 6,
	})

	assert.Equal(t, http.StatusOK, w.Code)
	var response models.PassResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "pass-1", response.PassID)
	assert.Equal(t, 2, response.Counts["S"])
	svc.AssertExpectations(t)
}

func TestSyncHandler_RunPassExtractMode(t *testing.T) {
	svc := &MockSyncService{}
	router := setupSyncRouter(svc)

	svc.On("Extract", mock.Anything, mock.MatchedBy(func(req *models.PassRequest) bool {
		return req.EntityType == models.EntityCompany && req.Target == "erp"
	})).Return(models.NewPassResult("pass-2", models.EntityCompany, testCutDate), nil).Once()

	w := doRequest(router, "POST", "/api/v1/sync/passes", map[string]interface{}{
		"entity_type": "company",
		"cut_date":    "2024-03-01T00:00:00Z",
		"target":      "erp",
		"mode":        "extract",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
	svc.AssertNotCalled(t, "RunPass", mock.Anything, mock.Anything)
}

func TestSyncHandler_RunPassRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"unknown entity type", map[string]interface{}{"entity_type": "invoice", "cut_date": "2024-03-01T00:00:00Z"}},
		{"missing cut date", map[string]interface{}{"entity_type": "order"}},
		{"negative window", map[string]interface{}{"entity_type": "order", "cut_date": "2024-03-01T00:00:00Z", "window_hours": -1}},
		{"unknown mode", map[string]interface{}{"entity_type": "order", "cut_date": "2024-03-01T00:00:00Z", "mode": "replay"}},
		{"not json", "{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockSyncService{}
			router := setupSyncRouter(svc)

			w := doRequest(router, "POST", "/api/v1/sync/passes", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			svc.AssertNotCalled(t, "RunPass", mock.Anything, mock.Anything)
		})
	}
}

func TestSyncHandler_RunPassFailure(t *testing.T) {
	svc := &MockSyncService{}
	router := setupSyncRouter(svc)
	svc.On("RunPass", mock.Anything, mock.Anything).Return(nil, errors.New("fetch order records: connection refused"))

	w := doRequest(router, "POST", "/api/v1/sync/passes", map[string]interface{}{
		"entity_type": "order",
		"cut_date":    "2024-03-01T00:00:00Z",
	})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Synchronization pass failed", response["error"])
	assert.Contains(t, response["details"], "connection refused")
}

func TestSyncHandler_LoadRecords(t *testing.T) {
	svc := &MockSyncService{}
	router := setupSyncRouter(svc)

	svc.On("Load", mock.Anything, mock.MatchedBy(func(records []*models.EntityRecord) bool {
		return len(records) == 1 && records[0].TxTypeSrcID == "opportunity-OP-1" && records[0].Data["dealname"] == "Big deal"
	})).Return(models.NewPassResult("pass-3", "", testCutDate), nil).Once()

	w := doRequest(router, "POST", "/api/v1/sync/records", map[string]interface{}{
		"records": []map[string]interface{}{{
			"tx_type_src_id": "opportunity-OP-1",
			"src_id":         "OP-1",
			"data":           map[string]interface{}{"dealname": "Big deal"},
		}},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)

	empty := doRequest(router, "POST", "/api/v1/sync/records", map[string]interface{}{"records": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestSyncHandler_ListRecords(t *testing.T) {
	svc := &MockSyncService{}
	router := setupSyncRouter(svc)

	rows := []*models.SyncRecord{{ID: "r1", TxStatus: "F", TxNote: "boom"}}
	svc.On("ListRecords", mock.Anything, models.TxStatusFailure, defaultListLimit, 0).Return(rows, nil).Once()
	svc.On("ListRecords", mock.Anything, models.TxStatusIgnored, maxListLimit, 20).Return([]*models.SyncRecord{}, nil).Once()

	w := doRequest(router, "GET", "/api/v1/sync/records", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Records []*models.SyncRecord `json:"records"`
		Status  string               `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "F", response.Status)
	require.Len(t, response.Records, 1)
	assert.Equal(t, "boom", response.Records[0].TxNote)

	w = doRequest(router, "GET", "/api/v1/sync/records?status=I&limit=5000&offset=20", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, path := range []string{
		"/api/v1/sync/records?status=X",
		"/api/v1/sync/records?limit=abc",
		"/api/v1/sync/records?limit=0",
		"/api/v1/sync/records?offset=-1",
	} {
		assert.Equal(t, http.StatusBadRequest, doRequest(router, "GET", path, nil).Code, path)
	}
	svc.AssertExpectations(t)
}

func TestSyncHandler_GetPass(t *testing.T) {
	svc := &MockSyncService{}
	router := setupSyncRouter(svc)

	svc.On("GetPass", mock.Anything, "pass-1").Return([]*models.SyncRecord{{ID: "r1", PassID: "pass-1"}}, nil)
	svc.On("GetPass", mock.Anything, "missing").Return([]*models.SyncRecord{}, nil)
	svc.On("GetPass", mock.Anything, "broken").Return(nil, errors.New("sync record storage is not configured"))

	assert.Equal(t, http.StatusOK, doRequest(router, "GET", "/api/v1/sync/passes/pass-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(router, "GET", "/api/v1/sync/passes/missing", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, doRequest(router, "GET", "/api/v1/sync/passes/broken", nil).Code)
}
