package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
	"crm-sync-platform/internal/services"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// SyncHandler exposes synchronization passes and their persisted outcomes
type SyncHandler struct {
	logger    *logger.Logger
	syncSvc   services.SyncService
	validator *models.ValidationService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *logger.Logger, syncSvc services.SyncService) *SyncHandler {
	return &SyncHandler{
		logger:    logger,
		syncSvc:   syncSvc,
		validator: models.NewValidationService(),
	}
}

// PassRequestBody is the body of POST /sync/passes
type PassRequestBody struct {
	models.PassRequest
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=load extract"`
}

// LoadRequestBody is the body of POST /sync/records
type LoadRequestBody struct {
	Records []*models.EntityRecord `json:"records" validate:"required,min=1,dive,required"`
}

// RegisterRoutes registers the sync routes under a versioned API router
func (h *SyncHandler) RegisterRoutes(router *mux.Router) {
	routes := router.PathPrefix("/sync").Subrouter()

	routes.HandleFunc("/passes", h.RunPass).Methods("POST")
	routes.HandleFunc("/passes/{id}", h.GetPass).Methods("GET")
	routes.HandleFunc("/records", h.LoadRecords).Methods("POST")
	routes.HandleFunc("/records", h.ListRecords).Methods("GET")
}

// RunPass runs a load pass (source to CRM) or an extract pass (CRM to a downstream target)
func (h *SyncHandler) RunPass(w http.ResponseWriter, r *http.Request) {
	var body PassRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid pass request", err)
		return
	}

	var (
		result *models.PassResult
		err    error
	)
	if body.Mode == services.ModeExtract {
		result, err = h.syncSvc.Extract(r.Context(), &body.PassRequest)
	} else {
		result, err = h.syncSvc.RunPass(r.Context(), &body.PassRequest)
	}
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadGateway, "Synchronization pass failed", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

// LoadRecords writes already-transformed records to the CRM
func (h *SyncHandler) LoadRecords(w http.ResponseWriter, r *http.Request) {
	var body LoadRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validator.ValidateStruct(&body); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid load request", err)
		return
	}

	result, err := h.syncSvc.Load(r.Context(), body.Records)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to load records", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

// ListRecords lists persisted outcomes by status, failures by default
func (h *SyncHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	status := models.TxStatus(query.Get("status"))
	if status == models.TxStatusUnset {
		status = models.TxStatusFailure
	}
	switch status {
	case models.TxStatusSuccess, models.TxStatusFailure, models.TxStatusIgnored:
	default:
		h.writeErrorResponse(w, http.StatusBadRequest, "status must be one of S, F, I", nil)
		return
	}

	limit, err := intParam(query.Get("limit"), defaultListLimit)
	if err != nil || limit <= 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil || offset < 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	records, err := h.syncSvc.ListRecords(r.Context(), status, limit, offset)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list records", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"status":  status,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetPass returns the persisted outcomes of one pass
func (h *SyncHandler) GetPass(w http.ResponseWriter, r *http.Request) {
	passID := mux.Vars(r)["id"]

	records, err := h.syncSvc.GetPass(r.Context(), passID)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get pass", err)
		return
	}
	if len(records) == 0 {
		h.writeErrorResponse(w, http.StatusNotFound, "Pass not found", nil)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pass_id": passID,
		"records": records,
	})
}

func intParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}

func (h *SyncHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *SyncHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err != nil {
		h.logger.WithError(err).Error(message)
		response["details"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
