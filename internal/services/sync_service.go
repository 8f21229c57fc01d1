package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
	"crm-sync-platform/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Pass modes used in logs and metrics
const (
	ModeLoad    = "load"
	ModeExtract = "extract"
)

const lastModifiedProperty = "hs_lastmodifieddate"

// syncService implements SyncService
type syncService struct {
	cfg         *config.Config
	source      SourceClient
	crm         CRMClient
	fetcher     *IncrementalFetcher
	transformer *RecordTransformer
	writer      *WriteReconciler
	annotator   *StatusAnnotator
	records     repositories.SyncRecordRepository
	metrics     *SyncMetrics
	validator   *models.ValidationService
	logger      *logger.Logger
	now         func() time.Time
}

// NewSyncService creates a new sync service. records may be nil, in which
// case outcomes are returned but not persisted.
func NewSyncService(
	cfg *config.Config,
	source SourceClient,
	crm CRMClient,
	fetcher *IncrementalFetcher,
	transformer *RecordTransformer,
	writer *WriteReconciler,
	annotator *StatusAnnotator,
	records repositories.SyncRecordRepository,
	metrics *SyncMetrics,
	logger *logger.Logger,
) SyncService {
	return &syncService{
		cfg:         cfg,
		source:      source,
		crm:         crm,
		fetcher:     fetcher,
		transformer: transformer,
		writer:      writer,
		annotator:   annotator,
		records:     records,
		metrics:     metrics,
		validator:   models.NewValidationService(),
		logger:      logger,
		now:         time.Now,
	}
}

// RunPass fetches changed source records, transforms them for the CRM, writes
// each one and records its outcome. Only fetch errors abort the pass.
func (s *syncService) RunPass(ctx context.Context, req *models.PassRequest) (result *models.PassResult, err error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, err
	}

	passID := uuid.NewString()
	started := s.now()
	log := s.logger.WithPass(passID).WithField("entity_type", req.EntityType).WithField("mode", ModeLoad)
	defer func() {
		s.metrics.ObservePass(ModeLoad, string(req.EntityType), started, err)
	}()

	log.WithField("cut_date", req.CutDate).Info("Starting synchronization pass")

	query := func(ctx context.Context, window Window) ([]models.RawRecord, error) {
		return s.source.FetchChanged(ctx, req.EntityType, window.Start, window.End)
	}
	raws, err := s.fetcher.Fetch(ctx, query, req.CutDate, s.windowHours(req))
	if err != nil {
		log.WithError(err).Error("Fetch failed, aborting pass")
		return nil, fmt.Errorf("fetch %s records: %w", req.EntityType, err)
	}
	s.metrics.ObserveFetch(ModeLoad, string(req.EntityType), len(raws))

	result = models.NewPassResult(passID, req.EntityType, started)
	for _, record := range s.transformer.TransformAll(ctx, raws, req.EntityType, s.cfg.Sync.Target) {
		if !record.IsTerminal() {
			s.write(ctx, record)
		}
		s.collect(ModeLoad, result, record)
	}

	s.finish(ctx, result, log)
	return result, nil
}

// Load writes records that were transformed elsewhere
func (s *syncService) Load(ctx context.Context, records []*models.EntityRecord) (result *models.PassResult, err error) {
	passID := uuid.NewString()
	started := s.now()
	log := s.logger.WithPass(passID).WithField("mode", ModeLoad)
	defer func() {
		s.metrics.ObservePass(ModeLoad, "batch", started, err)
	}()

	result = models.NewPassResult(passID, "", started)
	for _, record := range records {
		record.TxStatus = models.TxStatusUnset
		record.TxNote = ""
		record.TgtID = ""

		if err := s.transformer.Prepare(ctx, record); err != nil {
			s.annotator.Annotate(record, WriteResult{}, fmt.Errorf("%s: %w", stepPrepare, err))
		} else {
			s.write(ctx, record)
		}
		s.collect(ModeLoad, result, record)
	}

	s.finish(ctx, result, log)
	return result, nil
}

// Extract fetches changed CRM records and transforms them for the downstream
// target. Successfully transformed records stay pending for that target.
func (s *syncService) Extract(ctx context.Context, req *models.PassRequest) (result *models.PassResult, err error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, err
	}

	passID := uuid.NewString()
	started := s.now()
	log := s.logger.WithPass(passID).WithField("entity_type", req.EntityType).WithField("mode", ModeExtract)
	defer func() {
		s.metrics.ObservePass(ModeExtract, string(req.EntityType), started, err)
	}()

	target := req.Target
	if target == "" {
		target = s.cfg.Sync.ExtractTarget
	}

	objectType := req.EntityType.ObjectType()
	query := func(ctx context.Context, window Window) ([]models.RawRecord, error) {
		return s.searchChanged(ctx, req.EntityType, objectType, window)
	}

	log.WithField("cut_date", req.CutDate).WithField("target", target).Info("Starting extraction pass")

	raws, err := s.fetcher.Fetch(ctx, query, req.CutDate, s.windowHours(req))
	if err != nil {
		log.WithError(err).Error("Fetch failed, aborting pass")
		return nil, fmt.Errorf("fetch %s records: %w", objectType, err)
	}
	s.metrics.ObserveFetch(ModeExtract, string(req.EntityType), len(raws))

	result = models.NewPassResult(passID, req.EntityType, started)
	for _, record := range s.transformer.TransformAll(ctx, raws, req.EntityType, target) {
		s.collect(ModeExtract, result, record)
	}

	s.finish(ctx, result, log)
	return result, nil
}

// ListRecords returns persisted outcomes with a status
func (s *syncService) ListRecords(ctx context.Context, status models.TxStatus, limit, offset int) ([]*models.SyncRecord, error) {
	if s.records == nil {
		return nil, fmt.Errorf("sync record storage is not configured")
	}
	return s.records.GetByStatus(ctx, status, limit, offset)
}

// GetPass returns the persisted outcomes of one pass
func (s *syncService) GetPass(ctx context.Context, passID string) ([]*models.SyncRecord, error) {
	if s.records == nil {
		return nil, fmt.Errorf("sync record storage is not configured")
	}
	return s.records.GetByPass(ctx, passID)
}

func (s *syncService) write(ctx context.Context, record *models.EntityRecord) {
	result, err := s.writer.Write(ctx, record)
	s.annotator.Annotate(record, result, err)
}

func (s *syncService) collect(mode string, result *models.PassResult, record *models.EntityRecord) {
	result.Add(record)
	entityType, _ := record.Type()
	s.metrics.ObserveRecord(mode, string(entityType), string(record.TxStatus))
}

// finish persists terminal outcomes. Storage errors are logged; the CRM writes
// already happened and the caller still gets the annotated records.
func (s *syncService) finish(ctx context.Context, result *models.PassResult, log *logrus.Entry) {
	result.FinishedAt = s.now()

	if s.records != nil {
		var rows []*models.SyncRecord
		for _, record := range result.Records {
			if record.IsTerminal() {
				rows = append(rows, models.NewSyncRecord(result.PassID, record, result.FinishedAt))
			}
		}
		if len(rows) > 0 {
			if err := s.records.CreateBatch(ctx, rows); err != nil {
				log.WithError(err).WithField("records", len(rows)).Error("Failed to persist record outcomes")
			}
		}
	}

	log.WithFields(logrus.Fields{
		"records":  len(result.Records),
		"counts":   result.Counts,
		"duration": result.FinishedAt.Sub(result.StartedAt).String(),
	}).Info("Synchronization pass finished")
}

func (s *syncService) windowHours(req *models.PassRequest) int {
	if req.WindowHours != nil {
		return *req.WindowHours
	}
	return s.cfg.Sync.WindowHours
}

// searchChanged pages through CRM objects modified inside the window
func (s *syncService) searchChanged(ctx context.Context, entityType models.EntityType, objectType string, window Window) ([]models.RawRecord, error) {
	search := &models.SearchRequest{
		FilterGroups: []models.SearchFilterGroup{{Filters: s.searchFilters(entityType, window)}},
		Sorts:        []models.SearchSort{{PropertyName: lastModifiedProperty, Direction: "ASCENDING"}},
		Properties:   s.cfg.Sync.ObjectProperties[objectType],
		Limit:        s.cfg.HubSpot.PageSize,
	}

	var raws []models.RawRecord
	for {
		page, err := s.crm.Search(ctx, objectType, search)
		if err != nil {
			return nil, err
		}
		for _, object := range page.Results {
			raws = append(raws, objectToRaw(object))
		}
		if page.After == "" {
			return raws, nil
		}
		search.After = page.After
	}
}

func (s *syncService) searchFilters(entityType models.EntityType, window Window) []models.SearchFilter {
	filters := []models.SearchFilter{
		{PropertyName: lastModifiedProperty, Operator: "GTE", Value: millis(window.Start)},
		{PropertyName: lastModifiedProperty, Operator: "LT", Value: millis(window.End)},
	}

	dealFilter := s.cfg.Sync.DealFilter
	if entityType.IsDeal() {
		if dealFilter.Pipeline != "" {
			filters = append(filters, models.SearchFilter{PropertyName: "pipeline", Operator: "EQ", Value: dealFilter.Pipeline})
		}
		if dealFilter.Stage != "" {
			filters = append(filters, models.SearchFilter{PropertyName: "dealstage", Operator: "EQ", Value: dealFilter.Stage})
		}
		if len(dealFilter.OwnerIDs) > 0 {
			filters = append(filters, models.SearchFilter{PropertyName: "hubspot_owner_id", Operator: "IN", Values: dealFilter.OwnerIDs})
		}
	}
	return filters
}

// objectToRaw flattens a CRM object; the object id is always present as hs_object_id
func objectToRaw(object *models.CRMObject) models.RawRecord {
	raw := make(models.RawRecord, len(object.Properties)+1)
	for k, v := range object.Properties {
		raw[k] = v
	}
	if raw.String("hs_object_id") == "" {
		raw["hs_object_id"] = object.ID
	}
	return raw
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
