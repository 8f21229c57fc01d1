package services

import (
	"context"
	"fmt"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// Transform failure steps, used as tx_note prefixes
const (
	stepExtract = "extract"
	stepEnrich  = "enrich"
	stepMap     = "map"
	stepPrepare = "prepare"
)

// RecordTransformer converts raw records into entity records. Records bound for
// the CRM only pass through the write-side preparation; records extracted from
// the CRM run through the entity's enricher first.
type RecordTransformer struct {
	cfg        *config.SyncConfig
	mapper     *FieldMapper
	enrichment *Enrichment
	enrichers  map[models.EntityType]Enricher
	logger     *logger.Logger
}

// NewRecordTransformer creates a new record transformer
func NewRecordTransformer(cfg *config.Config, mapper *FieldMapper, enrichment *Enrichment, logger *logger.Logger) *RecordTransformer {
	return &RecordTransformer{
		cfg:        &cfg.Sync,
		mapper:     mapper,
		enrichment: enrichment,
		enrichers:  enrichment.Enrichers(),
		logger:     logger,
	}
}

// Transform builds the entity record of one raw record. It never returns nil:
// failures come back as records with TxStatus F, a note naming the failed step
// and the unmapped raw record as data.
func (t *RecordTransformer) Transform(ctx context.Context, raw models.RawRecord, entityType models.EntityType, target string) *models.EntityRecord {
	record := &models.EntityRecord{EntityType: entityType}
	keys := t.cfg.KeysFor(target, string(entityType))

	record.SrcID = raw.String(keys.SrcID)
	record.TxTypeSrcID = models.TxTypeSrcID(entityType, record.SrcID)
	if record.SrcID == "" {
		return t.fail(record, raw, stepExtract, fmt.Errorf("missing %s", keys.SrcID))
	}

	var err error
	if record.CreatedAt, err = optionalTimestamp(raw, keys.CreatedAt); err != nil {
		return t.fail(record, raw, stepExtract, err)
	}
	if record.UpdatedAt, err = optionalTimestamp(raw, keys.UpdatedAt); err != nil {
		return t.fail(record, raw, stepExtract, err)
	}

	working := raw.Clone()
	if target != t.cfg.Target {
		if enrich, ok := t.enrichers[entityType]; ok {
			if err := enrich(ctx, working); err != nil {
				return t.fail(record, raw, stepEnrich, err)
			}
		}
	}

	fieldMap, err := t.mapper.FieldMapFor(ctx, target, entityType)
	if err != nil {
		return t.fail(record, raw, stepMap, err)
	}
	data, err := t.mapper.Apply(fieldMap, working)
	if err != nil {
		return t.fail(record, working, stepMap, err)
	}

	record.Data = data
	if target == t.cfg.Target {
		if err := t.Prepare(ctx, record); err != nil {
			return t.fail(record, working, stepPrepare, err)
		}
	}
	return record
}

// Prepare applies the CRM-bound adjustments to mapped data: deals get their
// "owner_name" replaced by the owner's id.
func (t *RecordTransformer) Prepare(ctx context.Context, record *models.EntityRecord) error {
	entityType, err := record.Type()
	if err != nil || !entityType.IsDeal() || record.Data == nil {
		return nil
	}
	return t.enrichment.ResolveOwnerName(ctx, record.Data)
}

// TransformAll transforms a batch in order
func (t *RecordTransformer) TransformAll(ctx context.Context, raws []models.RawRecord, entityType models.EntityType, target string) []*models.EntityRecord {
	records := make([]*models.EntityRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, t.Transform(ctx, raw, entityType, target))
	}
	return records
}

// fail marks a record that never reached the write step. Every failure carries
// the sentinel target id, so the sentinel wins over "tgt id only after a write".
func (t *RecordTransformer) fail(record *models.EntityRecord, raw models.RawRecord, step string, err error) *models.EntityRecord {
	record.Data = models.JSONMap(raw.Clone())
	record.TxStatus = models.TxStatusFailure
	record.TxNote = fmt.Sprintf("%s: %v", step, err)
	record.TgtID = models.FailedTargetID

	t.logger.WithRecord(record.TxTypeSrcID).
		WithField("step", step).
		WithError(err).
		Error("Failed to transform record")
	return record
}

func optionalTimestamp(raw models.RawRecord, key string) (time.Time, error) {
	if key == "" {
		return time.Time{}, nil
	}
	value, ok := raw[key]
	if !ok || isEmpty(value) {
		return time.Time{}, nil
	}
	ts, err := ParseTimestamp(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return ts, nil
}
