package services

import (
	"errors"

	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// StatusAnnotator records the terminal outcome of a write on its record
type StatusAnnotator struct {
	logger *logger.Logger
}

// NewStatusAnnotator creates a new status annotator
func NewStatusAnnotator(logger *logger.Logger) *StatusAnnotator {
	return &StatusAnnotator{logger: logger}
}

// Annotate sets exactly one terminal status. A hard error wins over the result;
// failures carry the sentinel target id.
func (a *StatusAnnotator) Annotate(record *models.EntityRecord, result WriteResult, err error) {
	log := a.logger.WithRecord(record.TxTypeSrcID)

	if err == nil && result.Outcome != OutcomeIgnored && result.TgtID == "" {
		err = errors.New("write returned no target id")
	}

	switch {
	case err != nil:
		record.TxStatus = models.TxStatusFailure
		record.TxNote = err.Error()
		record.TgtID = models.FailedTargetID
		log.WithError(err).Error("Failed to write record")

	case result.Outcome == OutcomeIgnored:
		record.TxStatus = models.TxStatusIgnored
		record.TxNote = result.Note
		record.TgtID = ""
		log.WithField("reason", result.Note).Info("Record ignored")

	default:
		record.TxStatus = models.TxStatusSuccess
		record.TxNote = result.Note
		record.TgtID = result.TgtID
		log.WithField("tgt_id", result.TgtID).Debug("Record written")
	}
}
