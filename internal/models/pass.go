package models

import "time"

// PassRequest describes one synchronization pass over an entity type
type PassRequest struct {
	EntityType  EntityType `json:"entity_type" validate:"required,entitytype"`
	CutDate     time.Time  `json:"cut_date" validate:"required"`
	WindowHours *int       `json:"window_hours,omitempty" validate:"omitempty,gte=0"`
	Target      string     `json:"target,omitempty"`
}

// PassResult summarizes a finished pass
type PassResult struct {
	PassID     string          `json:"pass_id"`
	EntityType EntityType      `json:"entity_type"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Counts     map[string]int  `json:"counts"`
	Records    []*EntityRecord `json:"records"`
}

// NewPassResult starts a result for a pass
func NewPassResult(passID string, entityType EntityType, startedAt time.Time) *PassResult {
	return &PassResult{
		PassID:     passID,
		EntityType: entityType,
		StartedAt:  startedAt,
		Counts:     make(map[string]int),
	}
}

// Add appends an annotated record and counts its status
func (r *PassResult) Add(record *EntityRecord) {
	r.Records = append(r.Records, record)
	status := string(record.TxStatus)
	if status == "" {
		status = "pending"
	}
	r.Counts[status]++
}
