package model

import (
	"encoding/json"
	"time"
)

// SubmissionSource identifies how a raw submission entered the system.
type SubmissionSource string

const (
	SourceForm     SubmissionSource = "form"
	SourceCSV      SubmissionSource = "csv"
	SourceDocument SubmissionSource = "document"
)

// SubmissionStatus represents the current state of a raw submission in the
// validation pipeline.
type SubmissionStatus string

const (
	StatusQueued           SubmissionStatus = "queued"
	StatusLookupInProgress SubmissionStatus = "lookup_in_progress"
	StatusLookupFailed     SubmissionStatus = "lookup_failed"
	StatusRejectedInvalid  SubmissionStatus = "rejected_invalid_id"
	StatusValidating       SubmissionStatus = "validating"
	StatusFailedValidation SubmissionStatus = "failed_validation"
	StatusEnriching        SubmissionStatus = "enriching"
	StatusProcessed        SubmissionStatus = "processed"
	StatusEnriched         SubmissionStatus = "enriched"
	StatusFailed           SubmissionStatus = "failed"
)

// Terminal reports whether the status is final. A submission is immutable
// once it reaches a terminal status.
func (s SubmissionStatus) Terminal() bool {
	switch s {
	case StatusProcessed, StatusEnriched, StatusFailed,
		StatusRejectedInvalid, StatusFailedValidation, StatusLookupFailed:
		return true
	}
	return false
}

// statusRank orders statuses by pipeline stage so that a sequence of observed
// statuses can be checked for monotonic progress. Statuses in the same stage
// share a rank.
var statusRank = map[SubmissionStatus]int{
	StatusQueued:           0,
	StatusLookupInProgress: 1,
	StatusLookupFailed:     2,
	StatusRejectedInvalid:  2,
	StatusFailed:           2,
	StatusValidating:       3,
	StatusFailedValidation: 4,
	StatusEnriching:        5,
	StatusProcessed:        6,
	StatusEnriched:         6,
}

// Rank returns the pipeline stage ordering of a status. Later stages have
// strictly greater ranks; a reader must never observe a rank decrease.
func (s SubmissionStatus) Rank() int {
	return statusRank[s]
}

// Submission is a raw provider record awaiting validation. Created on
// ingestion, mutated only by the pipeline, never deleted.
type Submission struct {
	ID               int64            `json:"submission_id"`
	Source           SubmissionSource `json:"source"`
	NPI              string           `json:"npi,omitempty"`
	InputPayload     map[string]any   `json:"input_payload,omitempty"`
	RegistryResponse json.RawMessage  `json:"registry_response,omitempty"`
	Status           SubmissionStatus `json:"status"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// StageState is the progress state of a single pipeline stage.
type StageState string

const (
	StagePending    StageState = "pending"
	StageInProgress StageState = "in_progress"
	StageCompleted  StageState = "completed"
	StageFailed     StageState = "failed"
)

// StageProgress is the per-stage breakdown exposed by the status-read
// interface, derived deterministically from the submission status.
type StageProgress struct {
	Submitted  StageState `json:"submitted"`
	Lookup     StageState `json:"lookup"`
	Validation StageState `json:"validation"`
	Enrichment StageState `json:"enrichment"`
}

// Progress derives the per-stage breakdown from the submission status.
func (s *Submission) Progress() StageProgress {
	p := StageProgress{
		Submitted:  StageCompleted,
		Lookup:     StagePending,
		Validation: StagePending,
		Enrichment: StagePending,
	}

	switch s.Status {
	case StatusQueued:
	case StatusLookupInProgress:
		p.Lookup = StageInProgress
	case StatusLookupFailed, StatusRejectedInvalid, StatusFailed:
		p.Lookup = StageFailed
	case StatusValidating:
		p.Lookup = StageCompleted
		p.Validation = StageInProgress
	case StatusFailedValidation:
		p.Lookup = StageCompleted
		p.Validation = StageFailed
	case StatusEnriching:
		p.Lookup = StageCompleted
		p.Validation = StageCompleted
		p.Enrichment = StageInProgress
	case StatusProcessed:
		p.Lookup = StageCompleted
		p.Validation = StageCompleted
		p.Enrichment = StageCompleted
	case StatusEnriched:
		p.Lookup = StageCompleted
		p.Validation = StageCompleted
		p.Enrichment = StageCompleted
	}

	return p
}
