// Package store persists raw submissions and golden provider records.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist. Both backends
// map their driver's no-rows sentinel to it.
var ErrNotFound = eris.New("store: not found")

// SubmissionFilter specifies criteria for listing submissions.
type SubmissionFilter struct {
	Status model.SubmissionStatus `json:"status,omitempty"`
	NPI    string                 `json:"npi,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// ProviderFilter specifies criteria for listing golden records.
type ProviderFilter struct {
	Status model.ProviderStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// Store defines the persistence interface for the validation pipeline.
type Store interface {
	// Submissions
	CreateSubmission(ctx context.Context, source model.SubmissionSource, npi string, payload map[string]any) (*model.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id int64, status model.SubmissionStatus, errMsg string) error
	SetRegistryResponse(ctx context.Context, id int64, raw json.RawMessage) error
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]model.Submission, error)

	// Golden records
	GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error)
	UpsertProvider(ctx context.Context, p *model.Provider) (*model.Provider, error)
	ListProviders(ctx context.Context, filter ProviderFilter) ([]model.Provider, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
