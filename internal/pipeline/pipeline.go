package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/compare"
	"github.com/sells-group/provider-cli/internal/config"
	"github.com/sells-group/provider-cli/internal/enrich"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
	"github.com/sells-group/provider-cli/pkg/nppes"
)

const defaultAcceptConfidence = 80

// Comparator scores a submitted payload against a registry record.
type Comparator interface {
	Compare(ctx context.Context, submitted map[string]any, rec *nppes.CanonicalRecord) (*model.ComparisonResult, error)
}

// Resolver fills in missing provider fields from public web sources.
type Resolver interface {
	Resolve(ctx context.Context, seed enrich.Seed) (*model.ProviderProfile, error)
}

var _ Comparator = (*compare.Comparator)(nil)
var _ Resolver = (*enrich.Resolver)(nil)

// Pipeline drives a submission from queued to a terminal status: registry
// lookup, AI comparison, golden-record upsert, and conditional enrichment.
// Every status transition is persisted before the next stage runs, so a
// crash mid-submission leaves an accurate last-known state behind.
type Pipeline struct {
	store      store.Store
	registry   nppes.Client
	comparator Comparator
	resolver   Resolver
	cfg        config.PipelineConfig

	// npiLocks serializes golden-record upserts per NPI. Two submissions
	// for the same provider may run concurrently up to the upsert.
	npiLocks sync.Map
}

// New wires a pipeline. resolver may be nil, in which case submissions that
// would enrich settle at processed with the golden record in needs_review.
func New(st store.Store, registry nppes.Client, comparator Comparator, resolver Resolver, cfg config.PipelineConfig) *Pipeline {
	if cfg.AcceptConfidence <= 0 {
		cfg.AcceptConfidence = defaultAcceptConfidence
	}
	return &Pipeline{
		store:      st,
		registry:   registry,
		comparator: comparator,
		resolver:   resolver,
		cfg:        cfg,
	}
}

// Process runs one submission through the full pipeline. It returns an error
// only for infrastructure failures (store unreachable); domain outcomes such
// as a rejected NPI or a failed comparison are recorded on the submission
// and return nil.
func (p *Pipeline) Process(ctx context.Context, submissionID int64) error {
	sub, err := p.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load submission %d", submissionID)
	}
	if sub.Status.Terminal() {
		zap.L().Debug("submission already terminal",
			zap.Int64("submission_id", sub.ID),
			zap.String("status", string(sub.Status)))
		return nil
	}

	log := zap.L().With(zap.Int64("submission_id", sub.ID), zap.String("npi", sub.NPI))

	if strings.TrimSpace(sub.NPI) == "" {
		log.Warn("submission has no identifier")
		return p.setStatus(ctx, sub.ID, model.StatusFailed, "Missing identifier")
	}

	if err := p.setStatus(ctx, sub.ID, model.StatusLookupInProgress, ""); err != nil {
		return err
	}

	rec, err := p.registry.Lookup(ctx, sub.NPI)
	switch {
	case errors.Is(err, nppes.ErrNotFound) || errors.Is(err, nppes.ErrInvalidNPI):
		log.Info("identifier rejected by registry", zap.Error(err))
		return p.setStatus(ctx, sub.ID, model.StatusRejectedInvalid, err.Error())
	case err != nil:
		log.Error("registry lookup failed", zap.Error(err))
		return p.setStatus(ctx, sub.ID, model.StatusFailed, err.Error())
	}

	if err := p.store.SetRegistryResponse(ctx, sub.ID, rec.Raw); err != nil {
		return eris.Wrapf(err, "pipeline: persist registry response for %d", sub.ID)
	}
	if err := p.setStatus(ctx, sub.ID, model.StatusValidating, ""); err != nil {
		return err
	}

	result, err := p.comparator.Compare(ctx, sub.InputPayload, rec)
	if err != nil {
		log.Error("comparison failed", zap.Error(err))
		return p.setStatus(ctx, sub.ID, model.StatusFailedValidation, err.Error())
	}

	provider := buildProvider(rec, sub.InputPayload, result)

	if result.Accepted(p.cfg.AcceptConfidence) {
		provider.Status = model.ProviderVerified
		if _, err := p.upsert(ctx, provider); err != nil {
			return err
		}
		log.Info("submission verified",
			zap.Float64("confidence", result.Confidence))
		return p.setStatus(ctx, sub.ID, model.StatusProcessed, "")
	}

	// Below threshold: the golden record lands first, flagged for review, so
	// the data is queryable even if enrichment never completes.
	provider.Status = model.ProviderNeedsReview
	saved, err := p.upsert(ctx, provider)
	if err != nil {
		return err
	}
	if err := p.setStatus(ctx, sub.ID, model.StatusEnriching, ""); err != nil {
		return err
	}

	return p.enrich(ctx, sub, result, saved, log)
}

// enrich runs the web resolver for a needs_review record and applies what it
// finds to empty fields. Resolver failure is not a submission failure; the
// record simply stays in review.
func (p *Pipeline) enrich(ctx context.Context, sub *model.Submission, result *model.ComparisonResult, provider *model.Provider, log *zap.Logger) error {
	missing := missingFields(provider)
	if len(missing) == 0 || p.resolver == nil {
		log.Info("nothing to enrich", zap.Strings("missing", missing))
		return p.setStatus(ctx, sub.ID, model.StatusProcessed, "")
	}

	seed := enrich.Seed{
		NPI:    provider.NPI,
		Name:   provider.DisplayName,
		City:   provider.City,
		State:  provider.State,
		Known:  seedKnown(provider),
		Issues: result.Issues,
	}

	profile, err := p.resolver.Resolve(ctx, seed)
	if err != nil {
		log.Warn("enrichment did not complete", zap.Error(err))
		return p.setStatus(ctx, sub.ID, model.StatusProcessed, "")
	}

	filled := applyEnrichment(provider, profile)
	if filled > 0 {
		provider.Status = model.ProviderEnriched
		if _, err := p.upsert(ctx, provider); err != nil {
			return err
		}
		log.Info("submission enriched", zap.Int("fields_filled", filled))
		return p.setStatus(ctx, sub.ID, model.StatusEnriched, "")
	}

	log.Info("enrichment found nothing new")
	return p.setStatus(ctx, sub.ID, model.StatusProcessed, "")
}

// seedKnown collects confirmed fields the resolver can anchor on.
func seedKnown(p *model.Provider) map[string]string {
	known := make(map[string]string)
	if p.TaxonomyCode != "" {
		known["taxonomy_code"] = p.TaxonomyCode
	}
	if len(p.Specialties) > 0 {
		known["specialty"] = p.Specialties[0]
	}
	if p.AddressLine1 != "" {
		known["address"] = p.AddressLine1
	}
	if p.Phone != "" {
		known["phone"] = p.Phone
	}
	if p.PracticeName != "" {
		known["practice"] = p.PracticeName
	}
	return known
}

func (p *Pipeline) setStatus(ctx context.Context, id int64, status model.SubmissionStatus, errMsg string) error {
	if err := p.store.UpdateSubmissionStatus(ctx, id, status, errMsg); err != nil {
		return eris.Wrapf(err, "pipeline: set submission %d to %s", id, status)
	}
	return nil
}

// upsert writes a golden record, holding the per-NPI lock so concurrent
// submissions for the same provider serialize their writes.
func (p *Pipeline) upsert(ctx context.Context, provider *model.Provider) (*model.Provider, error) {
	muIface, _ := p.npiLocks.LoadOrStore(provider.NPI, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	saved, err := p.store.UpsertProvider(ctx, provider)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: upsert provider %s", provider.NPI)
	}
	return saved, nil
}
