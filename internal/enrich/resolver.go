// Package enrich resolves provider records that failed registry validation
// by researching them on the public web through an agent loop.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/config"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/pkg/anthropic"
)

// ErrRoundBudget indicates the agent exhausted its round budget without
// producing a final profile.
var ErrRoundBudget = eris.New("enrich: round budget exhausted")

// ErrMalformedExtraction indicates the agent's final profile did not parse.
var ErrMalformedExtraction = eris.New("enrich: malformed final profile")

const systemText = `You are a healthcare provider research agent. Your job is to verify and complete a provider's public information using web search and page fetches.

Each turn, respond with exactly one JSON action:
  {"action": "search", "query": "<web search query>"}
  {"action": "scrape", "url": "<exact URL from earlier search results>"}
  {"action": "finish", "profile": {<completed profile JSON>}}

Rules:
- Only report facts you saw in fetched content or search snippets. Use null for anything you could not verify. Never guess.
- If sources show multiple practice locations, keep every distinct location; do not pick one.
- Prefer official sources: the provider's own site, health system directories, state license boards.
- Finish as soon as you have enough to fill the profile; do not keep searching for marginal gains.

The finish profile schema:
{
  "provider_type": "individual" | "organization" | "unknown",
  "npi": "...", "first_name": "...", "last_name": "...", "credential": "...",
  "organization_name": "...",
  "primary_email": "...", "website_url": "...", "phones": ["..."], "fax": "...",
  "taxonomy_codes": ["..."], "specialties": ["..."],
  "licenses": [{"license_number": "...", "state": "...", "license_type": "...", "status": "..."}],
  "accepting_new_patients": true | false | null,
  "offers_telehealth": true | false | null,
  "languages_spoken": ["..."],
  "locations": [{"street_address_1": "...", "city": "...", "state": "...", "zip_code": "...", "address_type": "Practice", "phone": "..."}],
  "verification_sources": ["<URLs you used>"],
  "data_confidence_score": <0.0-1.0>
}`

// Seed is what the resolver starts from: identity anchors plus the
// discrepancies that routed the submission to enrichment.
type Seed struct {
	NPI   string
	Name  string
	City  string
	State string

	// Known holds fields already confirmed against the registry. The agent
	// uses them as search anchors, not as facts to re-verify.
	Known map[string]string

	// Issues are the comparator's discrepancy notes (e.g. "phone_mismatch").
	Issues []string
}

// Resolver runs the web research agent.
type Resolver struct {
	ai      anthropic.Client
	session *Session
	cfg     config.EnrichConfig
	aiCfg   config.AnthropicConfig
}

// NewResolver creates a Resolver sharing the given session.
func NewResolver(ai anthropic.Client, session *Session, cfg config.EnrichConfig, aiCfg config.AnthropicConfig) *Resolver {
	return &Resolver{ai: ai, session: session, cfg: cfg, aiCfg: aiCfg}
}

// queryVariants builds redundant seed queries. Search engines rank
// differently per phrasing; overlapping variants cost little and miss less.
func queryVariants(seed Seed) []string {
	location := strings.TrimSpace(strings.Join([]string{seed.City, seed.State}, " "))
	var queries []string
	if seed.Name != "" && location != "" {
		queries = append(queries, fmt.Sprintf("%s %s", seed.Name, location))
	}
	if seed.Name != "" && seed.NPI != "" {
		queries = append(queries, fmt.Sprintf("%s NPI %s", seed.Name, seed.NPI))
	}
	if seed.Name != "" && location != "" {
		queries = append(queries, fmt.Sprintf("%s %s practice location", seed.Name, location))
	}
	if len(queries) == 0 && seed.NPI != "" {
		queries = append(queries, "NPI "+seed.NPI)
	}
	return queries
}

// Resolve researches the seed and returns the agent's completed profile.
// Returns ErrRoundBudget when the loop hits its cap and
// ErrMalformedExtraction when the final profile does not parse.
func (r *Resolver) Resolve(ctx context.Context, seed Seed) (*model.ProviderProfile, error) {
	maxRounds := r.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 15
	}

	messages := []anthropic.Message{
		{Role: "user", Content: r.buildOpening(ctx, seed)},
	}

	seenURLs := make(map[string]bool)

	for round := 1; round <= maxRounds; round++ {
		resp, err := r.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     r.aiCfg.EnrichModel,
			MaxTokens: r.aiCfg.MaxTokens,
			System:    anthropic.BuildCachedSystemBlocks(systemText),
			Messages:  messages,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "enrich: round %d", round)
		}
		resp.Usage.LogCost(r.aiCfg.EnrichModel, "enrich")

		text := resp.Text()
		messages = append(messages, anthropic.Message{Role: "assistant", Content: text})

		action, err := parseAction(text)
		if err != nil {
			zap.L().Warn("enrich: unparseable action, re-prompting",
				zap.String("npi", seed.NPI),
				zap.Int("round", round),
				zap.Error(err),
			)
			messages = append(messages, anthropic.Message{
				Role:    "user",
				Content: "That was not a valid action. Respond with exactly one JSON action object.",
			})
			continue
		}

		switch action.Type {
		case ActionFinish:
			profile, perr := parseFinishProfile(action.Profile)
			if perr != nil {
				return nil, perr
			}
			zap.L().Info("enrich: resolved",
				zap.String("npi", seed.NPI),
				zap.Int("rounds", round),
				zap.Int("locations", len(profile.Locations)),
				zap.Int("sources", len(profile.Sources)),
			)
			return profile, nil

		case ActionSearch:
			observation := r.runSearch(ctx, action.Query)
			messages = append(messages, anthropic.Message{Role: "user", Content: observation})

		case ActionScrape:
			var observation string
			if seenURLs[action.URL] {
				observation = "Already fetched that URL this session. Choose a different URL or finish."
			} else {
				seenURLs[action.URL] = true
				content, ferr := r.session.Fetch(ctx, action.URL)
				if ferr != nil {
					observation = fmt.Sprintf("Fetch failed: %v. Try another source.", ferr)
				} else {
					observation = fmt.Sprintf("Content of %s:\n\n%s", action.URL, content)
				}
			}
			messages = append(messages, anthropic.Message{Role: "user", Content: observation})
		}
	}

	zap.L().Warn("enrich: round budget exhausted",
		zap.String("npi", seed.NPI),
		zap.Int("max_rounds", maxRounds),
	)
	return nil, ErrRoundBudget
}

// buildOpening composes the first user message: the seed, the discrepancies
// to resolve, and results of the seed query variants so the agent starts
// with leads instead of a cold search.
func (r *Resolver) buildOpening(ctx context.Context, seed Seed) string {
	var b strings.Builder
	b.WriteString("Research this healthcare provider:\n")
	if seed.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", seed.Name)
	}
	if seed.NPI != "" {
		fmt.Fprintf(&b, "NPI: %s\n", seed.NPI)
	}
	if seed.City != "" || seed.State != "" {
		fmt.Fprintf(&b, "Location: %s %s\n", seed.City, seed.State)
	}
	for k, v := range seed.Known {
		fmt.Fprintf(&b, "Confirmed %s: %s\n", k, v)
	}
	if len(seed.Issues) > 0 {
		b.WriteString("\nDiscrepancies to resolve:\n")
		for _, issue := range seed.Issues {
			b.WriteString("- " + issue + "\n")
		}
	}

	b.WriteString("\nInitial search results:\n")
	for _, query := range queryVariants(seed) {
		b.WriteString("\n" + r.runSearch(ctx, query))
	}

	b.WriteString("\nChoose your next action.")
	return b.String()
}

// runSearch executes one query and formats the top hits as an observation.
// Search failures become observations too; the agent can route around them.
func (r *Resolver) runSearch(ctx context.Context, query string) string {
	results, err := r.session.Search(ctx, query)
	if err != nil {
		zap.L().Warn("enrich: search failed", zap.String("query", query), zap.Error(err))
		return fmt.Sprintf("Search %q failed: %v\n", query, err)
	}

	limit := r.cfg.ResultsPerQuery
	if limit <= 0 {
		limit = 3
	}
	if len(results) > limit {
		results = results[:limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n", query)
	if len(results) == 0 {
		b.WriteString("(no results)\n")
		return b.String()
	}
	for _, hit := range results {
		fmt.Fprintf(&b, "- %s\n  %s\n  %s\n", hit.Title, hit.URL, hit.Description)
	}
	return b.String()
}

func parseFinishProfile(raw json.RawMessage) (*model.ProviderProfile, error) {
	var profile model.ProviderProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, eris.Wrap(ErrMalformedExtraction, err.Error())
	}
	if profile.ProviderType == "" {
		profile.ProviderType = model.TypeUnknown
	}
	return &profile, nil
}
