// Package extract fills a structured provider profile from unstructured
// document text (OCR output of enrollment forms, rosters, CVs).
package extract

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

// ErrNoProvider indicates the document text does not describe a healthcare
// provider at all.
var ErrNoProvider = eris.New("extract: no provider found in document")

// maxDocumentChars caps how much document text goes into a single prompt.
// OCR output from long rosters can run to hundreds of pages; the identifying
// fields are almost always in the first few.
const maxDocumentChars = 24000

const systemText = `You are a healthcare data specialist extracting provider information from documents.
Fill the requested JSON schema from the document text only. Use null or omit fields the document does not state. Never guess or invent values.
If the document does not describe a healthcare provider, return {"provider_found": false}.`

const extractPrompt = `Extract the healthcare provider's information from this document.

Document text:
%s

Return a valid JSON object with this schema:
{
  "provider_found": true,
  "provider_type": "individual" | "organization" | "unknown",
  "npi": "<10-digit NPI if stated>",
  "first_name": "...", "last_name": "...", "credential": "...",
  "organization_name": "...",
  "primary_email": "...", "website_url": "...",
  "phones": ["..."], "fax": "...",
  "taxonomy_codes": ["..."], "specialties": ["..."],
  "licenses": [{"license_number": "...", "state": "...", "license_type": "...", "status": "..."}],
  "accepting_new_patients": true | false | null,
  "offers_telehealth": true | false | null,
  "languages_spoken": ["..."],
  "locations": [{"street_address_1": "...", "street_address_2": "...", "city": "...", "state": "...", "zip_code": "...", "address_type": "Practice" | "Mailing" | "Billing", "phone": "...", "fax": "..."}],
  "additional_fields": {"<identifier name>": "<value>"}
}

Include every distinct location and phone number found. Put DEA numbers, CLIA IDs, hospital affiliations, and other identifiers outside the schema into additional_fields.`

// Extractor turns document text into a ProviderProfile via the LLM.
type Extractor struct {
	ai  anthropic.Client
	cfg config.AnthropicConfig
}

// NewExtractor creates an Extractor.
func NewExtractor(ai anthropic.Client, cfg config.AnthropicConfig) *Extractor {
	return &Extractor{ai: ai, cfg: cfg}
}

// ExtractProfile parses document text into a structured profile. Returns
// ErrNoProvider when the model reports the document describes no provider.
func (e *Extractor) ExtractProfile(ctx context.Context, text string) (*model.ProviderProfile, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoProvider
	}
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}

	resp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.ExtractModel,
		MaxTokens: e.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemText),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, text)},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create message")
	}

	resp.Usage.LogCost(e.cfg.ExtractModel, "extract")

	profile, err := parseProfile(resp.Text())
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// parseProfile decodes the model output into a ProviderProfile.
func parseProfile(text string) (*model.ProviderProfile, error) {
	cleaned := cleanJSON(text)

	var envelope struct {
		ProviderFound *bool `json:"provider_found"`
		model.ProviderProfile
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		zap.L().Warn("extract: failed to parse profile JSON", zap.Error(err))
		return nil, eris.Wrap(err, "extract: parse profile")
	}

	if envelope.ProviderFound != nil && !*envelope.ProviderFound {
		return nil, ErrNoProvider
	}

	profile := envelope.ProviderProfile
	if profile.ProviderType == "" {
		profile.ProviderType = model.TypeUnknown
	}
	return &profile, nil
}

// cleanJSON strips markdown code fences and surrounding prose so the response
// parses as a bare JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
