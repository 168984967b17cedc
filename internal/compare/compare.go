// Package compare scores a submitted provider row against its registry
// record using an LLM, field by field.
package compare

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/internal/config"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/pkg/anthropic"
	"github.com/sells-group/provider-cli/pkg/nppes"
)

// ComparisonError indicates the comparator could not produce a usable
// verdict: the model call failed or its output did not satisfy the schema.
type ComparisonError struct {
	Reason string
	Err    error
}

func (e *ComparisonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compare: %s: %v", e.Reason, e.Err)
	}
	return "compare: " + e.Reason
}

func (e *ComparisonError) Unwrap() error { return e.Err }

const systemText = `You are a healthcare data verification specialist. Compare submitted provider information against the official NPI registry record.
Judge semantic equivalence, not string equality: "St." matches "Saint", "Internal Med" matches "Internal Medicine", phone formatting differences do not matter.
Return only valid JSON matching the requested schema.`

const comparePrompt = `Compare this submitted provider record against the official registry record.

Submitted record:
%s

Registry record:
%s

Return a valid JSON object:
{
  "overall_match": true | false,
  "confidence": <0-100>,
  "fields": {
    "name": {"match": true | false, "confidence": <0-100>, "reason": "..."},
    "address": {"match": true | false, "confidence": <0-100>, "reason": "..."},
    "phone": {"match": true | false, "confidence": <0-100>, "reason": "..."},
    "specialty": {"match": true | false, "confidence": <0-100>, "reason": "..."}
  },
  "issues": ["<short description of each discrepancy>"],
  "explanation": "<one-paragraph summary>"
}

A field absent from the submitted record is neither a match nor a mismatch; score it with low confidence and note it in issues.`

// Comparator runs field-level comparison through the LLM backend.
type Comparator struct {
	ai  anthropic.Client
	cfg config.AnthropicConfig
}

// New creates a Comparator.
func New(ai anthropic.Client, cfg config.AnthropicConfig) *Comparator {
	return &Comparator{ai: ai, cfg: cfg}
}

// registryView is the compact registry subset shown to the model. Sending
// the full NPPES payload wastes tokens and buries the comparable fields.
type registryView struct {
	NPI              string   `json:"npi"`
	EnumerationType  string   `json:"enumeration_type"`
	FirstName        string   `json:"first_name,omitempty"`
	LastName         string   `json:"last_name,omitempty"`
	Credential       string   `json:"credential,omitempty"`
	OrganizationName string   `json:"organization_name,omitempty"`
	PracticeAddress  string   `json:"practice_address,omitempty"`
	MailingAddress   string   `json:"mailing_address,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Fax              string   `json:"fax,omitempty"`
	PrimarySpecialty string   `json:"primary_specialty,omitempty"`
	TaxonomyCode     string   `json:"taxonomy_code,omitempty"`
	AllSpecialties   []string `json:"all_specialties,omitempty"`
}

func buildRegistryView(rec *nppes.CanonicalRecord) registryView {
	v := registryView{
		NPI:              rec.NPI,
		EnumerationType:  string(rec.EnumerationType),
		FirstName:        rec.FirstName,
		LastName:         rec.LastName,
		Credential:       rec.Credential,
		OrganizationName: rec.OrganizationName,
	}
	if a := rec.PrimaryPracticeAddress; a != nil {
		v.PracticeAddress = formatAddress(a.Address1, a.Address2, a.City, a.State, a.PostalCode)
		v.Phone = a.Telephone
		v.Fax = a.Fax
	}
	if a := rec.MailingAddress; a != nil {
		v.MailingAddress = formatAddress(a.Address1, a.Address2, a.City, a.State, a.PostalCode)
	}
	if t := rec.PrimaryTaxonomy; t != nil {
		v.PrimarySpecialty = t.Desc
		v.TaxonomyCode = t.Code
	}
	for _, t := range rec.AllTaxonomies {
		if t.Desc != "" {
			v.AllSpecialties = append(v.AllSpecialties, t.Desc)
		}
	}
	return v
}

func formatAddress(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, strings.TrimSpace(p))
		}
	}
	return strings.Join(kept, ", ")
}

// Compare scores the submitted payload against the registry record. A
// non-nil error is always a *ComparisonError.
func (c *Comparator) Compare(ctx context.Context, submitted map[string]any, rec *nppes.CanonicalRecord) (*model.ComparisonResult, error) {
	submittedJSON, err := json.MarshalIndent(submitted, "", "  ")
	if err != nil {
		return nil, &ComparisonError{Reason: "marshal submitted record", Err: err}
	}
	registryJSON, err := json.MarshalIndent(buildRegistryView(rec), "", "  ")
	if err != nil {
		return nil, &ComparisonError{Reason: "marshal registry record", Err: err}
	}

	resp, err := c.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.cfg.CompareModel,
		MaxTokens: c.cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemText),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(comparePrompt, submittedJSON, registryJSON)},
		},
	})
	if err != nil {
		return nil, &ComparisonError{Reason: "create message", Err: err}
	}

	resp.Usage.LogCost(c.cfg.CompareModel, "compare")

	result, err := parseResult(resp.Text())
	if err != nil {
		return nil, err
	}

	zap.L().Debug("compare: verdict",
		zap.String("npi", rec.NPI),
		zap.Bool("overall_match", result.OverallMatch),
		zap.Float64("confidence", result.Confidence),
		zap.Int("issues", len(result.Issues)),
	)
	return result, nil
}

// parseResult decodes and validates the comparator output. Missing required
// keys are a schema violation, not a low-confidence verdict.
func parseResult(text string) (*model.ComparisonResult, error) {
	cleaned := cleanJSON(text)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, &ComparisonError{Reason: "parse response JSON", Err: err}
	}
	for _, key := range []string{"overall_match", "confidence", "fields"} {
		if _, ok := raw[key]; !ok {
			return nil, &ComparisonError{Reason: fmt.Sprintf("response missing required key %q", key)}
		}
	}

	var result model.ComparisonResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, &ComparisonError{Reason: "decode comparison result", Err: err}
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}
	if result.Fields == nil {
		result.Fields = map[string]model.FieldComparison{}
	}
	// The prompt asks for 0-100 per field; stored per-field confidence is
	// 0.0-1.0. The overall score stays on the 0-100 scale for thresholding.
	for name, fc := range result.Fields {
		fc.Confidence /= 100
		if fc.Confidence < 0 {
			fc.Confidence = 0
		}
		if fc.Confidence > 1 {
			fc.Confidence = 1
		}
		result.Fields[name] = fc
	}
	for _, f := range model.CompareFields {
		if _, ok := result.Fields[f]; !ok {
			result.Fields[f] = model.FieldComparison{Reason: "not scored"}
		}
	}
	return &result, nil
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
