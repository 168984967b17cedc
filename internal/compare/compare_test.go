package compare

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-cli/internal/config"
	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/pkg/anthropic"
	"github.com/sells-group/provider-cli/pkg/nppes"
)

type mockAIClient struct {
	mock.Mock
}

func (m *mockAIClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func testRecord() *nppes.CanonicalRecord {
	return &nppes.CanonicalRecord{
		NPI:             "1891106191",
		EnumerationType: nppes.EnumerationIndividual,
		FirstName:       "SATYASREE",
		LastName:        "UPADHYAYULA",
		Credential:      "M.D.",
		PrimaryPracticeAddress: &nppes.Address{
			Address1:   "12345 W FLORISSANT AVE",
			City:       "SAINT LOUIS",
			State:      "MO",
			PostalCode: "631361502",
			Telephone:  "314-653-5100",
		},
		PrimaryTaxonomy: &nppes.Taxonomy{Code: "207R00000X", Desc: "Internal Medicine", Primary: true},
		AllTaxonomies:   []nppes.Taxonomy{{Code: "207R00000X", Desc: "Internal Medicine", Primary: true}},
	}
}

const goodVerdict = `{
	"overall_match": true,
	"confidence": 92,
	"fields": {
		"name": {"match": true, "confidence": 98, "reason": "exact match"},
		"address": {"match": true, "confidence": 90, "reason": "same practice location"},
		"phone": {"match": true, "confidence": 88, "reason": "formatting only"},
		"specialty": {"match": true, "confidence": 95, "reason": "internal medicine"}
	},
	"issues": [],
	"explanation": "Submitted record matches the registry."
}`

func TestCompare_Success(t *testing.T) {
	t.Parallel()

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		// Both records must appear in the prompt.
		prompt := req.Messages[0].Content
		return strings.Contains(prompt, "Satyasree") && strings.Contains(prompt, "UPADHYAYULA")
	})).Return(textResponse(goodVerdict), nil)

	c := New(ai, config.AnthropicConfig{CompareModel: "claude-sonnet-4-20250514", MaxTokens: 2048})
	result, err := c.Compare(context.Background(), map[string]any{
		"name":      "Satyasree Upadhyayula",
		"address":   "12345 W Florissant Ave, Saint Louis, MO 63136",
		"phone":     "(314) 653-5100",
		"specialty": "Internal Medicine",
	}, testRecord())
	require.NoError(t, err)

	assert.True(t, result.OverallMatch)
	assert.Equal(t, 92.0, result.Confidence)
	assert.True(t, result.Accepted(80))
	assert.True(t, result.Fields["name"].Match)
	assert.InDelta(t, 0.98, result.Fields["name"].Confidence, 0.001)
	assert.InDelta(t, 0.88, result.Fields["phone"].Confidence, 0.001)
	ai.AssertExpectations(t)
}

func TestCompare_Mismatch(t *testing.T) {
	t.Parallel()

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse(`{
		"overall_match": false,
		"confidence": 65,
		"fields": {
			"name": {"match": true, "confidence": 95, "reason": "exact"},
			"address": {"match": true, "confidence": 85, "reason": "same"},
			"phone": {"match": false, "confidence": 40, "reason": "different area code"},
			"specialty": {"match": true, "confidence": 90, "reason": "same"}
		},
		"issues": ["phone_mismatch"],
		"explanation": "Phone number differs from the registry."
	}`), nil)

	c := New(ai, config.AnthropicConfig{CompareModel: "m", MaxTokens: 2048})
	result, err := c.Compare(context.Background(), map[string]any{"npi": "1891106191"}, testRecord())
	require.NoError(t, err)

	assert.False(t, result.OverallMatch)
	assert.False(t, result.Accepted(80))
	assert.Contains(t, result.Issues, "phone_mismatch")
	assert.False(t, result.Fields["phone"].Match)
}

func TestCompare_FencedResponse(t *testing.T) {
	t.Parallel()

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n"+goodVerdict+"\n```"), nil)

	c := New(ai, config.AnthropicConfig{CompareModel: "m", MaxTokens: 2048})
	result, err := c.Compare(context.Background(), map[string]any{"npi": "1891106191"}, testRecord())
	require.NoError(t, err)
	assert.True(t, result.OverallMatch)
}

func TestCompare_MissingRequiredKeys(t *testing.T) {
	t.Parallel()

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"overall_match": true, "confidence": 90}`), nil)

	c := New(ai, config.AnthropicConfig{CompareModel: "m", MaxTokens: 2048})
	_, err := c.Compare(context.Background(), map[string]any{}, testRecord())
	require.Error(t, err)

	var cmpErr *ComparisonError
	require.True(t, errors.As(err, &cmpErr))
	assert.Contains(t, cmpErr.Reason, `"fields"`)
}

func TestCompare_MalformedResponse(t *testing.T) {
	t.Parallel()

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I cannot compare these records."), nil)

	c := New(ai, config.AnthropicConfig{CompareModel: "m", MaxTokens: 2048})
	_, err := c.Compare(context.Background(), map[string]any{}, testRecord())

	var cmpErr *ComparisonError
	require.True(t, errors.As(err, &cmpErr))
}

func TestCompare_APIError(t *testing.T) {
	t.Parallel()

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, errors.New("overloaded"))

	c := New(ai, config.AnthropicConfig{CompareModel: "m", MaxTokens: 2048})
	_, err := c.Compare(context.Background(), map[string]any{}, testRecord())

	var cmpErr *ComparisonError
	require.True(t, errors.As(err, &cmpErr))
	assert.Contains(t, cmpErr.Error(), "create message")
	assert.ErrorContains(t, errors.Unwrap(cmpErr), "overloaded")
}

func TestParseResult_ClampsConfidence(t *testing.T) {
	t.Parallel()

	result, err := parseResult(`{"overall_match": true, "confidence": 140, "fields": {}}`)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Confidence)

	result, err = parseResult(`{"overall_match": false, "confidence": -3, "fields": {}}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Confidence)
}

func TestParseResult_NormalizesFieldConfidence(t *testing.T) {
	t.Parallel()

	result, err := parseResult(`{"overall_match": true, "confidence": 85, "fields": {
		"name": {"match": true, "confidence": 90, "reason": "ok"},
		"address": {"match": true, "confidence": 120, "reason": "over scale"},
		"phone": {"match": false, "confidence": -5, "reason": "under scale"}
	}}`)
	require.NoError(t, err)

	assert.InDelta(t, 0.90, result.Fields["name"].Confidence, 0.001)
	assert.Equal(t, 1.0, result.Fields["address"].Confidence)
	assert.Equal(t, 0.0, result.Fields["phone"].Confidence)
	// Overall score keeps the 0-100 scale used by the acceptance gate.
	assert.Equal(t, 85.0, result.Confidence)
}

func TestParseResult_FillsUnscoredFields(t *testing.T) {
	t.Parallel()

	result, err := parseResult(`{"overall_match": true, "confidence": 85, "fields": {"name": {"match": true, "confidence": 90, "reason": "ok"}}}`)
	require.NoError(t, err)

	for _, f := range model.CompareFields {
		_, ok := result.Fields[f]
		assert.True(t, ok, "field %q should be present", f)
	}
	assert.Equal(t, "not scored", result.Fields["phone"].Reason)
}

func TestBuildRegistryView(t *testing.T) {
	t.Parallel()

	v := buildRegistryView(testRecord())
	assert.Equal(t, "1891106191", v.NPI)
	assert.Equal(t, "12345 W FLORISSANT AVE, SAINT LOUIS, MO, 631361502", v.PracticeAddress)
	assert.Equal(t, "314-653-5100", v.Phone)
	assert.Equal(t, "Internal Medicine", v.PrimarySpecialty)
	assert.Equal(t, []string{"Internal Medicine"}, v.AllSpecialties)
}
