package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/provider-cli/internal/config"
	"github.com/sells-group/provider-cli/pkg/anthropic"
	"github.com/sells-group/provider-cli/pkg/firecrawl"
	"github.com/sells-group/provider-cli/pkg/jina"
)

// --- Mocks ---

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

type mockJinaClient struct {
	mock.Mock
}

func (m *mockJinaClient) Read(ctx context.Context, targetURL string) (*jina.ReadResponse, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.ReadResponse), args.Error(1)
}

func (m *mockJinaClient) Search(ctx context.Context, query string) (*jina.SearchResponse, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.SearchResponse), args.Error(1)
}

type mockFirecrawlClient struct {
	mock.Mock
}

func (m *mockFirecrawlClient) Scrape(ctx context.Context, req firecrawl.ScrapeRequest) (*firecrawl.ScrapeResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*firecrawl.ScrapeResponse), args.Error(1)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// --- Action parsing ---

func TestParseAction(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		wantErr string
		check   func(t *testing.T, a *Action)
	}{
		{
			name: "search",
			in:   `{"action": "search", "query": "Jane Smith MD Denver CO"}`,
			check: func(t *testing.T, a *Action) {
				assert.Equal(t, ActionSearch, a.Type)
				assert.Equal(t, "Jane Smith MD Denver CO", a.Query)
			},
		},
		{
			name: "scrape",
			in:   `{"action": "scrape", "url": "https://example.org/directory"}`,
			check: func(t *testing.T, a *Action) {
				assert.Equal(t, ActionScrape, a.Type)
				assert.Equal(t, "https://example.org/directory", a.URL)
			},
		},
		{
			name: "finish",
			in:   `{"action": "finish", "profile": {"provider_type": "individual"}}`,
			check: func(t *testing.T, a *Action) {
				assert.Equal(t, ActionFinish, a.Type)
				assert.NotEmpty(t, a.Profile)
			},
		},
		{
			name: "fenced",
			in:   "```json\n{\"action\": \"search\", \"query\": \"q\"}\n```",
			check: func(t *testing.T, a *Action) {
				assert.Equal(t, ActionSearch, a.Type)
			},
		},
		{name: "search without query", in: `{"action": "search"}`, wantErr: "missing query"},
		{name: "scrape without url", in: `{"action": "scrape"}`, wantErr: "missing url"},
		{name: "finish without profile", in: `{"action": "finish"}`, wantErr: "missing profile"},
		{name: "unknown action", in: `{"action": "browse", "url": "x"}`, wantErr: "unknown action"},
		{name: "not json", in: "I will search for the provider now.", wantErr: "parse action"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := parseAction(tc.in)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.check(t, a)
		})
	}
}

// --- Session ---

func TestSession_Fetch_JinaPrimary(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, "https://example.org").
		Return(&jina.ReadResponse{Data: jina.ReadData{Content: "page markdown"}}, nil)
	fc := &mockFirecrawlClient{}

	s := NewSession(jc, fc, 4000)
	content, err := s.Fetch(context.Background(), "https://example.org")
	require.NoError(t, err)
	assert.Equal(t, "page markdown", content)
	fc.AssertNotCalled(t, "Scrape")
}

func TestSession_Fetch_FirecrawlFallback(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, "https://example.org").
		Return(nil, errors.New("jina down"))
	fc := &mockFirecrawlClient{}
	fc.On("Scrape", mock.Anything, firecrawl.ScrapeRequest{URL: "https://example.org", Formats: []string{"markdown"}}).
		Return(&firecrawl.ScrapeResponse{Success: true, Data: firecrawl.PageData{Markdown: "fallback markdown"}}, nil)

	s := NewSession(jc, fc, 4000)
	content, err := s.Fetch(context.Background(), "https://example.org")
	require.NoError(t, err)
	assert.Equal(t, "fallback markdown", content)
}

func TestSession_Fetch_TruncatesToBudget(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 10000)
	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, mock.Anything).
		Return(&jina.ReadResponse{Data: jina.ReadData{Content: long}}, nil)

	s := NewSession(jc, nil, 4000)
	content, err := s.Fetch(context.Background(), "https://example.org")
	require.NoError(t, err)
	assert.Len(t, content, 4000)
}

func TestSession_Fetch_BothFail(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, mock.Anything).Return(nil, errors.New("jina down"))
	fc := &mockFirecrawlClient{}
	fc.On("Scrape", mock.Anything, mock.Anything).Return(nil, errors.New("payment required"))

	s := NewSession(jc, fc, 4000)
	_, err := s.Fetch(context.Background(), "https://example.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment required")
}

// --- Resolver ---

func testResolver(ai anthropic.Client, jc jina.Client, fc firecrawl.Client, maxRounds int) *Resolver {
	return NewResolver(ai,
		NewSession(jc, fc, 4000),
		config.EnrichConfig{MaxRounds: maxRounds, ResultsPerQuery: 3, PageCharBudget: 4000},
		config.AnthropicConfig{EnrichModel: "claude-sonnet-4-20250514", MaxTokens: 4096},
	)
}

func TestResolve_SearchScrapeFinish(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	// Opening seed searches plus the agent's own search.
	jc.On("Search", mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: []jina.SearchResult{
		{Title: "Dr. Jane Smith | Gateway Health", URL: "https://gateway.example/smith", Description: "Family medicine physician"},
	}}, nil)
	jc.On("Read", mock.Anything, "https://gateway.example/smith").
		Return(&jina.ReadResponse{Data: jina.ReadData{Content: "Jane Smith MD, 100 Main St, Denver CO. Phone 303-555-0101."}}, nil)

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"action": "search", "query": "Jane Smith MD Denver license"}`), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"action": "scrape", "url": "https://gateway.example/smith"}`), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		// The scraped page must reach the agent as an observation.
		last := req.Messages[len(req.Messages)-1]
		return strings.Contains(last.Content, "100 Main St")
	})).Return(textResponse(`{"action": "finish", "profile": {
		"provider_type": "individual",
		"first_name": "Jane", "last_name": "Smith",
		"phones": ["303-555-0101"],
		"locations": [{"street_address_1": "100 Main St", "city": "Denver", "state": "CO", "address_type": "Practice"}],
		"verification_sources": ["https://gateway.example/smith"],
		"data_confidence_score": 0.9
	}}`), nil).Once()

	r := testResolver(ai, jc, nil, 15)
	profile, err := r.Resolve(context.Background(), Seed{
		NPI: "1234567893", Name: "Jane Smith", City: "Denver", State: "CO",
		Issues: []string{"phone_mismatch"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Jane", profile.FirstName)
	assert.Equal(t, "303-555-0101", profile.PrimaryPhone())
	require.Len(t, profile.Locations, 1)
	assert.Equal(t, "Denver", profile.Locations[0].City)
	ai.AssertExpectations(t)
}

func TestResolve_RoundBudgetExhausted(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Search", mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: nil}, nil)

	ai := &mockAIClient{}
	// The agent keeps searching and never finishes.
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"action": "search", "query": "more results please"}`), nil)

	r := testResolver(ai, jc, nil, 3)
	_, err := r.Resolve(context.Background(), Seed{NPI: "1234567893", Name: "Jane Smith"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoundBudget)
	ai.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestResolve_MalformedFinishProfile(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Search", mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: nil}, nil)

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"action": "finish", "profile": {"phones": "not-an-array"}}`), nil)

	r := testResolver(ai, jc, nil, 15)
	_, err := r.Resolve(context.Background(), Seed{NPI: "1234567893"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedExtraction)
}

func TestResolve_ReprompsOnInvalidAction(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Search", mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: nil}, nil)

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Let me think about this step by step."), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		last := req.Messages[len(req.Messages)-1]
		return strings.Contains(last.Content, "not a valid action")
	})).Return(textResponse(`{"action": "finish", "profile": {"provider_type": "unknown"}}`), nil).Once()

	r := testResolver(ai, jc, nil, 15)
	profile, err := r.Resolve(context.Background(), Seed{NPI: "1234567893"})
	require.NoError(t, err)
	assert.NotNil(t, profile)
	ai.AssertExpectations(t)
}

func TestResolve_DeduplicatesScrapes(t *testing.T) {
	t.Parallel()

	jc := &mockJinaClient{}
	jc.On("Search", mock.Anything, mock.Anything).Return(&jina.SearchResponse{Data: nil}, nil)
	jc.On("Read", mock.Anything, "https://example.org/page").
		Return(&jina.ReadResponse{Data: jina.ReadData{Content: "content"}}, nil)

	ai := &mockAIClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"action": "scrape", "url": "https://example.org/page"}`), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"action": "scrape", "url": "https://example.org/page"}`), nil).Once()
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		last := req.Messages[len(req.Messages)-1]
		return strings.Contains(last.Content, "Already fetched")
	})).Return(textResponse(`{"action": "finish", "profile": {"provider_type": "unknown"}}`), nil).Once()

	r := testResolver(ai, jc, nil, 15)
	_, err := r.Resolve(context.Background(), Seed{NPI: "1234567893"})
	require.NoError(t, err)
	jc.AssertNumberOfCalls(t, "Read", 1)
}

func TestQueryVariants(t *testing.T) {
	t.Parallel()

	queries := queryVariants(Seed{NPI: "1234567893", Name: "Jane Smith", City: "Denver", State: "CO"})
	require.Len(t, queries, 3)
	assert.Equal(t, "Jane Smith Denver CO", queries[0])
	assert.Equal(t, "Jane Smith NPI 1234567893", queries[1])
	assert.Equal(t, "Jane Smith Denver CO practice location", queries[2])

	queries = queryVariants(Seed{NPI: "1234567893"})
	require.Len(t, queries, 1)
	assert.Equal(t, "NPI 1234567893", queries[0])
}
