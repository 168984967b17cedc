package enrich

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-cli/pkg/firecrawl"
	"github.com/sells-group/provider-cli/pkg/jina"
)

// Session is the shared web search/scrape collaborator. One session backs
// all concurrent resolvers; its mutex serializes use so the underlying
// services see one caller at a time.
type Session struct {
	mu        sync.Mutex
	jina      jina.Client
	firecrawl firecrawl.Client

	// pageCharBudget caps the content returned per fetched page.
	pageCharBudget int
}

// NewSession creates a Session. The firecrawl client may be nil; fetches
// then rely on Jina Reader alone.
func NewSession(jc jina.Client, fc firecrawl.Client, pageCharBudget int) *Session {
	if pageCharBudget <= 0 {
		pageCharBudget = 4000
	}
	return &Session{jina: jc, firecrawl: fc, pageCharBudget: pageCharBudget}
}

// Search runs a web search and returns the raw hits.
func (s *Session) Search(ctx context.Context, query string) ([]jina.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.jina.Search(ctx, query)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: search %q", query)
	}
	return resp.Data, nil
}

// Fetch retrieves a page as markdown, truncated to the session's character
// budget. Jina Reader is primary; Firecrawl is the fallback when Reader
// fails or returns an empty page.
func (s *Session) Fetch(ctx context.Context, pageURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	readResp, readErr := s.jina.Read(ctx, pageURL)
	if readErr == nil && strings.TrimSpace(readResp.Data.Content) != "" {
		return s.truncate(readResp.Data.Content), nil
	}
	if readErr != nil {
		zap.L().Debug("enrich: jina read failed, trying firecrawl",
			zap.String("url", pageURL),
			zap.Error(readErr),
		)
	}

	if s.firecrawl == nil {
		if readErr != nil {
			return "", eris.Wrapf(readErr, "enrich: fetch %s", pageURL)
		}
		return "", eris.Errorf("enrich: fetch %s: empty page", pageURL)
	}

	scrapeResp, scrapeErr := s.firecrawl.Scrape(ctx, firecrawl.ScrapeRequest{
		URL:     pageURL,
		Formats: []string{"markdown"},
	})
	if scrapeErr != nil {
		return "", eris.Wrapf(scrapeErr, "enrich: fetch %s", pageURL)
	}
	return s.truncate(scrapeResp.Data.Markdown), nil
}

func (s *Session) truncate(content string) string {
	if len(content) > s.pageCharBudget {
		return content[:s.pageCharBudget]
	}
	return content
}
