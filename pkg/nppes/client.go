// Package nppes provides a client for the NPPES NPI Registry API v2.1.
package nppes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/provider-cli/internal/resilience"
)

// Default base URL for the NPPES registry API.
const defaultBaseURL = "https://npiregistry.cms.hhs.gov/api/"

// apiVersion is the NPPES API version parameter.
const apiVersion = "2.1"

// ErrNotFound is returned when the registry has no record for the NPI.
// This is a normal outcome, not a transport failure.
var ErrNotFound = eris.New("nppes: npi not found in registry")

// ErrInvalidNPI is returned for identifiers that are not 10-digit strings.
// No network call is made.
var ErrInvalidNPI = eris.New("nppes: invalid npi: must be a 10-digit string")

// LookupError wraps a transport or protocol failure calling the registry.
type LookupError struct {
	NPI string
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("nppes: lookup %s: %v", e.NPI, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the underlying failure is transient. The
// pipeline does not retry lookups itself; callers that replay a submission
// can use this to distinguish registry flakiness from a bad request.
func (e *LookupError) Retryable() bool {
	return resilience.IsTransient(e.Err)
}

// Client defines the NPPES registry operations used by the pipeline.
type Client interface {
	// Lookup resolves a 10-digit NPI to its canonical registry record.
	// Returns ErrInvalidNPI for malformed identifiers, ErrNotFound for an
	// empty result set, and *LookupError for transport failures.
	Lookup(ctx context.Context, npi string) (*CanonicalRecord, error)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit paces lookups to the given requests/second. The registry is
// a shared public service; batch runs must not hammer it.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new NPPES registry client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidNPI reports whether s is exactly 10 ASCII digits.
func ValidNPI(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *httpClient) Lookup(ctx context.Context, npi string) (*CanonicalRecord, error) {
	if !ValidNPI(npi) {
		return nil, ErrInvalidNPI
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &LookupError{NPI: npi, Err: err}
		}
	}

	q := url.Values{}
	q.Set("version", apiVersion)
	q.Set("number", npi)
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &LookupError{NPI: npi, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &LookupError{NPI: npi, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &LookupError{NPI: npi, Err: eris.Wrap(err, "read body")}
	}

	if resp.StatusCode != http.StatusOK {
		httpErr := eris.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, &LookupError{NPI: npi, Err: resilience.NewTransientError(httpErr, resp.StatusCode)}
		}
		return nil, &LookupError{NPI: npi, Err: httpErr}
	}

	var envelope struct {
		ResultCount int             `json:"result_count"`
		Results     []rawResult     `json:"results"`
		Errors      json.RawMessage `json:"Errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &LookupError{NPI: npi, Err: eris.Wrap(err, "decode response")}
	}
	if len(envelope.Errors) > 0 && string(envelope.Errors) != "null" {
		return nil, &LookupError{NPI: npi, Err: eris.Errorf("registry error: %s", string(envelope.Errors))}
	}

	if len(envelope.Results) == 0 {
		return nil, ErrNotFound
	}

	return normalize(envelope.Results[0], body), nil
}
