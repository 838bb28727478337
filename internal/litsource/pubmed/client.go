// Package pubmed implements the literature fetcher against the NCBI
// E-utilities API: a search call for record identifiers, then chunked
// summary and full-text retrieval merged by identifier.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/renalworks/publications-pipeline/internal/dates"
	"github.com/renalworks/publications-pipeline/internal/domain"
	"github.com/renalworks/publications-pipeline/internal/litsource"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 100

	// DefaultChunkSize is the identifier batch size for summary and
	// full-text calls. The API accepts roughly 200 per request.
	DefaultChunkSize = 200

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// recordURLPrefix builds the persistent record URL from a PMID.
	recordURLPrefix = "https://pubmed.ncbi.nlm.nih.gov/"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	// Optional but recommended for production use.
	APIKey string

	// Timeout is the request timeout. Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryDelay is the linear backoff step between retries.
	RetryDelay time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the default maximum results per search.
	MaxResults int

	// ChunkSize is the identifier batch size per summary/full-text call.
	ChunkSize int
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

// FetchResult is the outcome of one researcher query: best-effort, never
// all-or-nothing.
type FetchResult struct {
	// Publications are the successfully retrieved records.
	Publications []domain.Publication

	// ChunksFailed counts identifier chunks dropped after exhausting
	// retries (summary chunks lose their records, abstract chunks only
	// lose abstracts).
	ChunksFailed int
}

// Client fetches bibliographic records from PubMed.
type Client struct {
	config     Config
	httpClient *litsource.HTTPClient
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new PubMed client with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	httpCfg := litsource.HTTPClientConfig{
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		UserAgent:  "publications-pipeline/1.0 (mailto:webmaster@renalworks.org)",
	}

	return &Client{
		config:     cfg,
		httpClient: litsource.NewHTTPClient(httpCfg),
		logger:     logger.With().Str("component", "pubmed").Logger(),
		now:        time.Now,
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *litsource.HTTPClient, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "pubmed").Logger(),
		now:        time.Now,
	}
}

// Fetch retrieves records matching the query, up to maxResults. It performs
// a two-phase fetch: esearch for PMIDs, then chunked esummary calls for
// metadata and chunked efetch calls for abstracts, merged by PMID. Summary
// and abstract retrieval are independent; a failure in one does not block
// the other, and a failed chunk is dropped and logged while the rest of the
// result is still returned.
func (c *Client) Fetch(ctx context.Context, query string, maxResults int) (*FetchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewValidationError("query", "query is required")
	}

	ids, err := c.esearch(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	result := &FetchResult{}
	if len(ids) == 0 {
		return result, nil
	}

	summaries := make(map[string]docSummary, len(ids))
	for _, chunk := range chunkIDs(ids, c.config.ChunkSize) {
		chunkSummaries, err := c.esummary(ctx, chunk)
		if err != nil {
			result.ChunksFailed++
			c.logger.Warn().Err(err).
				Int("chunk_size", len(chunk)).
				Msg("summary chunk dropped after exhausting retries")
			continue
		}
		for uid, s := range chunkSummaries {
			summaries[uid] = s
		}
	}

	abstracts := make(map[string]string, len(ids))
	for _, chunk := range chunkIDs(ids, c.config.ChunkSize) {
		chunkAbstracts, err := c.efetchAbstracts(ctx, chunk)
		if err != nil {
			result.ChunksFailed++
			c.logger.Warn().Err(err).
				Int("chunk_size", len(chunk)).
				Msg("abstract chunk dropped; records kept without abstracts")
			continue
		}
		for uid, a := range chunkAbstracts {
			abstracts[uid] = a
		}
	}

	now := c.now()
	result.Publications = make([]domain.Publication, 0, len(summaries))
	for _, id := range ids {
		summary, ok := summaries[id]
		if !ok {
			continue
		}
		result.Publications = append(result.Publications, c.summaryToPublication(summary, abstracts[id], now))
	}

	return result, nil
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, query string, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("sort", "pub_date")

	body, err := c.get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var result esearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse esearch response: %w", err)
	}

	// Phrases not found are empty results, not errors.
	if errs := result.ESearchResult.ErrorList; errs != nil && len(errs.PhraseNotFound) > 0 {
		c.logger.Debug().Strs("phrases", errs.PhraseNotFound).Msg("query phrases not found")
	}

	return result.ESearchResult.IDList, nil
}

// esummary retrieves record metadata for one chunk of PMIDs.
func (c *Client) esummary(ctx context.Context, pmids []string) (map[string]docSummary, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "json")

	body, err := c.get(ctx, "esummary.fcgi", params)
	if err != nil {
		return nil, err
	}

	result, err := parseESummary(body)
	if err != nil {
		return nil, err
	}
	return result.Summaries, nil
}

// efetchAbstracts retrieves abstract text for one chunk of PMIDs.
func (c *Client) efetchAbstracts(ctx context.Context, pmids []string) (map[string]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")
	params.Set("rettype", "abstract")

	body, err := c.get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}

	var articleSet pubmedArticleSet
	if err := xml.Unmarshal(body, &articleSet); err != nil {
		return nil, fmt.Errorf("failed to parse efetch response: %w", err)
	}

	abstracts := make(map[string]string, len(articleSet.Articles))
	for _, article := range articleSet.Articles {
		if text := joinAbstract(article.AbstractTexts); text != "" {
			abstracts[article.PMID] = text
		}
	}
	return abstracts, nil
}

// get executes one rate-limited GET against an E-utilities endpoint.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if c.config.APIKey != "" {
		params.Set("api_key", c.config.APIKey)
	}

	u := c.config.BaseURL + "/" + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	return body, nil
}

// summaryToPublication converts a docSummary plus optional abstract into a
// domain publication, resolving the canonical date from the record's
// inconsistent date stamps.
func (c *Client) summaryToPublication(s docSummary, abstract string, now time.Time) domain.Publication {
	resolved := dates.Resolve(dates.Candidates{
		EPub:     s.EPubDate,
		Print:    s.PubDate,
		Sort:     s.SortPubDate,
		Fallback: []string{s.PubDate, s.EPubDate},
	}, now, dates.DayFloor)

	authors := make([]string, 0, len(s.Authors))
	for _, a := range s.Authors {
		if a.Name == "" {
			continue
		}
		authors = append(authors, a.Name)
	}

	journal := s.FullJournalName
	if journal == "" {
		journal = s.Source
	}

	return domain.Publication{
		PMID:        s.UID,
		Title:       strings.TrimSpace(s.Title),
		Authors:     authors,
		Journal:     journal,
		Year:        resolved.Year,
		Month:       resolved.Month,
		MonthName:   resolved.MonthName,
		PublishedAt: resolved.ISO,
		Abstract:    abstract,
		DOI:         s.DOI(),
		URL:         recordURLPrefix + s.UID + "/",
		FetchedAt:   now.UTC(),
	}
}

// chunkIDs splits ids into batches of at most size.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// joinAbstract concatenates labeled abstract sections into one string.
func joinAbstract(sections []abstractText) string {
	if len(sections) == 0 {
		return ""
	}

	if len(sections) == 1 && sections[0].Label == "" {
		return strings.TrimSpace(sections[0].Value)
	}

	var parts []string
	for _, s := range sections {
		text := strings.TrimSpace(s.Value)
		if text == "" {
			continue
		}
		if s.Label != "" {
			parts = append(parts, s.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
