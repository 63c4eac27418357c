package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"azure-search-mcp/pkg/models"
)

// SearchClientConfig configures an AzureSearchClient.
type SearchClientConfig struct {
	Endpoint     string
	APIKey       string
	Index        string
	APIVersion   string
	KeyField     string
	ContentField string
	Timeout      time.Duration
	MaxTopK      int
	MaxRetries   int
	RateLimit    float64 // requests per second, 0 disables throttling
	RateBurst    int
}

// AzureSearchClient talks to the Azure AI Search REST API.
type AzureSearchClient struct {
	cfg     SearchClientConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewHTTPClient returns a pooled, instrumented client meant to be shared by
// every request the process makes to the search service.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport)}
}

// NewAzureSearchClient creates a new AzureSearchClient. The http client is
// owned by the caller and may be shared.
func NewAzureSearchClient(cfg SearchClientConfig, httpClient *http.Client) *AzureSearchClient {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-11-01"
	}
	if cfg.KeyField == "" {
		cfg.KeyField = "id"
	}
	if cfg.ContentField == "" {
		cfg.ContentField = "content"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	c := &AzureSearchClient{cfg: cfg, http: httpClient}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

type searchRequest struct {
	Search string `json:"search"`
	Top    int    `json:"top"`
	Filter string `json:"filter,omitempty"`
}

type searchResponse struct {
	Value []map[string]any `json:"value"`
}

type indexAction map[string]any

type indexRequest struct {
	Value []indexAction `json:"value"`
}

type indexResponse struct {
	Value []struct {
		Key        string `json:"key"`
		Status     bool   `json:"status"`
		StatusCode int    `json:"statusCode"`
		Error      string `json:"errorMessage"`
	} `json:"value"`
}

// statusError records a non-success HTTP status from the service.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status code %d", e.Code)
	}
	return fmt.Sprintf("status code %d: %s", e.Code, e.Body)
}

// Search runs a single full-text query against the index.
func (c *AzureSearchClient) Search(ctx context.Context, q models.Query) ([]models.Document, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, invalidQuery("Query cannot be empty")
	}
	if q.TopK <= 0 {
		return nil, invalidQuery("top_k must be greater than 0")
	}
	if c.cfg.MaxTopK > 0 && q.TopK > c.cfg.MaxTopK {
		return nil, invalidQuery(fmt.Sprintf("top_k must not exceed %d", c.cfg.MaxTopK))
	}

	body := searchRequest{
		Search: text,
		Top:    q.TopK,
		Filter: strings.TrimSpace(q.Filter),
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, c.docsURL("search"), body, &resp); err != nil {
		return nil, err
	}

	docs := make([]models.Document, 0, len(resp.Value))
	for _, hit := range resp.Value {
		docs = append(docs, c.normalize(hit))
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	return docs, nil
}

// Lookup fetches one document by its key.
func (c *AzureSearchClient) Lookup(ctx context.Context, id string) (*models.Document, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidQuery("Document ID cannot be empty")
	}

	var raw map[string]any
	err := c.do(ctx, http.MethodGet, c.docsURL(url.PathEscape(id)), nil, &raw)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	doc := c.normalize(raw)
	return &doc, nil
}

// Upload merges or uploads documents into the index and returns how many
// the service accepted.
func (c *AzureSearchClient) Upload(ctx context.Context, docs []models.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	req := indexRequest{Value: make([]indexAction, 0, len(docs))}
	for _, d := range docs {
		action := indexAction{"@search.action": "mergeOrUpload"}
		for k, v := range d.Metadata {
			action[k] = v
		}
		action[c.cfg.KeyField] = d.ID
		action[c.cfg.ContentField] = d.Content
		req.Value = append(req.Value, action)
	}

	var resp indexResponse
	if err := c.do(ctx, http.MethodPost, c.docsURL("index"), req, &resp); err != nil {
		return 0, err
	}

	accepted := 0
	var failed []string
	for _, r := range resp.Value {
		if r.Status {
			accepted++
			continue
		}
		failed = append(failed, fmt.Sprintf("%s (%d: %s)", r.Key, r.StatusCode, r.Error))
	}
	if len(failed) > 0 {
		return accepted, fmt.Errorf("indexing rejected %d documents: %s", len(failed), strings.Join(failed, ", "))
	}
	return accepted, nil
}

func (c *AzureSearchClient) docsURL(suffix string) string {
	return fmt.Sprintf("%s/indexes/%s/docs/%s?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(c.cfg.Index), suffix, url.QueryEscape(c.cfg.APIVersion))
}

// do performs one request, retrying transient failures when MaxRetries > 0.
// Every failure is reported as ErrSearchUnavailable.
func (c *AzureSearchClient) do(ctx context.Context, method, target string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		return c.attempt(ctx, method, target, payload, out)
	}

	var err error
	if c.cfg.MaxRetries > 0 {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 200 * time.Millisecond
		policy.MaxInterval = 2 * time.Second
		err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx))
	} else {
		err = op()
	}
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
}

func (c *AzureSearchClient) attempt(ctx context.Context, method, target string, payload []byte, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return se
		}
		return backoff.Permanent(se)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response body: %w", err))
	}
	return nil
}

// normalize turns a raw index hit into a Document. Service annotations
// (keys starting with "@") are dropped from metadata.
func (c *AzureSearchClient) normalize(hit map[string]any) models.Document {
	doc := models.Document{Metadata: make(map[string]any)}
	for k, v := range hit {
		switch {
		case k == c.cfg.KeyField:
			doc.ID = fmt.Sprint(v)
		case k == c.cfg.ContentField:
			if s, ok := v.(string); ok {
				doc.Content = s
			} else if v != nil {
				doc.Content = fmt.Sprint(v)
			}
		case k == "@search.score":
			if f, ok := v.(float64); ok {
				doc.Score = f
			}
		case strings.HasPrefix(k, "@"):
		default:
			doc.Metadata[k] = v
		}
	}
	return doc
}
