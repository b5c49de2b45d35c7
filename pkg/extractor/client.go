// Package extractor is a client for the AI extraction service that
// turns crawled page text into structured product fields.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spirits-cli/internal/resilience"
)

const (
	defaultBaseURL = "http://localhost:8000"
	enhancePath    = "/api/v1/enhance/from-crawler/"

	// MaxContentBytes is the largest payload the service accepts per
	// page. Callers trim before sending.
	MaxContentBytes = 90 * 1024
)

// Client performs extraction operations.
type Client interface {
	Extract(ctx context.Context, req *ExtractRequest) (*ExtractResponse, error)
}

// ExtractRequest is one page handed to the extraction service.
type ExtractRequest struct {
	URL         string `json:"url"`
	Content     string `json:"content"`
	ProductType string `json:"product_type"`
	// ProductName hints which product on the page we care about, when
	// known. Empty for list and competition pages.
	ProductName string `json:"product_name,omitempty"`
	SourceType  string `json:"source_type,omitempty"`
}

// Extraction is one product's extracted fields with per-field
// confidence scores in [0, 1].
type Extraction struct {
	Fields      map[string]any     `json:"fields"`
	Confidences map[string]float64 `json:"field_confidence"`
	Name        string             `json:"name,omitempty"`
	URL         string             `json:"url,omitempty"`
}

// ExtractResponse is the service's reply. Exactly one of Single, Multi,
// or Failure is set; check Kind before reading.
type ExtractResponse struct {
	Kind    ResultKind
	Single  *Extraction
	Multi   []Extraction
	Failure *FailureResult
}

// ResultKind discriminates the response union.
type ResultKind int

const (
	// KindSingle is one product extracted from a product page.
	KindSingle ResultKind = iota
	// KindMulti is several products extracted from a list or
	// competition page.
	KindMulti
	// KindFailure is a page the service could not extract from.
	KindFailure
)

// FailureResult describes an extraction the service gave up on.
type FailureResult struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// wireResponse is the raw envelope. The service returns "data" for a
// single product, "products" for list pages, and "error" on failure.
type wireResponse struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Products  json.RawMessage `json:"products"`
	Error     string          `json:"error"`
	Retryable bool            `json:"retryable"`
}

// UnmarshalJSON decodes the union by which envelope key is present.
func (r *ExtractResponse) UnmarshalJSON(b []byte) error {
	var wire wireResponse
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	switch {
	case wire.Error != "" || wire.Status == "failure":
		r.Kind = KindFailure
		r.Failure = &FailureResult{Error: wire.Error, Retryable: wire.Retryable}
	case len(wire.Products) > 0:
		r.Kind = KindMulti
		if err := json.Unmarshal(wire.Products, &r.Multi); err != nil {
			return eris.Wrap(err, "extractor: unmarshal products")
		}
	case len(wire.Data) > 0:
		r.Kind = KindSingle
		var single Extraction
		if err := json.Unmarshal(wire.Data, &single); err != nil {
			return eris.Wrap(err, "extractor: unmarshal data")
		}
		r.Single = &single
	default:
		return eris.New("extractor: response has no data, products, or error")
	}
	return nil
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the default retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates an extraction service client.
func NewClient(token string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("extractor", "extract")
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
		retry: retry,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Extract(ctx context.Context, req *ExtractRequest) (*ExtractResponse, error) {
	if len(req.Content) > MaxContentBytes {
		return nil, eris.Errorf("extractor: content exceeds %d bytes", MaxContentBytes)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: marshal request")
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*ExtractResponse, error) {
		return c.extract(ctx, payload)
	})
}

func (c *httpClient) extract(ctx context.Context, payload []byte) (*ExtractResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+enhancePath, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "extractor: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("extractor: unexpected status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result ExtractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "extractor: unmarshal response")
	}

	return &result, nil
}
