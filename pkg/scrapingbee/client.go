// Package scrapingbee is a client for the rendering fetch proxy used to
// retrieve pages that block plain HTTP clients.
package scrapingbee

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spirits-cli/internal/resilience"
)

const defaultBaseURL = "https://app.scrapingbee.com/api/v1"

// Client fetches pages through the proxy.
type Client interface {
	Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchResult, error)
}

// FetchOptions control how a single page is fetched.
type FetchOptions struct {
	RenderJS     bool
	PremiumProxy bool
	CountryCode  string
}

// FetchResult is the fetched page plus transport metadata.
type FetchResult struct {
	StatusCode int
	Body       string
	// ResolvedURL is the final URL after redirects, when reported.
	ResolvedURL string
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
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a fetch proxy client. Repeated transient failures
// open a circuit breaker so a degraded proxy does not burn credits.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("scrapingbee", "fetch")

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient

	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 90 * time.Second,
		},
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchResult, error) {
	return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*FetchResult, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*FetchResult, error) {
			return c.fetch(ctx, pageURL, opts)
		})
	})
}

func (c *httpClient) fetch(ctx context.Context, pageURL string, opts FetchOptions) (*FetchResult, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("url", pageURL)
	if opts.RenderJS {
		params.Set("render_js", "true")
	} else {
		params.Set("render_js", "false")
	}
	if opts.PremiumProxy {
		params.Set("premium_proxy", "true")
	}
	if opts.CountryCode != "" {
		params.Set("country_code", opts.CountryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrapingbee: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "scrapingbee: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "scrapingbee: read response")
	}

	// The proxy relays the upstream status code. Auth and quota errors
	// from the proxy itself come back as 401/402 with a JSON body.
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusPaymentRequired {
		return nil, eris.Errorf("scrapingbee: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	// 429 and 5xx cover both proxy concurrency limits and upstream
	// flakiness; both are worth another attempt.
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		err := eris.Errorf("scrapingbee: transient status %d fetching %s", resp.StatusCode, pageURL)
		return nil, resilience.NewTransientError(err, resp.StatusCode)
	}

	return &FetchResult{
		StatusCode:  resp.StatusCode,
		Body:        string(body),
		ResolvedURL: resp.Header.Get("Spb-Resolved-Url"),
	}, nil
}
