package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storygate/internal/credentials"
	"storygate/internal/retry"
	"storygate/internal/upstream"
)

const maxErrorDetail = 500

// Provider-specific codes that mean "slow down" whatever the HTTP status.
var rateLimitCodes = map[string]bool{"1302": true, "1303": true, "1305": true}

// Client talks to the upstream over HTTP with bearer auth.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// New builds a client. With enableReal false every call is answered by the
// offline transport and no network traffic happens.
func New(baseURL string, enableReal bool) *Client {
	var base http.RoundTripper = http.DefaultTransport
	if !enableReal {
		base = Offline{}
	}
	return &Client{
		BaseURL:    baseURL,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(base)},
	}
}

// NewWithHTTPClient is used by tests that point at an httptest server.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{BaseURL: baseURL, httpClient: hc}
}

// Send POSTs the request body to its capability endpoint.
func (c *Client) Send(ctx context.Context, req upstream.Request, cred credentials.Credential) (*http.Response, error) {
	body, err := req.Body()
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, req.Path(), body, cred, req.Stream)
}

// Get fetches a polling endpoint such as async-result/{id}.
func (c *Client) Get(ctx context.Context, path string, cred credentials.Credential) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, cred, false)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, cred credentials.Credential, stream bool) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, upstream.URL(c.BaseURL, path), rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	return c.httpClient.Do(req)
}

// Classify maps a response onto a retry outcome. For anything but success the
// body is consumed and closed and the returned error carries the upstream
// detail.
func Classify(resp *http.Response) (retry.Kind, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return retry.Success, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	detail := errorDetail(raw)

	kind := upstream.KindFor(resp.StatusCode)
	if rateLimitCodes[gjson.GetBytes(raw, "error.code").String()] {
		kind = upstream.ErrRateLimited
	}
	err := &upstream.StatusError{Status: resp.StatusCode, Detail: detail, Kind: kind}
	if errors.Is(kind, upstream.ErrRateLimited) {
		return retry.Retryable, err
	}
	return retry.Fatal, err
}

func errorDetail(raw []byte) string {
	if msg := gjson.GetBytes(raw, "error.message").String(); msg != "" {
		return trim(msg)
	}
	return trim(strings.TrimSpace(string(raw)))
}

func trim(s string) string {
	if len(s) <= maxErrorDetail {
		return s
	}
	return s[:maxErrorDetail] + "..."
}

// ReadJSON reads a successful body fully and closes it.
func ReadJSON(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("%w: reply is not JSON", upstream.ErrUpstreamFailure)
	}
	return b, nil
}
