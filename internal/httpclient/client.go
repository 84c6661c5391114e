// Package httpclient builds the HTTP clients used to fetch sources and talk
// to upload backends.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
	"git.home.luguber.info/inful/imbed/internal/version"
)

// UserAgent is sent with every request.
var UserAgent = "imbed/" + version.Version

// New returns a client routing requests through proxy. An empty proxy falls
// back to the HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment variables.
func New(proxy string, timeout time.Duration) (*http.Client, error) {
	cfg := httpproxy.FromEnvironment()
	if proxy != "" {
		if _, err := url.Parse(proxy); err != nil {
			return nil, ferrors.ConfigError("invalid proxy URL").
				WithCause(err).
				WithContext("proxy", proxy).
				Build()
		}
		cfg = &httpproxy.Config{HTTPProxy: proxy, HTTPSProxy: proxy, NoProxy: cfg.NoProxy}
	}
	proxyFunc := cfg.ProxyFunc()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req.URL)
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// API issues JSON requests against one base URL with a token.
type API struct {
	client     *http.Client
	baseURL    string
	token      string
	authPrefix string
	headers    map[string]string
}

// NewAPI returns an API using "Bearer " authorization.
func NewAPI(client *http.Client, baseURL, token string) *API {
	if client == nil {
		client = http.DefaultClient
	}
	return &API{
		client:     client,
		baseURL:    baseURL,
		token:      token,
		authPrefix: "Bearer ",
		headers:    map[string]string{},
	}
}

// SetAuthPrefix changes the Authorization scheme, e.g. "token ". An empty
// prefix sends the raw token.
func (a *API) SetAuthPrefix(prefix string) { a.authPrefix = prefix }

// SetHeader adds a header sent with every request.
func (a *API) SetHeader(key, value string) { a.headers[key] = value }

// Client returns the underlying HTTP client.
func (a *API) Client() *http.Client { return a.client }

// NewRequest builds a request for endpoint relative to the base URL. A
// non-nil body is encoded as JSON unless it is an io.Reader.
func (a *API) NewRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u, err := a.resolve(endpoint)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = http.NoBody
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, ferrors.InternalError("failed to marshal request body").WithCause(err).Build()
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, ferrors.ValidationError("failed to create request").
			WithCause(err).
			WithContext("method", method).
			WithContext("url", u).
			Build()
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if a.token != "" {
		req.Header.Set("Authorization", a.authPrefix+a.token)
	}
	req.Header.Set("User-Agent", UserAgent)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (a *API) resolve(endpoint string) (string, error) {
	endpoint = strings.TrimPrefix(endpoint, "/")
	var rawQuery string
	if before, after, ok := strings.Cut(endpoint, "?"); ok {
		endpoint, rawQuery = before, after
	}
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", ferrors.ConfigError("failed to parse API URL").
			WithCause(err).
			WithContext("api_url", a.baseURL).
			Build()
	}
	u.Path = path.Join(strings.TrimSuffix(u.Path, "/"), endpoint)
	if rawQuery != "" {
		u.RawQuery = rawQuery
	}
	return u.String(), nil
}

// Do executes req and decodes a JSON response into result when it is not
// nil. Error statuses become classified errors; 429 and 5xx are retryable.
func (a *API) Do(req *http.Request, result any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return ferrors.NetworkError("request failed").
			WithCause(err).
			WithContext("method", req.Method).
			WithContext("url", req.URL.String()).
			Retryable().
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if err := StatusError(req, resp); err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return ferrors.UploadError("failed to decode response").
			WithCause(err).
			WithContext("url", req.URL.String()).
			Build()
	}
	return nil
}

// StatusError classifies a response with status >= 400. It reads at most
// 512 bytes of the body for diagnostics.
func StatusError(req *http.Request, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	limited, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	body := strings.ReplaceAll(string(limited), "\n", " ")

	var b *ferrors.ErrorBuilder
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		b = ferrors.ConfigError("upload backend rejected credentials").UserAction()
	case resp.StatusCode == http.StatusNotFound:
		b = ferrors.NotFoundError("resource not found")
	case resp.StatusCode == http.StatusTooManyRequests:
		b = ferrors.NetworkError("rate limited").RateLimit()
	case resp.StatusCode >= 500:
		b = ferrors.NetworkError(fmt.Sprintf("server error: %s", resp.Status)).Retryable()
	default:
		b = ferrors.UploadError(fmt.Sprintf("request rejected: %s", resp.Status))
	}
	return b.WithContext("status", resp.Status).
		WithContext("code", resp.StatusCode).
		WithContext("url", req.URL.String()).
		WithContext("response", body).
		Build()
}
