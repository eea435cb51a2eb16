// Package source is the client for the accounts-payable API that invoices are
// ingested from and payment status is written back to.
//
// Every request except authentication carries a bearer token obtained from
// POST /Auth/Client. Tokens are cached until their configured lifetime ends.
//
// Response handling:
//   - 200: success
//   - 401: always fatal (ErrUnauthorized)
//   - anything else: logged, the call's data is treated as empty
//   - client timeout: ErrTimeout, callers keep what they already fetched
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"invoicesync/internal/logger"
)

const (
	// DefaultPageSize is the number of invoices requested per page.
	DefaultPageSize = 2000

	// DefaultMaxPages caps pagination to prevent runaway loops.
	DefaultMaxPages = 20

	maxErrorBody = 2048
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string

	// Timeout bounds each HTTP request. Default: 60 seconds.
	Timeout time.Duration

	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64

	// TokenTTL is how long a token is reused. Default: 30 minutes.
	TokenTTL time.Duration

	// MaxPages overrides DefaultMaxPages.
	MaxPages int

	// HTTPClient replaces the default client (tests).
	HTTPClient *http.Client
}

// Client talks to the accounts-payable API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     oauth2.TokenSource
	creds      credentials
	ttl        time.Duration
	maxPages   int
	log        zerolog.Logger
}

type credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// NewClient creates a client from options.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 30 * time.Minute
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = DefaultMaxPages
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		creds:      credentials{ClientID: opts.ClientID, ClientSecret: opts.ClientSecret},
		ttl:        opts.TokenTTL,
		maxPages:   opts.MaxPages,
		log:        logger.WithComponent("source"),
	}
	c.tokens = oauth2.ReuseTokenSource(nil, &tokenSource{client: c})
	return c
}

// BaseURL returns the API root used for request URLs.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Authenticate makes sure a usable token is cached.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.token(ctx)
	return err
}

func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tok, err := c.tokens.Token()
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, newAPIError("Authenticate", ErrNoToken, 0, err.Error())
	}
	return tok, nil
}

// tokenSource fetches a fresh token from POST /Auth/Client.
type tokenSource struct {
	client *Client
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	const op = "Authenticate"
	c := ts.client

	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout+time.Second)
	defer cancel()

	payload, err := json.Marshal(c.creds)
	if err != nil {
		return nil, newAPIError(op, err, 0, "failed to encode credentials")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/Auth/Client", bytes.NewReader(payload))
	if err != nil {
		return nil, newAPIError(op, err, 0, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.send(req)
	if err != nil {
		return nil, wrapTransport(op, err)
	}
	if status == http.StatusUnauthorized {
		return nil, newAPIError(op, ErrUnauthorized, status, truncate(body))
	}
	if status != http.StatusOK {
		return nil, newAPIError(op, ErrNoToken, status, truncate(body))
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Token == "" {
		return nil, newAPIError(op, ErrNoToken, status, "response did not contain a token")
	}

	c.log.Debug().Int("token_length", len(parsed.Token)).Msg("API token retrieved")

	return &oauth2.Token{
		AccessToken: parsed.Token,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(c.ttl),
	}, nil
}

// send executes a request after waiting for the rate limiter and returns the
// status code and the full body.
func (c *Client) send(req *http.Request) (int, []byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// call performs an authenticated JSON request. It returns the status code, the
// raw body, and an error for transport failures, 401s and non-2xx statuses.
func (c *Client) call(ctx context.Context, op, method, path string, in any) (int, []byte, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return 0, nil, err
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, newAPIError(op, err, 0, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, newAPIError(op, err, 0, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	tok.SetAuthHeader(req)

	status, body, err := c.send(req)
	if err != nil {
		return status, nil, wrapTransport(op, err)
	}

	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Msg("API response received")

	switch {
	case status == http.StatusUnauthorized:
		return status, body, newAPIError(op, ErrUnauthorized, status, "")
	case status < 200 || status > 299:
		return status, body, newAPIError(op, ErrUnexpectedResponse, status, truncate(body))
	}
	return status, body, nil
}

// getJSON issues an authenticated GET and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) (int, error) {
	status, body, err := c.call(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return status, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return status, newAPIError(op, err, status, "failed to decode response")
	}
	return status, nil
}

func wrapTransport(op string, err error) error {
	if isTimeout(err) {
		return newAPIError(op, ErrTimeout, 0, err.Error())
	}
	return newAPIError(op, err, 0, "request failed")
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
