package apiportal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalx/internal/models"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second).
	DefaultRateLimit = 2
)

// Client talks to a portal's JSON backend using the browser's authenticated session
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithUserAgent sends the same user agent as the browser session
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		if userAgent != "" {
			c.http.SetHeader("User-Agent", userAgent)
		}
	}
}

// WithTimeout sets the per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// WithRateLimit sets a custom request rate
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		http:    resty.New(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  arbor.NewNoOpLogger(),
	}
	c.http.SetBaseURL(strings.TrimRight(baseURL, "/"))
	c.http.SetTimeout(DefaultTimeout)
	c.http.SetHeader("Accept", "application/json")

	for _, opt := range opts {
		opt(c)
	}

	c.http.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		return nil
	})

	return c
}

// Authorize attaches the session lifted from the browser: a bearer token when
// there is one, and the session cookies either way
func (c *Client) Authorize(token string, cookies []models.StoredCookie) {
	if token != "" {
		c.http.SetAuthToken(token)
	}
	jar := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		jar = append(jar, &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		})
	}
	if len(jar) > 0 {
		c.http.SetCookies(jar)
	}
}

// APIError is a non-2xx response from the portal backend
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal API error: %s (status %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Unauthorized reports whether the backend rejected the session
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

type graphqlRequest struct {
	OperationName string `json:"operationName"`
	Query         string `json:"query"`
	Variables     any    `json:"variables"`
}

// GraphQL posts one operation and returns its data object
func (c *Client) GraphQL(ctx context.Context, path, operation, query string, variables any) (gjson.Result, error) {
	body, err := json.Marshal(graphqlRequest{OperationName: operation, Query: query, Variables: variables})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s: %w", operation, err)
	}

	c.logger.Debug().Str("operation", operation).Msg("Portal GraphQL request")
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s request failed: %w", operation, err)
	}

	doc, err := decode(res, path)
	if err != nil {
		return gjson.Result{}, err
	}
	if msg := doc.Get("errors.0.message"); msg.Exists() {
		return gjson.Result{}, fmt.Errorf("%s failed: %s", operation, msg.String())
	}
	return doc.Get("data"), nil
}

// Get issues a GET and returns the decoded document
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (gjson.Result, error) {
	c.logger.Debug().Str("path", path).Msg("Portal API request")
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("GET %s failed: %w", path, err)
	}
	return decode(res, path)
}

func decode(res *resty.Response, endpoint string) (gjson.Result, error) {
	if res.IsError() {
		msg := strings.TrimSpace(string(res.Body()))
		if m := gjson.GetBytes(res.Body(), "message"); m.Exists() {
			msg = m.String()
		}
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return gjson.Result{}, &APIError{StatusCode: res.StatusCode(), Message: msg, Endpoint: endpoint}
	}
	if !gjson.ValidBytes(res.Body()) {
		return gjson.Result{}, fmt.Errorf("invalid JSON from %s", endpoint)
	}
	return gjson.ParseBytes(res.Body()), nil
}
