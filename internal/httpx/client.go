package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	clierr "github.com/ggonzalez94/mercata-mcp/internal/errors"
	"github.com/sirupsen/logrus"
)

// TokenSource supplies the bearer credential attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Observer receives one call per finished request. Status is 0 when no
// response was received.
type Observer interface {
	ObserveRequest(client, method string, status int, elapsed time.Duration)
}

// Client is a JSON client bound to one base URL. Requests are sent exactly
// once: failures are logged and returned to the caller without retry.
type Client struct {
	httpClient *http.Client
	name       string
	baseURL    string
	userAgent  string
	accept     string
	tokens     TokenSource
	log        logrus.FieldLogger
	observer   Observer
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithBearer attaches "Authorization: Bearer <token>" from source to each request.
func WithBearer(source TokenSource) Option {
	return func(c *Client) { c.tokens = source }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithAccept(accept string) Option {
	return func(c *Client) { c.accept = accept }
}

func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		name:       "default",
		userAgent:  "mercata-mcp/1.0",
		accept:     "application/json",
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient exposes the underlying client so other transports (OAuth) share
// the same timeout.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// URL joins path and query onto the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := path
	if c.baseURL != "" && !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query), nil)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	_, err = c.DoJSON(ctx, req, out)
	return err
}

func (c *Client) PostJSON(ctx context.Context, path string, query url.Values, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode request body", err)
	}
	_, err = DoBodyJSON(ctx, c, http.MethodPost, c.URL(path, query), buf, nil, out)
	return err
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", c.accept)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.log.WithError(err).Error("Failed to attach Authorization token")
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		c.observe(req.Method, 0, started)
		c.log.WithField("url", req.URL.Redacted()).Errorf("API Network Error: %v", err)
		return nil, mapNetError(err)
	}

	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	c.observe(req.Method, resp.StatusCode, started)
	if readErr != nil {
		c.log.WithField("url", req.URL.Redacted()).Errorf("API Network Error: %v", readErr)
		return resp.Header, clierr.Wrap(clierr.CodeUpstreamNetwork, "read upstream response", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusText := http.StatusText(resp.StatusCode)
		c.log.WithField("url", req.URL.Redacted()).Errorf("API Response Error [%d]: %s", resp.StatusCode, statusText)
		return resp.Header, clierr.HTTP(resp.StatusCode, statusText, strings.TrimSpace(string(buf)))
	}

	if out == nil {
		return resp.Header, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, &clierr.Error{Code: clierr.CodeUpstreamHTTP, Message: "upstream returned empty response", Status: resp.StatusCode}
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], buf...)
		return resp.Header, nil
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, clierr.Wrap(clierr.CodeInternal, "decode upstream JSON", err)
	}
	return resp.Header, nil
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

func (c *Client) observe(method string, status int, started time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveRequest(c.name, method, status, time.Since(started))
}

func mapNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUpstreamNetwork, "upstream timeout", err)
	}
	return clierr.Wrap(clierr.CodeUpstreamNetwork, "upstream request failed", err)
}

// StatusLabel renders a status for metrics labels.
func StatusLabel(status int) string {
	if status == 0 {
		return "network_error"
	}
	return strconv.Itoa(status)
}
