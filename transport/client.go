package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultRefreshPath is exempt from bearer attachment: the refresh
	// cookie is the credential there.
	DefaultRefreshPath = "/auth/refresh"
	// DefaultTimeout bounds a single request when the caller's context
	// carries no deadline.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 1 << 20
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config configures a Client. Only BaseURL is required.
type Config struct {
	BaseURL string
	// HTTPClient is used when Doer is nil. When both are nil a client with
	// a public-suffix-aware cookie jar is created.
	HTTPClient *http.Client
	// Doer overrides HTTPClient for request execution (tests, tracing).
	Doer Doer
	// CSRF supplies the anti-forgery token. Defaults to reading
	// CSRFCookieName from the client's cookie jar.
	CSRF           CSRFAccessor
	CSRFCookieName string
	CSRFHeaderName string
	RefreshPath    string
	Timeout        time.Duration
	UserAgent      string
	Logger         *slog.Logger
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is joined onto the base URL; it may carry a query string.
	Path string
	// Body is JSON-encoded when non-nil.
	Body   any
	Header http.Header
	// Anonymous suppresses the bearer header even if a token is held.
	Anonymous bool
}

// Client sends JSON requests to the auth backend.
type Client struct {
	base        *url.URL
	doer        Doer
	jar         http.CookieJar
	csrf        CSRFAccessor
	csrfHeader  string
	refreshPath string
	timeout     time.Duration
	userAgent   string
	logger      *slog.Logger

	mu    sync.RWMutex
	token string
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("transport: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: base URL scheme must be http or https, got %q", base.Scheme)
	}

	c := &Client{
		base:        base,
		csrfHeader:  cfg.CSRFHeaderName,
		refreshPath: cfg.RefreshPath,
		timeout:     cfg.Timeout,
		userAgent:   cfg.UserAgent,
		logger:      cfg.Logger,
	}
	if c.csrfHeader == "" {
		c.csrfHeader = DefaultCSRFHeader
	}
	if c.refreshPath == "" {
		c.refreshPath = DefaultRefreshPath
	}
	if c.timeout == 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	switch {
	case cfg.Doer != nil:
		c.doer = cfg.Doer
		if cfg.HTTPClient != nil {
			c.jar = cfg.HTTPClient.Jar
		}
	case cfg.HTTPClient != nil:
		c.doer = cfg.HTTPClient
		c.jar = cfg.HTTPClient.Jar
	default:
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("transport: cookie jar: %w", err)
		}
		c.jar = jar
		c.doer = &http.Client{Jar: jar}
	}

	c.csrf = cfg.CSRF
	if c.csrf == nil {
		c.csrf = JarCSRF{Jar: c.jar, URL: base, Cookie: cfg.CSRFCookieName}
	}
	return c, nil
}

// SetAccessToken replaces the in-memory bearer token. An empty token
// clears it.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// AccessToken returns the current bearer token, or "".
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Jar returns the cookie jar backing the client, or nil when a custom Doer
// manages cookies.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// BaseURL returns the parsed API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Do sends req and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx responses yield *HTTPError; transport failures yield
// *NetworkError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Path)
	if err != nil {
		return err
	}

	var body io.Reader
	if req.Body != nil {
		raw, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("transport: encode %s %s: %w", method, req.Path, err)
		}
		body = bytes.NewReader(raw)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("transport: build %s %s: %w", method, req.Path, err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	requestID := RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set(RequestIDHeader, requestID)

	if token := c.AccessToken(); token != "" && !req.Anonymous && !c.isRefreshPath(req.Path) {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if isMutating(method) {
		if csrf := c.csrf.CSRFToken(); csrf != "" {
			httpReq.Header.Set(c.csrfHeader, csrf)
		}
	}

	start := time.Now()
	resp, err := c.doer.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed",
			"method", method, "path", req.Path, "request_id", requestID, "error", err)
		return &NetworkError{Method: method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &NetworkError{Method: method, Path: req.Path, Err: err}
	}

	c.logger.Debug("request completed",
		"method", method, "path", req.Path, "status", resp.StatusCode,
		"request_id", requestID, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeHTTPError(method, req.Path, resp, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("transport: decode %s %s: %w", method, req.Path, err)
	}
	return nil
}

func (c *Client) resolve(path string) (string, error) {
	if path == "" {
		return "", errors.New("transport: empty request path")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base.String() + path, nil
}

func (c *Client) isRefreshPath(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path == c.refreshPath
}

type errorBody struct {
	Detail    json.RawMessage `json:"detail"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	ErrorCode string          `json:"error_code"`
	Locked    bool            `json:"locked"`
}

func decodeHTTPError(method, path string, resp *http.Response, raw []byte) *HTTPError {
	httpErr := &HTTPError{
		Method: method,
		Path:   path,
		Status: resp.StatusCode,
	}

	var body errorBody
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil {
		httpErr.Detail = detailText(body.Detail)
		if httpErr.Detail == "" {
			httpErr.Detail = body.Message
		}
		if httpErr.Detail == "" {
			httpErr.Detail = body.Error
		}
		httpErr.Code = body.ErrorCode
		if httpErr.Code == "" {
			httpErr.Code = body.Code
		}
		httpErr.Locked = body.Locked
	}

	if code := resp.Header.Get("error_code"); code != "" && httpErr.Code == "" {
		httpErr.Code = code
	}
	if locked, err := strconv.ParseBool(resp.Header.Get("locked")); err == nil && locked {
		httpErr.Locked = true
	}
	if httpErr.Detail == "" {
		httpErr.Detail = "HTTP " + strconv.Itoa(resp.StatusCode)
	}
	return httpErr
}

// detailText accepts both a plain string and the list-of-objects validation
// shape ([{"msg": "..."}]).
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0].Msg
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return ""
}
