// Package sgapi is the client for the SG Smart lighting cloud: a
// cookie-authenticated HTTP API for inventory and control-endpoint
// discovery, plus a WebSocket command channel for switching and dimming
// luminaires.
package sgapi

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
	"sync"
	"time"
)

// Default service URLs. The route service resolves per-sector control
// endpoints and requires no session.
const (
	DefaultBaseURL  = "https://api.sgsmart.app"
	DefaultRouteURL = "https://route.sgsmart.app"

	loginPath    = "/sg/api/login2"
	downloadPath = "/sg/api/download"
	routePath    = "/sgroute/route-api/server"
)

// requestTimeout bounds every plain HTTP call against the cloud.
const requestTimeout = 10 * time.Second

// Fixed client identity sent with every login. The service keys sessions on
// the mobile app build, so these must match a known release.
const (
	loginPlatform    = "flutter_android"
	loginAppBundleID = "com.sgas.leddimapp"
	loginAppVersion  = "4.34.785"
	loginLang        = "en"
)

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Platform    string `json:"platform"`
	AppBundleID string `json:"app_bundle_id"`
	AppVersion  string `json:"app_version"`
	Lang        string `json:"lang"`
}

// Client holds the credentials and session state for one cloud account.
// Safe for concurrent use; auth state transitions are serialized so a
// session renewal triggered by one in-flight call never races another
// call into a second login.
type Client struct {
	email      string
	password   string
	baseURL    string
	routeURL   string
	httpClient *http.Client
	logger     *slog.Logger
	ackWait    time.Duration

	mu            sync.Mutex
	authenticated bool
	authGen       uint64 // bumped on every successful login
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the main API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithRouteURL overrides the control-endpoint discovery service URL.
func WithRouteURL(u string) Option {
	return func(c *Client) { c.routeURL = u }
}

// WithHTTPClient supplies the HTTP client. A cookie jar is installed if the
// client has none; the same client backs the WebSocket dial so the gateway
// sees the session cookies.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithAckWait overrides the bounded wait for a command acknowledgment frame.
func WithAckWait(d time.Duration) Option {
	return func(c *Client) { c.ackWait = d }
}

// NewClient creates a client for the given account. Credentials are held
// for the client's lifetime; no network I/O happens until Login or the
// first authenticated call.
func NewClient(email, password string, opts ...Option) (*Client, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidArgument)
	}

	c := &Client{
		email:    email,
		password: password,
		baseURL:  DefaultBaseURL,
		routeURL: DefaultRouteURL,
		logger:   slog.Default(),
		ackWait:  defaultAckWait,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}

	return c, nil
}

// Login authenticates against the cloud. Session cookies are retained by
// the HTTP client's jar; the profile document is returned as-is.
func (c *Client) Login(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

// loginLocked performs the login POST. Caller must hold c.mu.
func (c *Client) loginLocked(ctx context.Context) (map[string]any, error) {
	body := loginRequest{
		Email:       c.email,
		Password:    c.password,
		Platform:    loginPlatform,
		AppBundleID: loginAppBundleID,
		AppVersion:  loginAppVersion,
		Lang:        loginLang,
	}

	var profile map[string]any
	if err := c.request(ctx, http.MethodPost, c.baseURL+loginPath, body, &profile); err != nil {
		c.authenticated = false
		return nil, err
	}

	c.authenticated = true
	c.authGen++
	c.logger.Debug("logged in", "email", c.email)
	return profile, nil
}

// Authenticated reports whether the most recent login succeeded and has not
// been invalidated since.
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Logout drops the session cookies and resets auth state. Idempotent.
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("reset cookie jar: %w", err)
	}
	c.httpClient.Jar = jar
	c.authenticated = false
	return nil
}

// GetDevices downloads the sector/device inventory. An expired session is
// renewed transparently, at most once.
func (c *Client) GetDevices(ctx context.Context) (*Inventory, error) {
	var inv Inventory
	if err := c.doAuthenticated(ctx, http.MethodGet, c.baseURL+downloadPath, nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// doAuthenticated issues a session-gated call, logging in first if needed.
// Exactly one auth failure per logical call is recovered by re-logging in
// and retrying; a second consecutive auth failure propagates. The bounded
// loop (not recursion) makes the single-retry guarantee structural.
func (c *Client) doAuthenticated(ctx context.Context, method, url string, body, out any) error {
	gen, err := c.session(ctx)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		err := c.request(ctx, method, url, body, out)
		if err == nil || !errors.Is(err, ErrAuthentication) || attempt >= 1 {
			return err
		}
		if gen, err = c.renewSession(ctx, gen); err != nil {
			return err
		}
	}
}

// session returns the current auth generation, logging in if the client is
// unauthenticated. Single-flight: concurrent callers serialize here and all
// but the first observe the fresh session.
func (c *Client) session(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated {
		if _, err := c.loginLocked(ctx); err != nil {
			return 0, err
		}
	}
	return c.authGen, nil
}

// renewSession re-authenticates after an auth failure observed against gen.
// If another call already renewed the session in the meantime, that session
// is reused instead of logging in again.
func (c *Client) renewSession(ctx context.Context, gen uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated && c.authGen != gen {
		return c.authGen, nil
	}
	c.authenticated = false
	if _, err := c.loginLocked(ctx); err != nil {
		return 0, err
	}
	return c.authGen, nil
}

// request is the shared HTTP wrapper: JSON in/out, fixed 10s timeout,
// status normalization. 401/403 always map to ErrAuthentication so the
// caller layer decides whether to retry; timeouts and connection failures
// map to ErrCommunication; any other non-2xx maps to ErrAPI.
func (c *Client) request(ctx context.Context, method, rawURL string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request body: %w", ErrAPI, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrAPI, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrCommunication, method, rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: invalid credentials or session expired (HTTP %d)", ErrAuthentication, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: HTTP %d from %s %s", ErrAPI, resp.StatusCode, method, rawURL)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrAPI, err)
	}
	return nil
}
