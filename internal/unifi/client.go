// Package unifi is a session-aware client for UniFi Network controllers and
// the parsers that turn its loosely-typed payloads into signal records.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/semaphore"

	"github.com/HerbHall/netreach/internal/version"
)

// AuthMode selects how requests are authenticated.
type AuthMode string

const (
	AuthSession AuthMode = "session"
	AuthAPIKey  AuthMode = "api_key"
)

// ParseAuthMode maps a stored setting to an AuthMode. Anything other than an
// API key spelling means session login.
func ParseAuthMode(s string) AuthMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "apikey", "api_key", "api-key":
		return AuthAPIKey
	}
	return AuthSession
}

const (
	sessionTTL      = 15 * time.Minute
	forbiddenPause  = 30 * time.Second
	retryBackoff    = 2 * time.Second
	maxErrorBody    = 600
	defaultSite     = "default"
	requestTimeout  = 30 * time.Second
	loginPath       = "/api/auth/login"
	csrfHeader      = "X-CSRF-Token"
	apiKeyHeader    = "X-API-KEY"
	connectionOKMsg = "UniFi connection OK."
)

// ErrNotConfigured is wrapped by every configuration validation failure.
var ErrNotConfigured = errors.New("unifi: controller not configured")

// Config is the connection identity and credentials for one controller.
type Config struct {
	BaseURL  string
	Site     string
	AuthMode AuthMode
	Username string
	Password string
	APIKey   string
}

// ConfigLoader returns the current controller configuration. It is called on
// every operation so that settings edits take effect without a restart.
type ConfigLoader func(ctx context.Context) (Config, error)

// StaticConfig returns a loader that always yields cfg.
func StaticConfig(cfg Config) ConfigLoader {
	return func(context.Context) (Config, error) { return cfg, nil }
}

// StatusError is returned when the controller answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("unifi: %s: body: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("unifi: %s for %s: body: %s", e.Status, e.URL, e.Body)
}

// IsAuthFailure reports whether err is a 401 or 403 from the controller.
func IsAuthFailure(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
}

type runtime struct {
	base     *url.URL
	site     string
	mode     AuthMode
	username string
	password string
	apiKey   string
}

// Client talks to a single controller. Logins and requests are each
// serialized by their own gate; session state is only touched under mu.
type Client struct {
	load   ConfigLoader
	http   *http.Client
	logger *zap.Logger

	loginGate   *semaphore.Weighted
	requestGate *semaphore.Weighted

	mu            sync.Mutex
	identity      string
	csrf          string
	lastLogin     time.Time
	cooldownUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The client should carry a
// cookie jar for session mode.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock overrides the time source and sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient creates a controller client. Certificate verification is off:
// controllers ship with self-signed certificates.
func NewClient(load ConfigLoader, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	c := &Client{
		load:   load,
		logger: logger,
		http: &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed appliances
			},
		},
		loginGate:   semaphore.NewWeighted(1),
		requestGate: semaphore.NewWeighted(1),
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActiveClients returns currently associated clients.
func (c *Client) ActiveClients(ctx context.Context) ([]Record, error) {
	return c.siteGet(ctx, "stat/sta")
}

// KnownClients returns every client the controller has recorded.
func (c *Client) KnownClients(ctx context.Context) ([]Record, error) {
	return c.siteGet(ctx, "rest/user")
}

// Devices returns adopted infrastructure devices.
func (c *Client) Devices(ctx context.Context) ([]Record, error) {
	return c.siteGet(ctx, "stat/device")
}

// Networks returns network definitions.
func (c *Client) Networks(ctx context.Context) ([]Record, error) {
	return c.siteGet(ctx, "rest/networkconf")
}

// TestConnection reads the active client list, the same call a sync pass
// starts with, and reports the outcome as a user-facing message.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	if _, err := c.ActiveClients(ctx); err != nil {
		return false, err.Error()
	}
	return true, connectionOKMsg
}

// Login authenticates in session mode. It is a no-op in API-key mode and
// when the current session is younger than its TTL, unless force is set.
// Every attempt waits out an active 403 cooldown first.
func (c *Client) Login(ctx context.Context, force bool) error {
	rt, err := c.runtime(ctx)
	if err != nil {
		return err
	}
	if rt.mode == AuthAPIKey {
		return nil
	}
	if !force && c.sessionFresh() {
		return nil
	}

	if err := c.loginGate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.loginGate.Release(1)

	if rt, err = c.runtime(ctx); err != nil {
		return err
	}
	if !force && c.sessionFresh() {
		return nil
	}

	if wait := c.cooldownRemaining(); wait > 0 {
		c.logger.Warn("controller login delayed by cooldown", zap.Duration("remaining", wait))
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.csrf = ""
	c.mu.Unlock()

	body, err := json.Marshal(map[string]any{
		"username": rt.username,
		"password": rt.password,
		"remember": true,
	})
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resolve(rt.base, loginPath), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("controller login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := c.statusError(resp, "")
		if resp.StatusCode == http.StatusForbidden {
			c.startCooldown("login")
		}
		return fmt.Errorf("controller login failed: %w", serr)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.mu.Lock()
	c.csrf = resp.Header.Get(csrfHeader)
	c.lastLogin = c.now()
	c.cooldownUntil = time.Time{}
	hasCSRF := c.csrf != ""
	c.mu.Unlock()

	c.logger.Info("controller login ok", zap.Bool("csrf", hasCSRF))
	return nil
}

func (c *Client) siteGet(ctx context.Context, endpoint string) ([]Record, error) {
	rt, err := c.runtime(ctx)
	if err != nil {
		return nil, err
	}
	target := resolve(rt.base, "/proxy/network/api/s/"+rt.site+"/"+endpoint)
	return c.getWithRetry(ctx, target)
}

func (c *Client) getWithRetry(ctx context.Context, target string) ([]Record, error) {
	if err := c.requestGate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.requestGate.Release(1)

	rt, err := c.runtime(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx, false); err != nil {
		return nil, err
	}

	records, err := c.get(ctx, target)
	if err == nil || !IsAuthFailure(err) {
		return records, err
	}
	if rt.mode == AuthAPIKey {
		return nil, err
	}

	c.logger.Warn("controller rejected request, re-authenticating",
		zap.String("url", target),
		zap.Error(err),
	)
	if err := c.Login(ctx, true); err != nil {
		return nil, err
	}
	if err := c.sleep(ctx, retryBackoff); err != nil {
		return nil, err
	}
	return c.get(ctx, target)
}

func (c *Client) get(ctx context.Context, target string) ([]Record, error) {
	rt, err := c.runtime(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if rt.mode == AuthAPIKey {
		req.Header.Set(apiKeyHeader, rt.apiKey)
	} else {
		c.mu.Lock()
		csrf := c.csrf
		c.mu.Unlock()
		if csrf != "" {
			req.Header.Set(csrfHeader, csrf)
		}
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("controller GET %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := c.statusError(resp, target)
		if resp.StatusCode == http.StatusForbidden {
			c.startCooldown("request")
		}
		return nil, serr
	}

	return decodeEnvelope(resp.Body)
}

// decodeEnvelope extracts the "data" array. A missing or non-array data
// member yields an empty result.
func decodeEnvelope(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode controller response: %w", err)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return []Record{}, nil
	}
	data, ok := obj["data"].([]any)
	if !ok {
		return []Record{}, nil
	}
	out := make([]Record, 0, len(data))
	for _, item := range data {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out, nil
}

// runtime loads and validates the current configuration, resetting session
// state when the connection identity changed.
func (c *Client) runtime(ctx context.Context) (runtime, error) {
	cfg, err := c.load(ctx)
	if err != nil {
		return runtime{}, fmt.Errorf("load controller settings: %w", err)
	}

	rt := runtime{
		site:     strings.TrimSpace(cfg.Site),
		mode:     cfg.AuthMode,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		apiKey:   strings.TrimSpace(cfg.APIKey),
	}
	if rt.site == "" {
		rt.site = defaultSite
	}
	if rt.mode != AuthAPIKey {
		rt.mode = AuthSession
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return runtime{}, fmt.Errorf("%w: base URL is not set", ErrNotConfigured)
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return runtime{}, fmt.Errorf("%w: base URL is invalid: %q", ErrNotConfigured, baseURL)
	}
	rt.base = base

	if rt.mode == AuthAPIKey {
		if rt.apiKey == "" {
			return runtime{}, fmt.Errorf("%w: API key is not set", ErrNotConfigured)
		}
	} else {
		if rt.username == "" {
			return runtime{}, fmt.Errorf("%w: username is not set", ErrNotConfigured)
		}
		if strings.TrimSpace(rt.password) == "" {
			return runtime{}, fmt.Errorf("%w: password is not set", ErrNotConfigured)
		}
	}

	identity := strings.ToLower(baseURL) + "\x00" + rt.username + "\x00" + strings.ToLower(rt.site)
	c.mu.Lock()
	if identity != c.identity {
		c.identity = identity
		c.csrf = ""
		c.lastLogin = time.Time{}
		c.cooldownUntil = time.Time{}
	}
	c.mu.Unlock()

	return rt, nil
}

func (c *Client) sessionFresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastLogin.IsZero() && c.now().Sub(c.lastLogin) < sessionTTL
}

func (c *Client) cooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldownUntil.IsZero() {
		return 0
	}
	return c.cooldownUntil.Sub(c.now())
}

func (c *Client) startCooldown(phase string) {
	c.mu.Lock()
	c.cooldownUntil = c.now().Add(forbiddenPause)
	c.mu.Unlock()
	c.logger.Warn("controller returned 403, cooling down",
		zap.String("phase", phase),
		zap.Duration("cooldown", forbiddenPause),
	)
}

func (c *Client) statusError(resp *http.Response, target string) *StatusError {
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		URL:        target,
		Body:       readBody(resp.Body),
	}
}

func readBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "(unreadable body)"
	}
	s := string(raw)
	if strings.TrimSpace(s) == "" {
		return "(empty)"
	}
	if utf8.RuneCountInString(s) <= maxErrorBody {
		return s
	}
	return string([]rune(s)[:maxErrorBody]) + "…"
}

func resolve(base *url.URL, path string) string {
	return base.ResolveReference(&url.URL{Path: path}).String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
