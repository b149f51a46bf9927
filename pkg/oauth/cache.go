// Package oauth implements client-credentials token acquisition with a
// per-(tokenURL, clientID) cache. Concurrent misses on the same key are
// coalesced so at most one upstream token call is in flight per key, and
// failed fetches are never cached.
package oauth

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mockhive/mockhive/pkg/logging"
)

// DefaultTTL is assumed when the token endpoint omits expires_in.
const DefaultTTL = 3300 * time.Second

// Upstream call timeouts, shared with the relay engine.
const (
	requestTimeout = 30 * time.Second
	connectTimeout = 5 * time.Second
)

// Config identifies a token endpoint and the client credentials to use.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	// GrantType defaults to client_credentials.
	GrantType string
	// Insecure disables certificate verification for the token call.
	Insecure bool
}

type cacheKey struct {
	tokenURL string
	clientID string
}

type cachedToken struct {
	accessToken string
	issuedAt    time.Time
	ttl         time.Duration
}

// fresh reports whether the token can still be served from cache. The
// guard band is max(60s, 5% of ttl), capped at half the TTL so that
// short-lived tokens remain cacheable at all.
func (t *cachedToken) fresh(now time.Time) bool {
	margin := max(60*time.Second, t.ttl/20)
	if margin > t.ttl/2 {
		margin = t.ttl / 2
	}
	return now.Sub(t.issuedAt) < t.ttl-margin
}

// Cache caches access tokens per (tokenURL, clientID).
type Cache struct {
	mu     sync.RWMutex
	tokens map[cacheKey]*cachedToken

	group          singleflight.Group
	client         *http.Client
	insecureClient *http.Client
	now            func() time.Time
	log            *slog.Logger
}

// NewCache creates an empty token cache.
func NewCache(log *slog.Logger) *Cache {
	if log == nil {
		log = logging.Nop()
	}
	return &Cache{
		tokens:         make(map[cacheKey]*cachedToken),
		client:         newHTTPClient(false),
		insecureClient: newHTTPClient(true),
		now:            time.Now,
		log:            log,
	}
}

func newHTTPClient(insecure bool) *http.Client {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit per-config opt-in
	}
	return &http.Client{Transport: transport, Timeout: requestTimeout}
}

// GetToken returns a cached access token for cfg, fetching one from the
// token endpoint on a miss or when the cached token is near expiry.
func (c *Cache) GetToken(ctx context.Context, cfg *Config) (string, error) {
	key := cacheKey{tokenURL: cfg.TokenURL, clientID: cfg.ClientID}

	c.mu.RLock()
	tok := c.tokens[key]
	c.mu.RUnlock()
	if tok != nil && tok.fresh(c.now()) {
		return tok.accessToken, nil
	}

	// Coalesce concurrent misses: one flight per key, all waiters observe
	// the same token or the same failure.
	v, err, _ := c.group.Do(cfg.TokenURL+"\x00"+cfg.ClientID, func() (any, error) {
		c.mu.RLock()
		tok := c.tokens[key]
		c.mu.RUnlock()
		if tok != nil && tok.fresh(c.now()) {
			return tok.accessToken, nil
		}

		fetched, err := c.fetch(ctx, cfg)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.tokens[key] = fetched
		c.mu.Unlock()

		c.log.Debug("token acquired", "token_url", cfg.TokenURL, "client_id", cfg.ClientID, "ttl", fetched.ttl)
		return fetched.accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for a key, if any.
func (c *Cache) Invalidate(tokenURL, clientID string) {
	c.mu.Lock()
	delete(c.tokens, cacheKey{tokenURL: tokenURL, clientID: clientID})
	c.mu.Unlock()
}

// tokenResponse is the subset of RFC 6749 §5.1 the cache consumes.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Cache) fetch(ctx context.Context, cfg *Config) (*cachedToken, error) {
	grantType := cfg.GrantType
	if grantType == "" {
		grantType = "client_credentials"
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("client_id", cfg.ClientID)
	form.Set("client_secret", cfg.ClientSecret)
	if cfg.Scope != "" {
		form.Set("scope", cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := c.client
	if cfg.Insecure {
		client = c.insecureClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request to %s: %w", cfg.TokenURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint %s returned %d", cfg.TokenURL, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response from %s has no access_token", cfg.TokenURL)
	}

	ttl := DefaultTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}

	return &cachedToken{
		accessToken: tr.AccessToken,
		issuedAt:    c.now(),
		ttl:         ttl,
	}, nil
}
