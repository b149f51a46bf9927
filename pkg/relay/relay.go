// Package relay forwards mock-instance traffic to an upstream service,
// optionally injecting OAuth2 client-credentials bearer tokens.
package relay

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mockhive/mockhive/pkg/logging"
	"github.com/mockhive/mockhive/pkg/oauth"
)

// MaxBodySize bounds the upstream response body (10MB).
const MaxBodySize = 10 << 20

// Upstream call timeouts.
const (
	requestTimeout = 30 * time.Second
	connectTimeout = 5 * time.Second
)

// Config describes an upstream target. It appears at the instance level
// (all traffic relayed) or on a single expectation (override).
type Config struct {
	RemoteURL       string            `json:"remoteUrl"`
	TokenURL        string            `json:"tokenUrl,omitempty"`
	ClientID        string            `json:"clientId,omitempty"`
	ClientSecret    string            `json:"clientSecret,omitempty"`
	Scope           string            `json:"scope,omitempty"`
	GrantType       string            `json:"grantType,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	IgnoreSSLErrors bool              `json:"ignoreSSLErrors,omitempty"`
}

// OAuth returns the token cache config, or nil when no token endpoint is
// configured.
func (c *Config) OAuth() *oauth.Config {
	if c.TokenURL == "" {
		return nil
	}
	return &oauth.Config{
		TokenURL:     c.TokenURL,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scope:        c.Scope,
		GrantType:    c.GrantType,
		Insecure:     c.IgnoreSSLErrors,
	}
}

// Validate checks the minimal shape of a relay config.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("relay: remoteUrl is required")
	}
	if !strings.HasPrefix(c.RemoteURL, "http://") && !strings.HasPrefix(c.RemoteURL, "https://") {
		return fmt.Errorf("relay: remoteUrl must be http(s), got %q", c.RemoteURL)
	}
	if c.TokenURL != "" && c.ClientID == "" {
		return fmt.Errorf("relay: clientId is required when tokenUrl is set")
	}
	return nil
}

// hopByHopHeaders are dropped in both directions. Authorization is in
// the list so client credentials never leak upstream and upstream
// challenges never leak back.
var hopByHopHeaders = []string{
	"Host",
	"Connection",
	"Content-Length",
	"Transfer-Encoding",
	"Authorization",
}

// Result is the upstream response, returned verbatim to the dispatcher.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Engine forwards requests upstream.
type Engine struct {
	tokens         *oauth.Cache
	client         *http.Client
	insecureClient *http.Client
	log            *slog.Logger
}

// NewEngine creates an Engine using the given token cache.
func NewEngine(tokens *oauth.Cache, log *slog.Logger) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		tokens:         tokens,
		client:         newHTTPClient(false),
		insecureClient: newHTTPClient(true),
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

// Do forwards a request to cfg.RemoteURL + requestURI and returns the
// upstream response. requestURI is the path plus raw query exactly as
// received. The caller's context is propagated to the upstream call so
// client disconnects cancel it.
func (e *Engine) Do(ctx context.Context, cfg *Config, method, requestURI string, inHeader http.Header, body []byte) (*Result, error) {
	target := strings.TrimSuffix(cfg.RemoteURL, "/") + requestURI

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	// Copy inbound headers minus the hop-by-hop set.
	for name, values := range inHeader {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	dropHopByHop(req.Header)

	// Static relay headers overwrite same-name inbound headers.
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}

	if oauthCfg := cfg.OAuth(); oauthCfg != nil {
		token, err := e.tokens.GetToken(ctx, oauthCfg)
		if err != nil {
			return nil, fmt.Errorf("acquiring token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := e.client
	if cfg.IgnoreSSLErrors {
		client = e.insecureClient
	}

	e.log.Debug("relaying request", "method", method, "target", target)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	outHeader := resp.Header.Clone()
	dropHopByHop(outHeader)

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     outHeader,
		Body:       respBody,
	}, nil
}

func dropHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
