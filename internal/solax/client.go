package solax

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultBaseURL is the public SolaX Cloud endpoint
	DefaultBaseURL = "https://www.solaxcloud.com"

	realtimePath   = "/proxyApp/proxy/api/getRealtimeInfo.do"
	defaultTimeout = 10 * time.Second
)

var (
	// ErrFetch wraps every failure to obtain a snapshot
	ErrFetch = errors.New("solax cloud fetch failed")
	// ErrUnauthorized is returned when the cloud rejects the token or serial
	ErrUnauthorized = errors.New("solax cloud rejected credentials")
)

// Config identifies one inverter on SolaX Cloud
type Config struct {
	BaseURL      string
	TokenID      string
	SerialNumber string
	Timeout      time.Duration
}

// Client talks to the SolaX Cloud realtime API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a SolaX Cloud client
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchRealtime retrieves the latest realtime data and returns it as a Snapshot
func (c *Client) FetchRealtime(ctx context.Context) (Snapshot, error) {
	var resp RealtimeResponse
	if err := c.fetchJSON(ctx, c.realtimeURL(), &resp); err != nil {
		return Snapshot{}, err
	}

	if !resp.Success {
		return Snapshot{}, fmt.Errorf("%w: %w: code %d: %s", ErrFetch, ErrUnauthorized, resp.Code, resp.Exception)
	}
	if resp.Result == nil {
		return Snapshot{}, fmt.Errorf("%w: response has no result object", ErrFetch)
	}

	return NewSnapshot(resp.Result), nil
}

func (c *Client) realtimeURL() string {
	q := url.Values{}
	q.Set("tokenId", c.cfg.TokenID)
	q.Set("sn", c.cfg.SerialNumber)
	return c.cfg.BaseURL + realtimePath + "?" + q.Encode()
}

// fetchJSON performs an HTTP GET request and decodes the JSON response
func (c *Client) fetchJSON(ctx context.Context, target string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetch, redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w: status %d", ErrFetch, ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: unexpected status code %d", ErrFetch, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: failed to decode JSON: %w", ErrFetch, err)
	}

	return nil
}

// redact strips the request URL, which carries the token, from transport errors
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
