// Package upstream talks to the stats service that knows channel subscriber
// counts and answers discovery searches.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ddevcap/subtracker/config"
)

const (
	maxBodyBytes  = 1 << 20 // 1 MiB
	maxImageBytes = 2 << 20 // 2 MiB
)

// Client is shared by the fetcher, the discovery loop and the avatar proxy.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter // nil when unlimited
}

// New builds a client from the upstream settings in cfg.
func New(cfg config.Config) *Client {
	timeout := cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   max(cfg.BatchSize*2, 10),
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.UpstreamURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: timeout},
	}
	if cfg.UpstreamRateLimit > 0 {
		burst := max(int(cfg.UpstreamRateLimit), cfg.BatchSize, 1)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRateLimit), burst)
	}
	return c
}

// BaseURL returns the upstream base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Lookup fetches the current stats of one channel.
func (c *Client) Lookup(ctx context.Context, id string) (Channel, error) {
	raw, status, err := c.get(ctx, "/channels/"+url.PathEscape(id), nil, maxBodyBytes)
	if err != nil {
		return Channel{}, &Error{Op: "lookup", Target: id, StatusCode: status, Err: err}
	}
	switch {
	case status == http.StatusNotFound:
		return Channel{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case status < 200 || status >= 300:
		return Channel{}, &Error{Op: "lookup", Target: id, StatusCode: status}
	}
	ch, err := decodeChannel(raw, id)
	if err != nil {
		return Channel{}, &Error{Op: "lookup", Target: id, StatusCode: status, Err: err}
	}
	return ch, nil
}

// Search runs one discovery query.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	raw, status, err := c.get(ctx, "/search", url.Values{"q": {query}}, maxBodyBytes)
	if err != nil {
		return nil, &Error{Op: "search", Target: query, StatusCode: status, Err: err}
	}
	if status < 200 || status >= 300 {
		return nil, &Error{Op: "search", Target: query, StatusCode: status}
	}
	results, err := decodeSearch(raw)
	if err != nil {
		return nil, &Error{Op: "search", Target: query, StatusCode: status, Err: err}
	}
	return results, nil
}

// FetchImage downloads an avatar image from an absolute http(s) URL. The
// returned content type is the one announced by the server, if any.
func (c *Client) FetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", &Error{Op: "image", Target: imageURL, Err: errors.New("not an absolute http(s) URL")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", &Error{Op: "image", Target: imageURL, Err: err}
	}
	raw, status, header, err := c.do(req, maxImageBytes)
	if err != nil {
		return nil, "", &Error{Op: "image", Target: imageURL, StatusCode: status, Err: err}
	}
	if status == http.StatusNotFound {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, imageURL)
	}
	if status < 200 || status >= 300 {
		return nil, "", &Error{Op: "image", Target: imageURL, StatusCode: status}
	}
	return raw, header.Get("Content-Type"), nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, limit int64) ([]byte, int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	raw, status, _, err := c.do(req, limit)
	return raw, status, err
}

func (c *Client) do(req *http.Request, limit int64) ([]byte, int, http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, 0, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("reading response: %w", err)
	}
	if int64(len(raw)) > limit {
		return nil, resp.StatusCode, resp.Header, fmt.Errorf("response larger than %d bytes", limit)
	}
	return raw, resp.StatusCode, resp.Header, nil
}
