package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devblac/chain-inspector/internal/event"
)

// DefaultPaths are the downstream routes used when none are configured.
var DefaultPaths = map[event.Endpoint]string{
	event.EndpointWatchTower:     "/watch-tower",
	event.EndpointStacking:       "/stacking",
	event.EndpointStackingFees:   "/stacking-fees",
	event.EndpointFeesWithdrawal: "/fees-withdrawal",
}

// Client delivers signed envelopes to the downstream API.
type Client struct {
	baseURL string
	paths   map[event.Endpoint]string
	client  *http.Client
	headers map[string]string
}

// NewClient builds a delivery client. Missing paths fall back to DefaultPaths.
func NewClient(baseURL string, paths map[event.Endpoint]string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	merged := make(map[event.Endpoint]string, len(DefaultPaths))
	for ep, p := range DefaultPaths {
		merged[ep] = p
	}
	for ep, p := range paths {
		if p != "" {
			merged[ep] = p
		}
	}
	hc := defaultClient()
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   merged,
		client:  hc,
		headers: map[string]string{
			"Content-Type": "application/json",
		},
	}, nil
}

// URL returns the absolute URL of an endpoint.
func (c *Client) URL(ep event.Endpoint) string {
	return c.baseURL + c.paths[ep]
}

// Deliver sends body as JSON and returns the response status. A non-2xx status
// is not an error; only transport and encoding failures are.
func (c *Client) Deliver(ctx context.Context, method, target string, body any) (int, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, bytes.NewReader(reqBody))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// OK reports whether status is a 2xx success.
func OK(status int) bool {
	return status >= 200 && status < 300
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}
