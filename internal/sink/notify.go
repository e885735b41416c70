package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"
)

// ErrThrottled is returned when a notifier dropped a message to respect its rate limit.
var ErrThrottled = errors.New("notification throttled")

// Report summarizes an analysis run for operators.
type Report struct {
	RunID     string
	ChainID   string
	Category  string
	Status    string
	From      uint64
	To        uint64
	Events    int
	Delivered int
	Failed    int
	Error     string
}

// Notifier sends run reports to an operator channel.
type Notifier interface {
	Notify(ctx context.Context, r Report) error
}

type httpNotifier struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string

	mu      sync.Mutex
	limiter *TokenBucket
	now     func() time.Time
}

// NewWebhookNotifier builds a generic HTTP notifier. limiter may be nil.
func NewWebhookNotifier(url, method, tmpl string, headers map[string]string, limiter *TokenBucket) (Notifier, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &httpNotifier{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: headers,
		limiter: limiter,
		now:     time.Now,
	}, nil
}

// NewSlackNotifier builds a Slack-compatible webhook notifier.
func NewSlackNotifier(url, tmpl string, limiter *TokenBucket) (Notifier, error) {
	return NewWebhookNotifier(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	}, limiter)
}

// NewTeamsNotifier builds a Teams-compatible webhook notifier.
func NewTeamsNotifier(url, tmpl string, limiter *TokenBucket) (Notifier, error) {
	// Teams accepts simple {text: "..."} payloads.
	return NewWebhookNotifier(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	}, limiter)
}

func (n *httpNotifier) Notify(ctx context.Context, r Report) error {
	if !n.allow() {
		return ErrThrottled
	}
	bodyStr, err := executeTemplate(n.render, r)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(map[string]string{
		"text": bodyStr,
	})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.method, n.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if !OK(resp.StatusCode) {
		return fmt.Errorf("notify http status %d", resp.StatusCode)
	}
	return nil
}

func (n *httpNotifier) allow() bool {
	if n.limiter == nil {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.limiter.Allow(n.now())
}

const defaultTemplate = `inspector {{.Status}}: chain {{.ChainID}} {{.Category}} [{{.From}},{{.To}}] ` +
	`{{.Failed}}/{{.Events}} deliveries failed{{if .Error}} error={{.Error}}{{end}}`

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = defaultTemplate
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:6] + "..." + addr[len(addr)-4:]
		},
	}
	return template.New("msg").Funcs(funcs).Parse(tmpl)
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// TokenBucket is a simple rate limiter; callers serialize access.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second

	tokens     float64
	lastUpdate time.Time
}

// NewTokenBucket creates a token bucket with capacity and refill rate.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
	}
}

// Allow consumes one token if available, refilling based on elapsed time.
func (b *TokenBucket) Allow(now time.Time) bool {
	if b.lastUpdate.IsZero() {
		b.lastUpdate = now
	}
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}
