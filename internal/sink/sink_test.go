package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devblac/chain-inspector/internal/event"
)

func TestClientDeliversJSONBodyWithMethod(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotBody   string
		gotCT     string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotMethod, gotPath, gotBody, gotCT = r.Method, r.URL.Path, string(b), r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := NewClient(server.URL+"/", map[event.Endpoint]string{event.EndpointWatchTower: "/api/watch-tower"}, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if got := c.URL(event.EndpointStacking); got != server.URL+"/stacking" {
		t.Fatalf("default path not applied: %s", got)
	}

	body := event.Fields{{Key: "orderHash", Value: "0x01"}}
	status, err := c.Deliver(context.Background(), "delete", c.URL(event.EndpointWatchTower), body)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if status != http.StatusOK || !OK(status) {
		t.Fatalf("status = %d", status)
	}
	if gotMethod != http.MethodDelete || gotPath != "/api/watch-tower" {
		t.Fatalf("unexpected request %s %s", gotMethod, gotPath)
	}
	if gotBody != `{"orderHash":"0x01"}` || gotCT != "application/json" {
		t.Fatalf("unexpected body %q content-type %q", gotBody, gotCT)
	}
}

func TestClientReportsStatusWithoutError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(server.URL, nil, 0)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	status, err := c.Deliver(context.Background(), http.MethodPost, c.URL(event.EndpointStackingFees), event.Fields{})
	if err != nil {
		t.Fatalf("non-2xx must not be a transport error: %v", err)
	}
	if status != http.StatusServiceUnavailable || OK(status) {
		t.Fatalf("status = %d", status)
	}
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, err := NewClient(url, nil, time.Second)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := c.Deliver(context.Background(), http.MethodPost, c.URL(event.EndpointStacking), event.Fields{}); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestSlackNotifierRendersTemplate(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewSlackNotifier(server.URL, "", nil)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	err = n.Notify(context.Background(), Report{
		ChainID: "56", Category: "trade", Status: "completed", From: 45, To: 75, Events: 4, Failed: 2,
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(got["text"], "chain 56 trade [45,75] 2/4 deliveries failed") {
		t.Fatalf("unexpected text: %q", got["text"])
	}
}

func TestWebhookNotifierStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(server.URL, http.MethodPost, "msg {{.RunID}}", nil, nil)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if err := n.Notify(context.Background(), Report{RunID: "r"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestNotifierThrottles(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewTeamsNotifier(server.URL, "x", NewTokenBucket(1, 0))
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	if err := n.Notify(context.Background(), Report{}); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := n.Notify(context.Background(), Report{}); err != ErrThrottled {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 request, got %d", calls)
	}
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 1) // capacity=2, 1 token/sec
	now := time.Now()

	if !tb.Allow(now) || !tb.Allow(now) {
		t.Fatalf("expected initial tokens available")
	}
	if tb.Allow(now) {
		t.Fatalf("expected third to be rate-limited")
	}

	// Refill after 1.5s -> should allow one
	now = now.Add(1500 * time.Millisecond)
	if !tb.Allow(now) {
		t.Fatalf("expected token after refill")
	}
}
