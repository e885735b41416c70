package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/devblac/chain-inspector/internal/event"
)

// Failure is one delivery that did not reach the downstream API.
type Failure struct {
	Path     string
	Method   string
	ChainID  string
	Status   int
	Err      string
	Envelope event.Fields

	seq int
}

// Fields renders the failure record: where the request went, then why it
// failed, then the envelope that would have been sent.
func (f Failure) Fields() event.Fields {
	out := event.Fields{
		{Key: "path", Value: f.Path},
		{Key: "method", Value: strings.ToLower(f.Method)},
		{Key: "chainId", Value: f.ChainID},
	}
	if f.Err != "" {
		out = append(out, event.Field{Key: "error", Value: f.Err})
	} else {
		out = append(out, event.Field{Key: "status", Value: f.Status})
	}
	return append(out, f.Envelope...)
}

// Collector gathers the failures of one run. It is safe for concurrent use by
// delivery workers.
type Collector struct {
	mu       sync.Mutex
	failures []Failure
}

// Record adds a failure. seq is the position of the event in the run and
// fixes the order of the flushed batch.
func (c *Collector) Record(seq int, f Failure) {
	f.seq = seq
	c.mu.Lock()
	c.failures = append(c.failures, f)
	c.mu.Unlock()
}

// Len returns the number of recorded failures.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.failures)
}

// Batch encodes the failures as a single JSON array ordered like the events
// they came from. It returns nil when nothing failed.
func (c *Collector) Batch() ([]byte, error) {
	c.mu.Lock()
	failures := append([]Failure(nil), c.failures...)
	c.mu.Unlock()

	if len(failures) == 0 {
		return nil, nil
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].seq < failures[j].seq })

	records := make([]event.Fields, len(failures))
	for i, f := range failures {
		records[i] = f.Fields()
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode failures: %w", err)
	}
	return b, nil
}
