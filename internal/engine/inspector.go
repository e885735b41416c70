package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/chain-inspector/internal/event"
	"github.com/devblac/chain-inspector/internal/metrics"
	"github.com/devblac/chain-inspector/internal/sink"
	"github.com/devblac/chain-inspector/internal/source/evm"
	"github.com/devblac/chain-inspector/internal/storage"
)

// Category groups the event kinds that share a checkpoint and a lock.
type Category string

const (
	CategoryTrade   Category = "trade"
	CategoryStaking Category = "staking"
)

// Categories lists every category in the order a tick runs them.
var Categories = []Category{CategoryTrade, CategoryStaking}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Status is the outcome of one analysis run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusIdle      Status = "idle"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result describes what a run did.
type Result struct {
	RunID     string
	ChainID   string
	Category  Category
	Status    Status
	Window    Window
	Events    int
	Delivered int
	Failed    int
	DryRun    bool
	Err       error
}

// EventSource reads the chain.
type EventSource interface {
	HeadBlock(ctx context.Context) (uint64, error)
	QueryEvents(ctx context.Context, q evm.Query) ([]event.Raw, error)
}

// Deliverer sends signed envelopes to the downstream API.
type Deliverer interface {
	URL(ep event.Endpoint) string
	Deliver(ctx context.Context, method, target string, body any) (int, error)
}

// Checkpoints is the part of the ledger a run needs.
type Checkpoints interface {
	ReadCheckpoint(ctx context.Context, chainID, category string) (uint64, error)
	Commit(ctx context.Context, c storage.Commit) error
}

// Options configures one Inspector.
type Options struct {
	ChainID         uint64
	DexContract     string
	StakingContract string
	GenesisBlock    uint64
	MaxRange        uint64
	// DeliveryWorkers bounds concurrent deliveries; 0 means unbounded.
	DeliveryWorkers int
	RunTimeout      time.Duration
	DryRun          bool
}

// Inspector runs the analysis of one chain.
type Inspector struct {
	opts      Options
	chainKey  string
	source    EventSource
	delivery  Deliverer
	signer    *sink.Signer
	ledger    Checkpoints
	notifiers []sink.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger
	locks     map[Category]*atomic.Bool
	newRunID  func() string
	nowFunc   func() time.Time
}

// NewInspector wires a chain's source, the delivery client and the ledger.
// Notifiers, metrics and logger may be nil.
func NewInspector(opts Options, source EventSource, delivery Deliverer, signer *sink.Signer, ledger Checkpoints, notifiers []sink.Notifier, m *metrics.Metrics, log *slog.Logger) (*Inspector, error) {
	if source == nil || delivery == nil || signer == nil || ledger == nil {
		return nil, errors.New("inspector requires source, delivery, signer and ledger")
	}
	if opts.MaxRange == 0 {
		return nil, errors.New("max range must be positive")
	}
	if opts.DeliveryWorkers < 0 {
		return nil, errors.New("delivery workers must not be negative")
	}
	if log == nil {
		log = slog.Default()
	}
	key := strconv.FormatUint(opts.ChainID, 10)
	locks := make(map[Category]*atomic.Bool, len(Categories))
	for _, c := range Categories {
		locks[c] = new(atomic.Bool)
	}
	return &Inspector{
		opts:      opts,
		chainKey:  key,
		source:    source,
		delivery:  delivery,
		signer:    signer,
		ledger:    ledger,
		notifiers: notifiers,
		metrics:   m,
		log:       log.With("chain", key),
		locks:     locks,
		newRunID:  func() string { return uuid.NewString() },
		nowFunc:   time.Now,
	}, nil
}

// ChainID returns the decimal chain id.
func (i *Inspector) ChainID() string { return i.chainKey }

// TradeAnalysis runs the trade category.
func (i *Inspector) TradeAnalysis(ctx context.Context) Result {
	return i.Analyze(ctx, CategoryTrade)
}

// StakingAnalysis runs the staking category.
func (i *Inspector) StakingAnalysis(ctx context.Context) Result {
	return i.Analyze(ctx, CategoryStaking)
}

// Analyze scans the blocks added since the category's checkpoint, delivers
// the resulting domain events and advances the checkpoint. A run that finds
// the category already running returns StatusSkipped without side effects.
func (i *Inspector) Analyze(ctx context.Context, cat Category) Result {
	res := Result{RunID: i.newRunID(), ChainID: i.chainKey, Category: cat, DryRun: i.opts.DryRun}
	lock, ok := i.locks[cat]
	if !ok {
		res.Status = StatusFailed
		res.Err = fmt.Errorf("unknown category %q", cat)
		return res
	}
	if !lock.CompareAndSwap(false, true) {
		res.Status = StatusSkipped
		i.log.Debug("run already in progress", "category", cat)
		i.metrics.Run(i.chainKey, string(cat), string(res.Status))
		return res
	}

	defer lock.Store(false)

	start := i.nowFunc()
	res = i.run(ctx, res)
	i.observe(ctx, res, i.nowFunc().Sub(start))
	return res
}

func (i *Inspector) run(ctx context.Context, res Result) Result {
	if i.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.opts.RunTimeout)
		defer cancel()
	}
	log := i.log.With("category", res.Category, "run_id", res.RunID)

	fail := func(err error) Result {
		res.Status = StatusFailed
		res.Err = err
		log.Error("analysis failed", "error", err)
		return res
	}

	last := i.lastBlock(ctx, res.Category, log)
	head, err := i.source.HeadBlock(ctx)
	if err != nil {
		return fail(fmt.Errorf("head block: %w", err))
	}
	res.Window = NewWindow(last, head, i.opts.MaxRange)
	if res.Window.Empty() {
		res.Status = StatusIdle
		log.Debug("no new blocks", "checkpoint", last, "head", head)
		return res
	}

	raws, err := i.fetch(ctx, res.Category, res.Window)
	if err != nil {
		return fail(err)
	}
	var col Collector
	events := i.translate(raws, &col, log)
	res.Events = len(events)
	log.Info("scanned", "from", res.Window.From, "to", res.Window.To, "events", len(events), "untranslatable", col.Len())

	if i.opts.DryRun {
		for _, ev := range events {
			payload, _ := json.Marshal(ev.Fields())
			log.Info("dry-run event", "method", ev.Route().Method, "target", i.delivery.URL(ev.Route().Endpoint), "payload", string(payload))
		}
		res.Status = StatusCompleted
		return res
	}

	res.Delivered = i.deliverAll(ctx, events, &col, log)
	res.Failed = col.Len()

	batch, err := col.Batch()
	if err != nil {
		log.Error("encode failures", "error", err)
		i.metrics.Errors()
	}
	commit := storage.Commit{ChainID: i.chainKey, Category: string(res.Category), Block: res.Window.To, Failures: batch}
	// The run context may have expired during delivery; the checkpoint still has to land.
	if err := i.ledger.Commit(context.WithoutCancel(ctx), commit); err != nil {
		log.Error("commit checkpoint", "block", res.Window.To, "error", err)
		i.metrics.Errors()
	} else {
		i.metrics.Checkpoint(i.chainKey, string(res.Category), res.Window.To)
	}

	res.Status = StatusCompleted
	log.Info("analysis completed", "delivered", res.Delivered, "failed", res.Failed, "checkpoint", res.Window.To)
	return res
}

func (i *Inspector) lastBlock(ctx context.Context, cat Category, log *slog.Logger) uint64 {
	block, err := i.ledger.ReadCheckpoint(ctx, i.chainKey, string(cat))
	if err != nil {
		if !errors.Is(err, storage.ErrNoCheckpoint) {
			log.Warn("read checkpoint, falling back to genesis", "genesis", i.opts.GenesisBlock, "error", err)
		}
		return i.opts.GenesisBlock
	}
	return block
}

// queries lists the event kinds of a category in delivery order.
func (i *Inspector) queries(cat Category, w Window) []evm.Query {
	var contract string
	var kinds []event.Kind
	switch cat {
	case CategoryTrade:
		contract = i.opts.DexContract
		kinds = []event.Kind{event.KindNewTrade, event.KindCancel}
	case CategoryStaking:
		contract = i.opts.StakingContract
		kinds = []event.Kind{event.KindNewStackDeposit, event.KindNewStackWithdrawal, event.KindNewFeesDeposit, event.KindNewFeesWithdrawal}
	}
	out := make([]evm.Query, len(kinds))
	for n, k := range kinds {
		out[n] = evm.Query{Contract: contract, Event: string(k), FromBlock: w.From, ToBlock: w.To}
	}
	return out
}

// fetch runs every query of the category concurrently and concatenates the
// results in query order.
func (i *Inspector) fetch(ctx context.Context, cat Category, w Window) ([]event.Raw, error) {
	queries := i.queries(cat, w)
	results := make([][]event.Raw, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for n, q := range queries {
		n, q := n, q
		g.Go(func() error {
			raws, err := i.source.QueryEvents(gctx, q)
			if err != nil {
				return fmt.Errorf("query %s: %w", q.Event, err)
			}
			results[n] = raws
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []event.Raw
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// translate maps raws to domain events. A raw event that cannot be
// translated is recorded in col with its coordinates and skipped; its seq is
// the position of the next event so the batch keeps chain order.
func (i *Inspector) translate(raws []event.Raw, col *Collector, log *slog.Logger) []event.Domain {
	out := make([]event.Domain, 0, len(raws))
	for _, raw := range raws {
		evs, err := event.Translate(i.opts.ChainID, raw)
		if err != nil {
			col.Record(len(out), Failure{
				Path:    raw.Contract,
				ChainID: i.chainKey,
				Err:     err.Error(),
				Envelope: event.Fields{
					{Key: "kind", Value: string(raw.Kind)},
					{Key: "block", Value: raw.BlockNumber},
					{Key: "txHash", Value: raw.TxHash},
					{Key: "logIndex", Value: raw.LogIndex},
					{Key: "args", Value: raw.Args},
				},
			})
			log.Warn("untranslatable event", "kind", raw.Kind, "block", raw.BlockNumber, "tx", raw.TxHash, "error", err)
			i.metrics.Errors()
			continue
		}
		out = append(out, evs...)
	}
	return out
}

// deliverAll signs and sends every event, recording failures in col, and
// returns the number of accepted deliveries.
func (i *Inspector) deliverAll(ctx context.Context, events []event.Domain, col *Collector, log *slog.Logger) int {
	var delivered atomic.Int64
	var g errgroup.Group
	if i.opts.DeliveryWorkers > 0 {
		g.SetLimit(i.opts.DeliveryWorkers)
	}
	for n, ev := range events {
		n, ev := n, ev
		g.Go(func() error {
			if i.deliver(ctx, n, ev, col, log) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load())
}

func (i *Inspector) deliver(ctx context.Context, seq int, ev event.Domain, col *Collector, log *slog.Logger) bool {
	route := ev.Route()
	target := i.delivery.URL(route.Endpoint)
	failure := Failure{Path: target, Method: route.Method, ChainID: i.chainKey, Envelope: ev.Fields()}

	env, err := i.signer.Sign(ev.Fields())
	if err != nil {
		failure.Err = err.Error()
		col.Record(seq, failure)
		log.Warn("sign payload", "target", target, "error", err)
		return false
	}
	failure.Envelope = env

	status, err := i.delivery.Deliver(ctx, route.Method, target, env)
	switch {
	case err != nil:
		failure.Err = err.Error()
	case !sink.OK(status):
		failure.Status = status
	default:
		return true
	}
	col.Record(seq, failure)
	log.Warn("delivery failed", "method", route.Method, "target", target, "status", status, "error", err)
	return false
}

// observe publishes metrics and, for failed or lossy runs, operator reports.
func (i *Inspector) observe(ctx context.Context, res Result, took time.Duration) {
	cat := string(res.Category)
	i.metrics.Run(i.chainKey, cat, string(res.Status))
	if res.Status == StatusFailed {
		i.metrics.Errors()
	}
	if res.Status == StatusCompleted {
		i.metrics.Duration(i.chainKey, cat, took.Seconds())
		i.metrics.Delivered(i.chainKey, cat, res.Delivered, res.Failed)
	}

	if len(i.notifiers) == 0 || (res.Status != StatusFailed && res.Failed == 0) {
		return
	}
	report := sink.Report{
		RunID:     res.RunID,
		ChainID:   res.ChainID,
		Category:  cat,
		Status:    string(res.Status),
		From:      res.Window.From,
		To:        res.Window.To,
		Events:    res.Events,
		Delivered: res.Delivered,
		Failed:    res.Failed,
	}
	if res.Err != nil {
		report.Error = res.Err.Error()
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	for _, n := range i.notifiers {
		if err := n.Notify(nctx, report); err != nil {
			if errors.Is(err, sink.ErrThrottled) {
				i.log.Debug("notification throttled", "run_id", res.RunID)
				continue
			}
			i.log.Warn("notify", "run_id", res.RunID, "error", err)
		}
	}
}
