package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/worksafe/risk-engine/internal/config"
	"github.com/worksafe/risk-engine/internal/metrics"
	"github.com/worksafe/risk-engine/internal/model"
)

// item is one queued calculator run. attempt counts transient requeues.
type item struct {
	calc    metrics.Calculator
	attempt int
}

// Reactor is the bounded worker pool that executes calculator instances.
// Delivery is at-least-once: a missing-dependency metric requeues the
// instance a bounded number of times, and everything else resolves to a
// terminal outcome on the first run.
type Reactor struct {
	cfg     config.ReactorConfig
	deps    *metrics.Deps
	factory *Factory

	queue chan item

	mu      sync.Mutex
	pending map[metrics.Instance]time.Time
	closed  bool

	workers *errgroup.Group
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a reactor. Start must be called before triggers are handled.
func New(cfg config.ReactorConfig, deps *metrics.Deps, factory *Factory) *Reactor {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	return &Reactor{
		cfg:     cfg,
		deps:    deps,
		factory: factory,
		queue:   make(chan item, cfg.QueueCapacity),
		pending: make(map[metrics.Instance]time.Time),
		done:    make(chan struct{}),
	}
}

// Start launches the worker pool.
func (r *Reactor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	r.workers = g
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			r.workerLoop(gctx)
			return nil
		})
	}
	go func() {
		g.Wait() //nolint:errcheck
		close(r.done)
	}()

	zap.L().Info("reactor started",
		zap.Int("workers", r.cfg.Workers),
		zap.Int("queue_capacity", r.cfg.QueueCapacity))
}

// Stop drains the queue and waits up to the configured grace period before
// abandoning in-flight work.
func (r *Reactor) Stop() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	grace := time.Duration(r.cfg.DrainGraceSecs) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}
	select {
	case <-r.done:
		zap.L().Info("reactor drained")
	case <-time.After(grace):
		zap.L().Warn("reactor drain grace expired, abandoning queue",
			zap.Int("remaining", len(r.queue)))
		if r.cancel != nil {
			r.cancel()
		}
		<-r.done
	}
}

// HandleTrigger expands a trigger and enqueues the resulting calculators.
// Returns how many instances were accepted.
func (r *Reactor) HandleTrigger(ctx context.Context, trig model.Trigger) (int, error) {
	calcs, err := r.factory.ForTrigger(ctx, trig)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, c := range calcs {
		if r.TryEnqueue(c) {
			accepted++
		}
	}
	zap.L().Info("trigger expanded",
		zap.String("kind", string(trig.Kind)),
		zap.String("entity_id", trig.EntityID.String()),
		zap.Int("instances", len(calcs)),
		zap.Int("accepted", accepted))
	return accepted, nil
}

// TryEnqueue queues one calculator without blocking. Duplicates of a
// pending instance inside the dedup TTL are dropped, as is everything when
// the queue is full; a dropped instance is recovered by the next trigger
// or a scheduled recompute.
func (r *Reactor) TryEnqueue(calc metrics.Calculator) bool {
	inst := calc.Instance()
	ttl := time.Duration(r.cfg.DedupTTLSecs) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if at, ok := r.pending[inst]; ok && time.Since(at) < ttl {
		r.mu.Unlock()
		zap.L().Debug("deduplicated pending instance", zap.String("instance", inst.String()))
		return false
	}
	r.pending[inst] = time.Now()

	// Non-blocking send under the lock so Stop cannot close the queue
	// between the closed check and the send.
	select {
	case r.queue <- item{calc: calc}:
		r.mu.Unlock()
		return true
	default:
		delete(r.pending, inst)
		r.mu.Unlock()
		zap.L().Warn("queue full, dropping instance", zap.String("instance", inst.String()))
		return false
	}
}

// QueueDepth reports the number of queued instances, for the health
// surface.
func (r *Reactor) QueueDepth() int {
	return len(r.queue)
}

func (r *Reactor) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-r.queue:
			if !ok {
				return
			}
			r.process(ctx, it)
		}
	}
}

func (r *Reactor) process(ctx context.Context, it item) {
	timeout := time.Duration(r.cfg.CalculatorTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	err := it.calc.Run(runCtx, r.deps)
	cancel()

	inst := it.calc.Instance()
	if err == nil {
		r.finish(inst)
		return
	}

	var missing *metrics.MissingMetricError
	if errors.As(err, &missing) {
		if it.attempt < r.cfg.MaxTransientRetries {
			zap.L().Debug("requeueing for missing dependency metric",
				zap.String("instance", inst.String()),
				zap.String("missing", missing.Error()),
				zap.Int("attempt", it.attempt+1))
			r.requeue(item{calc: it.calc, attempt: it.attempt + 1})
			return
		}
		r.finish(inst)
		zap.L().Warn("giving up after transient retries",
			zap.String("instance", inst.String()),
			zap.String("missing", missing.Error()),
			zap.Int("attempts", it.attempt+1))
		return
	}

	r.finish(inst)

	var notAvailable *metrics.NotAvailableForDateError
	if errors.As(err, &notAvailable) {
		zap.L().Info("metric not available for date",
			zap.String("instance", inst.String()),
			zap.String("reason", notAvailable.Reason))
		return
	}

	var missingDep *metrics.MissingDependencyError
	if errors.As(err, &missingDep) {
		zap.L().Warn("dropping instance with missing dependency",
			zap.String("instance", inst.String()),
			zap.Error(err))
		return
	}

	zap.L().Error("calculator failed",
		zap.String("instance", inst.String()),
		zap.Error(err))
}

// requeue puts a retried item back without the dedup check; its pending
// entry stays live until the terminal outcome.
func (r *Reactor) requeue(it item) {
	inst := it.calc.Instance()

	r.mu.Lock()
	if r.closed {
		delete(r.pending, inst)
		r.mu.Unlock()
		return
	}
	select {
	case r.queue <- it:
		r.mu.Unlock()
	default:
		delete(r.pending, inst)
		r.mu.Unlock()
		zap.L().Warn("queue full, dropping retried instance",
			zap.String("instance", inst.String()))
	}
}

func (r *Reactor) finish(inst metrics.Instance) {
	r.mu.Lock()
	delete(r.pending, inst)
	r.mu.Unlock()
}
