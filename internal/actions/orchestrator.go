package actions

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultActionTimeout bounds a single connector call.
const DefaultActionTimeout = 30 * time.Second

// OrchestratorConfig configures an [Orchestrator].
type OrchestratorConfig struct {
	// Bindings maps action names to connectors.
	Bindings []Binding

	// Workers is the number of actions executed concurrently
	// (default: 1, preserving promise order).
	Workers int

	// ActionTimeout bounds each connector call (default: 30s).
	ActionTimeout time.Duration

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

type promise struct {
	id     string
	action Action
}

// Orchestrator queues promised actions and executes them on worker
// goroutines while Start runs. Promise and FlushPromises are safe to
// call from any goroutine, before or during Start.
type Orchestrator struct {
	bindings map[string]Binding
	order    []string
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	queue    []promise
	running  int
	finished []Result
}

// NewOrchestrator creates an action orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}

	o := &Orchestrator{
		bindings: make(map[string]Binding, len(cfg.Bindings)),
		workers:  cfg.Workers,
		timeout:  cfg.ActionTimeout,
		logger:   cfg.Logger.With("component", "actions"),
		wake:     make(chan struct{}, 1),
	}
	for _, b := range cfg.Bindings {
		if _, dup := o.bindings[b.Name]; !dup {
			o.order = append(o.order, b.Name)
		}
		o.bindings[b.Name] = b
	}
	return o
}

// Catalog returns the bindings in configuration order.
func (o *Orchestrator) Catalog() []Binding {
	out := make([]Binding, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.bindings[name])
	}
	return out
}

// Promise queues actions for execution and returns immediately.
func (o *Orchestrator) Promise(acts []Action) {
	if len(acts) == 0 {
		return
	}
	o.mu.Lock()
	for _, a := range acts {
		o.queue = append(o.queue, promise{id: uuid.NewString(), action: a})
	}
	o.mu.Unlock()

	o.signal()
}

// FlushPromises returns the results finished since the previous flush
// and the number of promises still queued or executing.
func (o *Orchestrator) FlushPromises() ([]Result, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	done := o.finished
	o.finished = nil
	return done, len(o.queue) + o.running
}

// Start runs the workers until ctx is cancelled. It returns nil on
// cancellation. Promises still queued at that point stay queued.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.logger.Debug("action workers starting", "workers", o.workers, "actions", len(o.bindings))

	var g errgroup.Group
	for range o.workers {
		g.Go(func() error {
			o.work(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) work(ctx context.Context) {
	for {
		p, ok := o.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.wake:
				continue
			}
		}

		res := o.execute(ctx, p)

		o.mu.Lock()
		o.running--
		o.finished = append(o.finished, res)
		more := len(o.queue) > 0
		o.mu.Unlock()

		if more {
			o.signal()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (o *Orchestrator) next() (promise, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return promise{}, false
	}
	p := o.queue[0]
	o.queue = slices.Delete(o.queue, 0, 1)
	o.running++
	if len(o.queue) > 0 {
		o.signal()
	}
	return p, true
}

func (o *Orchestrator) execute(ctx context.Context, p promise) Result {
	start := time.Now()
	res := Result{ID: p.id, Action: p.action}

	b, ok := o.bindings[p.action.Type]
	if !ok {
		res.Err = fmt.Errorf("%w %q", ErrUnknownAction, p.action.Type)
	} else {
		actx, cancel := context.WithTimeout(ctx, o.timeout)
		res.Err = b.Connector.Connect(actx, p.action)
		cancel()
	}

	res.Finished = time.Now()
	res.Duration = res.Finished.Sub(start)

	if res.Err != nil {
		o.logger.Warn("action failed",
			"promise_id", p.id,
			"action", p.action.Type,
			"error", res.Err,
		)
	} else {
		o.logger.Debug("action done",
			"promise_id", p.id,
			"action", p.action.Type,
			"duration", res.Duration.String(),
		)
	}
	return res
}
