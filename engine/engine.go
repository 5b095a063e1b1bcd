// Package engine runs the closed stability loop: advance the network,
// record observables, periodically re-estimate the spectrum and feed the
// resulting gain back into the coupling. The loop is strictly sequential;
// use monitoring.Monitor when ingestion and analysis must overlap.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/buffer"
	"github.com/oscilla-xyz/go-oscilla/control"
	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// Status is the loop state visible to conditions and callers.
type Status struct {
	Tick           int
	Time           float64
	SyncRatio      float64
	OrderParameter float64

	// StabilityIndex is NaN until the first successful analysis.
	StabilityIndex float64

	Feedback float64
}

// Condition is a predicate over the loop status.
// It should return true when a specific condition is met.
type Condition func(s Status) bool

// Action is triggered when a condition is met. It receives the status at
// the moment the condition fired.
type Action func(s Status) error

// Rule pairs a condition with an action to be triggered.
type Rule struct {
	Name      string
	Condition Condition
	Action    Action
	Enabled   bool
}

// Options configure the loop.
type Options struct {
	// Dt is the integration step per tick.
	Dt float64

	// AnalysisInterval runs the estimator every N ticks.
	AnalysisInterval int

	// BufferCapacity bounds the observation window.
	BufferCapacity int

	// Estimator overrides the spectral fit settings.
	Estimator *koopman.Options

	// Controller overrides the feedback gain range.
	Controller *control.Options

	Logger *slog.Logger
}

// DefaultOptions analyze four times per buffer fill at dt=0.1.
func DefaultOptions() Options {
	return Options{
		Dt:               0.1,
		AnalysisInterval: 25,
		BufferCapacity:   100,
	}
}

// Engine owns the network, the observation buffer, the estimator and the
// controller, and advances them in a strict sequence.
type Engine struct {
	net    *phase.Network
	buf    *buffer.Buffer
	est    *koopman.Estimator
	ctrl   *control.Controller
	opts   Options
	logger *slog.Logger

	tick    int
	now     float64
	rules   []*Rule
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
}

// New builds the loop around an existing network.
func New(net *phase.Network, opts Options) (*Engine, error) {
	if net == nil || len(net.Nodes) == 0 {
		return nil, fmt.Errorf("engine: empty network: %w", oscilla.ErrInvalidConfig)
	}
	if opts.Dt == 0 {
		opts.Dt = DefaultOptions().Dt
	}
	if opts.Dt <= 0 || math.IsNaN(opts.Dt) {
		return nil, fmt.Errorf("engine: step %g: %w", opts.Dt, oscilla.ErrInvalidConfig)
	}
	if opts.AnalysisInterval == 0 {
		opts.AnalysisInterval = DefaultOptions().AnalysisInterval
	}
	if opts.AnalysisInterval < 1 {
		return nil, fmt.Errorf("engine: analysis interval %d: %w",
			opts.AnalysisInterval, oscilla.ErrInvalidConfig)
	}
	if opts.BufferCapacity == 0 {
		opts.BufferCapacity = DefaultOptions().BufferCapacity
	}
	buf, err := buffer.New(opts.BufferCapacity)
	if err != nil {
		return nil, err
	}

	estOpts := koopman.DefaultOptions()
	if opts.Estimator != nil {
		estOpts = *opts.Estimator
	}
	ctrlOpts := control.DefaultOptions()
	if opts.Controller != nil {
		ctrlOpts = *opts.Controller
	}
	ctrlOpts.Logger = opts.Logger
	ctrl, err := control.New(ctrlOpts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		net:    net,
		buf:    buf,
		est:    koopman.NewEstimator(estOpts),
		ctrl:   ctrl,
		opts:   opts,
		logger: logger,
		rules:  make([]*Rule, 0),
	}, nil
}

// AddRule adds a condition-action rule, checked after every tick.
func (e *Engine) AddRule(name string, condition Condition, action Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, &Rule{
		Name:      name,
		Condition: condition,
		Action:    action,
		Enabled:   true,
	})
}

// Tick advances the loop once: step the network, record the rotating-frame
// observable, and on analysis ticks refresh the spectrum and the feedback
// gain. Warm-up analyses that lack data are skipped silently.
func (e *Engine) Tick() error {
	e.mu.Lock()
	e.net.Step(e.opts.Dt)
	e.tick++
	e.now += e.opts.Dt
	if err := e.buf.AddLabeled(rotatingFrame(e.net), e.now); err != nil {
		e.mu.Unlock()
		return err
	}

	if e.tick%e.opts.AnalysisInterval == 0 {
		res, err := e.est.Analyze(e.buf)
		switch {
		case errors.Is(err, oscilla.ErrInsufficientData):
			e.logger.Debug("analysis skipped during warm-up", "tick", e.tick, "samples", e.buf.Len())
		case err != nil && !errors.Is(err, oscilla.ErrDegenerate):
			e.mu.Unlock()
			return err
		default:
			e.ctrl.Update(e.net, res)
		}
	}
	status := e.statusLocked()
	e.mu.Unlock()

	e.checkRules(status)
	return nil
}

// RunTicks advances the loop n times, stopping at the first error.
func (e *Engine) RunTicks(n int) error {
	for i := 0; i < n; i++ {
		if err := e.Tick(); err != nil {
			return err
		}
	}
	return nil
}

// Status returns the current loop status.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	return Status{
		Tick:           e.tick,
		Time:           e.now,
		SyncRatio:      e.net.SyncRatio(),
		OrderParameter: e.net.OrderParameter(),
		StabilityIndex: e.est.StabilityIndex(),
		Feedback:       e.ctrl.Gain(),
	}
}

// Network returns the controlled network.
func (e *Engine) Network() *phase.Network { return e.net }

// LastResult returns the most recent analysis, nil before the first one.
func (e *Engine) LastResult() *koopman.Result { return e.est.LastResult() }

// Controller returns the feedback controller.
func (e *Engine) Controller() *control.Controller { return e.ctrl }

// checkRules evaluates all rules against a status snapshot. Rules run
// without the engine lock so actions may call back into the engine.
func (e *Engine) checkRules(status Status) {
	e.mu.RLock()
	rulesToCheck := make([]*Rule, len(e.rules))
	copy(rulesToCheck, e.rules)
	e.mu.RUnlock()

	for _, rule := range rulesToCheck {
		if rule.Enabled && rule.Condition(status) {
			if err := rule.Action(status); err != nil {
				e.logger.Warn("rule action failed", "rule", rule.Name, "err", err)
			}
		}
	}
}

// Run starts the continuous loop with the given wall-clock interval per
// tick. The loop runs in a background goroutine until ctx is cancelled or
// Stop is called.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	childCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-childCtx.Done():
				e.mu.Lock()
				e.running = false
				e.mu.Unlock()
				return
			case <-ticker.C:
				if err := e.Tick(); err != nil {
					e.logger.Warn("tick failed", "err", err)
				}
			}
		}
	}()
}

// Stop halts the continuous loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.running = false
}

// IsRunning returns whether the continuous loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// rotatingFrame measures each phase against the mean phase. The offsets are
// continuous across the 2π seam and settle to constants under lock, which
// keeps the spectral fit off the wrap discontinuity.
func rotatingFrame(net *phase.Network) map[string]float64 {
	mean := net.MeanPhase()
	out := make(map[string]float64, len(net.Nodes))
	for id, node := range net.Nodes {
		out[id] = stateutil.CircularDiff(node.Phase, mean)
	}
	return out
}

// Example condition functions

// StabilityBelow triggers when a computed stability index drops below the
// threshold. It never fires before the first analysis.
func StabilityBelow(threshold float64) Condition {
	return func(s Status) bool {
		return !math.IsNaN(s.StabilityIndex) && s.StabilityIndex < threshold
	}
}

// SyncAbove triggers when the synchronization ratio exceeds the threshold.
func SyncAbove(threshold float64) Condition {
	return func(s Status) bool {
		return s.SyncRatio > threshold
	}
}

// SyncBelow triggers when the synchronization ratio falls below the threshold.
func SyncBelow(threshold float64) Condition {
	return func(s Status) bool {
		return s.SyncRatio < threshold
	}
}

// AfterTick triggers from the given tick onward.
func AfterTick(n int) Condition {
	return func(s Status) bool {
		return s.Tick >= n
	}
}

// AllOf triggers when all given conditions are true.
func AllOf(conditions ...Condition) Condition {
	return func(s Status) bool {
		for _, c := range conditions {
			if !c(s) {
				return false
			}
		}
		return true
	}
}

// AnyOf triggers when any given condition is true.
func AnyOf(conditions ...Condition) Condition {
	return func(s Status) bool {
		for _, c := range conditions {
			if c(s) {
				return true
			}
		}
		return false
	}
}
