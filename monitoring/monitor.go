package monitoring

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/buffer"
	"github.com/oscilla-xyz/go-oscilla/control"
	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/stateutil"
)

// ErrAnalysisTimeout reports that one spectral fit exceeded the configured
// deadline. The previous feedback stays in effect.
var ErrAnalysisTimeout = errors.New("monitoring: analysis timed out")

// Monitor ingests live phase observations and keeps the feedback loop
// running. All mutation is serialized behind one mutex; analysis runs on a
// snapshot copy of the buffer in a background worker.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	runID  string

	mu        sync.RWMutex
	net       *phase.Network
	buf       *buffer.Buffer
	est       *koopman.Estimator
	ctrl      *control.Controller
	breaker   *gobreaker.CircuitBreaker
	handlers  []AlertHandler
	alerts    []Alert
	stats     Stats
	last      *koopman.Result
	analyzing bool
	running   bool
	stopCh    chan struct{}
}

// NewMonitor wraps a network in a live monitor. The network must not be
// mutated by the caller afterward; all updates go through the monitor.
func NewMonitor(net *phase.Network, cfg Config) (*Monitor, error) {
	if net == nil || len(net.Nodes) == 0 {
		return nil, fmt.Errorf("monitoring: empty network: %w", oscilla.ErrInvalidConfig)
	}
	def := DefaultConfig()
	if cfg.BufferCapacity == 0 {
		cfg.BufferCapacity = def.BufferCapacity
	}
	if cfg.AnalysisInterval == 0 {
		cfg.AnalysisInterval = def.AnalysisInterval
	}
	if cfg.AnalysisInterval < 1 {
		return nil, fmt.Errorf("monitoring: analysis interval %d: %w",
			cfg.AnalysisInterval, oscilla.ErrInvalidConfig)
	}
	if cfg.AnalysisTimeout == 0 {
		cfg.AnalysisTimeout = def.AnalysisTimeout
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	if cfg.MaxAlertHistory == 0 {
		cfg.MaxAlertHistory = def.MaxAlertHistory
	}

	buf, err := buffer.New(cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}

	estOpts := koopman.DefaultOptions()
	if cfg.Estimator != nil {
		estOpts = *cfg.Estimator
	}
	ctrlOpts := control.DefaultOptions()
	if cfg.Controller != nil {
		ctrlOpts = *cfg.Controller
	}
	ctrlOpts.Logger = cfg.Logger
	ctrl, err := control.New(ctrlOpts)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "spectral-analysis",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
	})

	return &Monitor{
		cfg:     cfg,
		logger:  logger,
		runID:   uuid.NewString(),
		net:     net,
		buf:     buf,
		est:     koopman.NewEstimator(estOpts),
		ctrl:    ctrl,
		breaker: breaker,
		stats: Stats{
			AlertsBySeverity: make(map[AlertSeverity]int),
			AlertsByType:     make(map[AlertType]int),
		},
		stopCh: make(chan struct{}),
	}, nil
}

// RunID identifies this monitoring session.
func (m *Monitor) RunID() string { return m.runID }

// AddAlertHandler registers a function to be called on alerts.
func (m *Monitor) AddAlertHandler(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Observe records one set of phase readings at time t. Unknown ids are
// rejected; known ids update the network and the rotating-frame observable
// enters the buffer. Every AnalysisInterval-th observation triggers a
// background analysis unless one is already in flight.
func (m *Monitor) Observe(phases map[string]float64, t float64) error {
	m.mu.Lock()
	// Validate every id before touching phases so a rejected observation
	// leaves the network unchanged.
	for id := range phases {
		if _, ok := m.net.Nodes[id]; !ok {
			m.mu.Unlock()
			return fmt.Errorf("monitoring: unknown node %q: %w", id, oscilla.ErrInvalidConfig)
		}
	}
	for id, p := range phases {
		if err := m.net.SetPhase(id, p); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	if err := m.buf.AddLabeled(rotatingFrame(m.net), t); err != nil {
		m.mu.Unlock()
		return err
	}
	m.stats.Observations++

	trigger := m.stats.Observations%m.cfg.AnalysisInterval == 0 && !m.analyzing
	var snap *buffer.Buffer
	if trigger {
		m.analyzing = true
		snap = m.buf.Clone()
	}
	m.mu.Unlock()

	if trigger {
		go m.runAnalysis(snap)
	}
	return nil
}

// UpdateEdge adds or reweights a coupling edge while the run is live.
func (m *Monitor) UpdateEdge(src, dst string, weight, offset float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.net.SetWeight(src, dst, weight); err == nil {
		return nil
	}
	_, err := m.net.AddEdge(src, dst, weight, offset)
	return err
}

// runAnalysis fits the snapshot, publishes the result and adjusts feedback.
// Failures pass through the circuit breaker; while it is open, analyses are
// rejected immediately and the previous feedback stays in effect.
func (m *Monitor) runAnalysis(snap *buffer.Buffer) {
	defer func() {
		m.mu.Lock()
		m.analyzing = false
		m.mu.Unlock()
	}()

	shift := m.est.Options().Shift
	if shift < 1 {
		shift = 1
	}
	if snap.Len() <= shift+1 {
		m.mu.Lock()
		m.stats.SkippedWarmup++
		m.mu.Unlock()
		m.logger.Debug("analysis skipped during warm-up", "samples", snap.Len())
		return
	}

	out, err := m.breaker.Execute(func() (interface{}, error) {
		return m.analyzeWithTimeout(snap)
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		m.stats.BreakerRejected++
		m.triggerAlertLocked(Alert{
			Type:     AlertTypeBreakerOpen,
			Severity: SeverityCritical,
			Message:  "analysis circuit breaker open, holding previous feedback",
		})
	case errors.Is(err, ErrAnalysisTimeout):
		m.stats.TimedOut++
		m.triggerAlertLocked(Alert{
			Type:     AlertTypeAnalysisTimeout,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("analysis exceeded %v, holding previous feedback", m.cfg.AnalysisTimeout),
		})
	case errors.Is(err, oscilla.ErrInsufficientData):
		m.stats.SkippedWarmup++
	case errors.Is(err, oscilla.ErrDegenerate):
		m.stats.Degenerate++
		res, _ := out.(*koopman.Result)
		if res != nil {
			m.last = res
		}
		m.ctrl.Update(m.net, res) // a degenerate result holds the gain
		m.triggerAlertLocked(Alert{
			Type:     AlertTypeDegenerate,
			Severity: SeverityWarning,
			Message:  "spectral fit degenerate, holding previous feedback",
		})
	case err != nil:
		m.stats.Degenerate++
		m.logger.Warn("analysis failed", "err", err)
	default:
		res := out.(*koopman.Result)
		m.stats.Analyses++
		m.last = res
		m.ctrl.Update(m.net, res)
		if res.StabilityIndex < m.cfg.StabilityThreshold {
			sev := SeverityWarning
			if res.StabilityIndex < -0.5 {
				sev = SeverityCritical
			}
			m.triggerAlertLocked(Alert{
				AnalysisID: res.ID,
				Type:       AlertTypeUnstable,
				Severity:   sev,
				Message: fmt.Sprintf("stability index %.3f below threshold %.3f",
					res.StabilityIndex, m.cfg.StabilityThreshold),
			})
		}
	}
}

// analyzeWithTimeout runs one fit with the configured deadline. On timeout
// the fit goroutine finishes in the background and its result is discarded.
func (m *Monitor) analyzeWithTimeout(snap *buffer.Buffer) (*koopman.Result, error) {
	type outcome struct {
		res *koopman.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.est.Analyze(snap)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(m.cfg.AnalysisTimeout):
		return nil, ErrAnalysisTimeout
	}
}

// triggerAlertLocked records and dispatches an alert. Callers hold m.mu.
// Handlers run on their own goroutines so a slow consumer cannot stall
// ingestion.
func (m *Monitor) triggerAlertLocked(alert Alert) {
	if !m.cfg.EnableAlerts {
		return
	}
	alert.Timestamp = time.Now()
	alert.RunID = m.runID
	alert.SyncRatio = m.net.SyncRatio()
	if m.last != nil {
		alert.StabilityIndex = m.last.StabilityIndex
	} else {
		alert.StabilityIndex = math.NaN()
	}

	m.stats.TotalAlerts++
	m.stats.AlertsBySeverity[alert.Severity]++
	m.stats.AlertsByType[alert.Type]++
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > m.cfg.MaxAlertHistory {
		m.alerts = m.alerts[len(m.alerts)-m.cfg.MaxAlertHistory:]
	}

	m.logger.Warn("alert", "type", alert.Type, "severity", alert.Severity, "msg", alert.Message)
	for _, handler := range m.handlers {
		go handler(alert)
	}
}

// Start begins the periodic desynchronization check. Stop ends it.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.checkSync()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the periodic check.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		close(m.stopCh)
		m.running = false
	}
}

// checkSync raises a desynchronization alert when the ratio is below the
// configured threshold.
func (m *Monitor) checkSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.net.SyncRatio(); r < m.cfg.SyncThreshold {
		m.triggerAlertLocked(Alert{
			Type:     AlertTypeDesync,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("sync ratio %.3f below threshold %.3f", r, m.cfg.SyncThreshold),
		})
	}
}

// LastResult returns the most recently published analysis, nil before the
// first successful or degenerate fit.
func (m *Monitor) LastResult() *koopman.Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// StabilityIndex returns the latest published index, NaN before the first
// successful analysis.
func (m *Monitor) StabilityIndex() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return math.NaN()
	}
	return m.last.StabilityIndex
}

// SyncRatio reports the network's current synchronization ratio.
func (m *Monitor) SyncRatio() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.net.SyncRatio()
}

// Feedback returns the gain currently applied to the network.
func (m *Monitor) Feedback() float64 {
	return m.ctrl.Gain()
}

// Alerts returns a copy of the retained alert history.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// Statistics returns a snapshot of monitor activity.
func (m *Monitor) Statistics() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.RunID = m.runID
	stats.BreakerState = m.breaker.State().String()
	stats.AlertsBySeverity = make(map[AlertSeverity]int, len(m.stats.AlertsBySeverity))
	for k, v := range m.stats.AlertsBySeverity {
		stats.AlertsBySeverity[k] = v
	}
	stats.AlertsByType = make(map[AlertType]int, len(m.stats.AlertsByType))
	for k, v := range m.stats.AlertsByType {
		stats.AlertsByType[k] = v
	}
	return stats
}

// snapshotNetwork returns a deep copy for lock-free forecasting.
func (m *Monitor) snapshotNetwork() *phase.Network {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.net.Clone()
}

// rotatingFrame measures each phase against the circular mean, keeping the
// buffered observable continuous across the 2π seam.
func rotatingFrame(net *phase.Network) map[string]float64 {
	mean := net.MeanPhase()
	out := make(map[string]float64, len(net.Nodes))
	for id, node := range net.Nodes {
		out[id] = stateutil.CircularDiff(node.Phase, mean)
	}
	return out
}
