// Package monitoring runs the stability loop against live phase updates.
// Producers push per-tick phase observations through a single mutex; spectral
// analysis runs on a snapshot copy of the buffer in a background worker with
// a bounded timeout, and repeated analysis failures trip a circuit breaker
// that holds the previous feedback until it half-opens.
package monitoring

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/oscilla-xyz/go-oscilla/control"
	"github.com/oscilla-xyz/go-oscilla/koopman"
)

// Alert flags a condition the loop cannot fix on its own.
type Alert struct {
	Timestamp  time.Time
	RunID      string
	AnalysisID string // empty for alerts not tied to one analysis
	Type       AlertType
	Severity   AlertSeverity
	Message    string

	// StabilityIndex and SyncRatio are the readings at trigger time.
	// StabilityIndex is NaN when no analysis has succeeded yet.
	StabilityIndex float64
	SyncRatio      float64
}

// AlertType categorizes alerts.
type AlertType string

const (
	AlertTypeDegenerate      AlertType = "degenerate_analysis"
	AlertTypeUnstable        AlertType = "unstable_modes"
	AlertTypeDesync          AlertType = "desynchronized"
	AlertTypeAnalysisTimeout AlertType = "analysis_timeout"
	AlertTypeBreakerOpen     AlertType = "breaker_open"
)

// AlertSeverity indicates alert importance.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertHandler is called on its own goroutine when an alert triggers.
type AlertHandler func(alert Alert)

// Config configures the live monitor.
type Config struct {
	// BufferCapacity bounds the observation window.
	BufferCapacity int

	// AnalysisInterval triggers an analysis every N recorded observations.
	AnalysisInterval int

	// AnalysisTimeout bounds one spectral fit. On timeout the previous
	// feedback is retained and the run continues.
	AnalysisTimeout time.Duration

	// StabilityThreshold raises an unstable-modes alert when a successful
	// analysis reports an index below it.
	StabilityThreshold float64

	// SyncThreshold raises a desynchronized alert from the periodic check
	// when the sync ratio falls below it.
	SyncThreshold float64

	// BreakerFailures is how many consecutive analysis failures open the
	// circuit breaker. BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	// MaxAlertHistory bounds the retained alert slice.
	MaxAlertHistory int

	EnableAlerts bool

	// Estimator and Controller override the analysis and feedback
	// settings.
	Estimator  *koopman.Options
	Controller *control.Options

	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for a live run.
func DefaultConfig() Config {
	return Config{
		BufferCapacity:     100,
		AnalysisInterval:   25,
		AnalysisTimeout:    2 * time.Second,
		StabilityThreshold: -0.2,
		SyncThreshold:      0.5,
		BreakerFailures:    3,
		BreakerCooldown:    30 * time.Second,
		MaxAlertHistory:    256,
		EnableAlerts:       true,
	}
}

// Stats tracks monitor activity.
type Stats struct {
	RunID            string
	Observations     int
	Analyses         int
	Degenerate       int
	SkippedWarmup    int
	TimedOut         int
	BreakerRejected  int
	TotalAlerts      int
	AlertsBySeverity map[AlertSeverity]int
	AlertsByType     map[AlertType]int
	BreakerState     string
}

// String returns a human-readable representation of an alert.
func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Type, a.Message)
}
