// Package results defines the structured output format for closed-loop runs
package results

import "time"

const SchemaVersion = "1.0.0"

// Report contains complete run output
type Report struct {
	Version  string    `json:"version"`
	Metadata Metadata  `json:"metadata"`
	Network  Network   `json:"network"`
	Run      Run       `json:"run"`
	Series   Series    `json:"series"`
	Spectral []Spectra `json:"spectral,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
	Alerts   []Alert   `json:"alerts,omitempty"`
}

// Metadata contains run execution information
type Metadata struct {
	ID          string    `json:"id"` // run uuid
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"` // success, error, timeout, unstable
	Error       string    `json:"error,omitempty"`
	ComputeTime float64   `json:"computeTime"` // seconds
}

// Network summarizes the oscillator graph
type Network struct {
	Name     string   `json:"name,omitempty"`
	Nodes    []string `json:"nodes"`
	Edges    int      `json:"edges"`
	Coupling float64  `json:"coupling"`
}

// Run contains loop parameters used
type Run struct {
	Dt               float64            `json:"dt"`
	Ticks            int                `json:"ticks"`
	AnalysisInterval int                `json:"analysisInterval,omitempty"`
	InitialPhases    map[string]float64 `json:"initialPhases"`
}

// Series contains the recorded trajectory
type Series struct {
	Summary    Summary    `json:"summary"`
	Timeseries Timeseries `json:"timeseries"`
}

// Summary provides quick overview
type Summary struct {
	Points         int     `json:"points"`
	FinalTime      float64 `json:"finalTime"`
	FinalSyncRatio float64 `json:"finalSyncRatio"`
	FinalOrder     float64 `json:"finalOrder"`
	FinalStability float64 `json:"finalStability"`
	FinalFeedback  float64 `json:"finalFeedback"`
}

// Timeseries contains multi-resolution time series data
type Timeseries struct {
	Time     TimeData              `json:"time"`
	Channels map[string]SeriesData `json:"channels"`
}

// Channel names used in Timeseries.Channels.
const (
	ChannelSync      = "syncRatio"
	ChannelOrder     = "orderParameter"
	ChannelStability = "stabilityIndex"
	ChannelFeedback  = "feedback"
)

// TimeData holds time vectors at different resolutions
type TimeData struct {
	Full        []float64 `json:"full,omitempty"`
	Downsampled []float64 `json:"downsampled"`
}

// SeriesData holds values at different resolutions
type SeriesData struct {
	Full        []float64 `json:"full,omitempty"`
	Downsampled []float64 `json:"downsampled"`
}

// Spectra summarizes one spectral analysis of the observation window
type Spectra struct {
	AnalysisID          string     `json:"analysisId"`
	Tick                int        `json:"tick"`
	Time                float64    `json:"time"`
	StabilityIndex      float64    `json:"stabilityIndex"`
	EffectiveRank       int        `json:"effectiveRank"`
	ReconstructionError float64    `json:"reconstructionError"`
	Degenerate          bool       `json:"degenerate"`
	Eigenvalues         []Complex  `json:"eigenvalues"`
	Modes               []ModeInfo `json:"modes,omitempty"`
}

// Complex is a JSON-friendly complex number
type Complex struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

// ModeInfo contains per-mode metrics
type ModeInfo struct {
	Frequency    float64 `json:"frequency"`
	GrowthRate   float64 `json:"growthRate"`
	DampingRatio float64 `json:"dampingRatio"`
	Amplitude    float64 `json:"amplitude"`
	Stable       bool    `json:"stable"`
	Dominant     bool    `json:"dominant"`
}

// Analysis contains automatically computed insights
type Analysis struct {
	Peaks       []Peak          `json:"peaks,omitempty"`
	Troughs     []Peak          `json:"troughs,omitempty"`
	SteadyState *SteadyState    `json:"steadyState,omitempty"`
	Lock        *Lock           `json:"lock,omitempty"`
	Statistics  map[string]Stat `json:"statistics,omitempty"`
}

// Peak represents a local maximum or minimum of a channel
type Peak struct {
	Channel    string  `json:"channel"`
	Time       float64 `json:"time"`
	Value      float64 `json:"value"`
	Prominence float64 `json:"prominence,omitempty"`
}

// SteadyState contains equilibrium analysis
type SteadyState struct {
	Reached   bool               `json:"reached"`
	Time      float64            `json:"time,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
	Tolerance float64            `json:"tolerance"`
}

// Lock records when the sync ratio first held above a threshold
type Lock struct {
	Locked    bool    `json:"locked"`
	Time      float64 `json:"time,omitempty"`
	Threshold float64 `json:"threshold"`
}

// Stat contains statistical summary
type Stat struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

// Alert records a notable occurrence during the run
type Alert struct {
	Time     float64 `json:"time"`
	Type     string  `json:"type"` // degenerate_analysis, unstable_modes, etc.
	Severity string  `json:"severity"`
	Message  string  `json:"message"`
}
