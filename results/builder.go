package results

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/oscilla-xyz/go-oscilla/koopman"
	"github.com/oscilla-xyz/go-oscilla/phase"
)

// Sample is one recorded point of the closed-loop trajectory.
type Sample struct {
	Tick           int
	Time           float64
	SyncRatio      float64
	OrderParameter float64
	StabilityIndex float64
	Feedback       float64
}

// Builder helps construct a Report from a running loop
type Builder struct {
	report  Report
	samples []Sample
}

// NewBuilder creates a new report builder
func NewBuilder() *Builder {
	return &Builder{
		report: Report{
			Version: SchemaVersion,
			Metadata: Metadata{
				ID:        uuid.NewString(),
				Timestamp: time.Now(),
				Status:    "success",
			},
		},
	}
}

// RunID returns the report's run identifier
func (b *Builder) RunID() string {
	return b.report.Metadata.ID
}

// WithNetwork sets network information
func (b *Builder) WithNetwork(net *phase.Network, name string) *Builder {
	b.report.Network = Network{
		Name:     name,
		Nodes:    net.NodeIDs(),
		Edges:    len(net.Edges),
		Coupling: net.Coupling(),
	}
	b.report.Run.InitialPhases = net.Snapshot()
	return b
}

// WithRun sets loop parameters
func (b *Builder) WithRun(dt float64, analysisInterval int) *Builder {
	b.report.Run.Dt = dt
	b.report.Run.AnalysisInterval = analysisInterval
	return b
}

// AddSample records one trajectory point. Samples must arrive in tick order.
func (b *Builder) AddSample(s Sample) *Builder {
	b.samples = append(b.samples, s)
	return b
}

// AddAnalysis records one spectral analysis of the observation window
func (b *Builder) AddAnalysis(res *koopman.Result, tick int, t float64) *Builder {
	if res == nil {
		return b
	}
	b.report.Spectral = append(b.report.Spectral, NewSpectra(res, tick, t))
	return b
}

// NewSpectra converts a spectral fit into its report form
func NewSpectra(res *koopman.Result, tick int, t float64) Spectra {
	sp := Spectra{
		AnalysisID:          res.ID,
		Tick:                tick,
		Time:                t,
		StabilityIndex:      res.StabilityIndex,
		EffectiveRank:       res.EffectiveRank,
		ReconstructionError: res.ReconstructionError,
		Degenerate:          res.Degenerate,
	}
	for _, m := range res.Modes {
		sp.Eigenvalues = append(sp.Eigenvalues, Complex{
			Re: real(m.Eigenvalue),
			Im: imag(m.Eigenvalue),
		})
		sp.Modes = append(sp.Modes, ModeInfo{
			Frequency:    m.Frequency,
			GrowthRate:   m.GrowthRate,
			DampingRatio: m.DampingRatio,
			Amplitude:    m.Amplitude,
			Stable:       m.Stable,
			Dominant:     m.Dominant,
		})
	}
	return sp
}

// AddAlert records an alert raised during the run
func (b *Builder) AddAlert(t float64, alertType, severity, message string) *Builder {
	b.report.Alerts = append(b.report.Alerts, Alert{
		Time:     t,
		Type:     alertType,
		Severity: severity,
		Message:  message,
	})
	return b
}

// WithError sets error status
func (b *Builder) WithError(err error) *Builder {
	b.report.Metadata.Status = "error"
	b.report.Metadata.Error = err.Error()
	return b
}

// WithStatus overrides the run status (timeout, unstable)
func (b *Builder) WithStatus(status string) *Builder {
	b.report.Metadata.Status = status
	return b
}

// Build assembles the report from the recorded samples. downsampleTarget
// bounds the downsampled series length; the full series is always kept.
func (b *Builder) Build(computeTime float64, downsampleTarget int) *Report {
	b.report.Metadata.ComputeTime = computeTime
	b.report.Run.Ticks = len(b.samples)

	n := len(b.samples)
	timeFull := make([]float64, n)
	channels := map[string][]float64{
		ChannelSync:      make([]float64, n),
		ChannelOrder:     make([]float64, n),
		ChannelStability: make([]float64, n),
		ChannelFeedback:  make([]float64, n),
	}
	for i, s := range b.samples {
		timeFull[i] = s.Time
		channels[ChannelSync][i] = s.SyncRatio
		channels[ChannelOrder][i] = s.OrderParameter
		channels[ChannelStability][i] = s.StabilityIndex
		channels[ChannelFeedback][i] = s.Feedback
	}

	timeDown := downsample(timeFull, downsampleTarget)
	b.report.Series.Timeseries = Timeseries{
		Time: TimeData{
			Full:        timeFull,
			Downsampled: timeDown,
		},
		Channels: make(map[string]SeriesData, len(channels)),
	}
	for name, data := range channels {
		b.report.Series.Timeseries.Channels[name] = SeriesData{
			Full:        data,
			Downsampled: downsampleAligned(timeFull, data, timeDown),
		}
	}

	if n > 0 {
		last := b.samples[n-1]
		b.report.Series.Summary = Summary{
			Points:         n,
			FinalTime:      last.Time,
			FinalSyncRatio: last.SyncRatio,
			FinalOrder:     last.OrderParameter,
			FinalStability: last.StabilityIndex,
			FinalFeedback:  last.Feedback,
		}
	}

	return &b.report
}

// downsample reduces data to approximately targetPoints
func downsample(data []float64, targetPoints int) []float64 {
	if targetPoints < 2 || len(data) <= targetPoints {
		return data
	}

	result := make([]float64, targetPoints)
	result[0] = data[0]
	result[targetPoints-1] = data[len(data)-1]

	step := float64(len(data)-1) / float64(targetPoints-1)
	for i := 1; i < targetPoints-1; i++ {
		idx := int(math.Round(float64(i) * step))
		result[i] = data[idx]
	}

	return result
}

// downsampleAligned downsamples values to match the downsampled time points
func downsampleAligned(timeFull, data, timeDownsampled []float64) []float64 {
	result := make([]float64, len(timeDownsampled))

	for i, targetTime := range timeDownsampled {
		result[i] = data[findClosestIndex(timeFull, targetTime)]
	}

	return result
}

// findClosestIndex finds the index of the value closest to target
func findClosestIndex(data []float64, target float64) int {
	if len(data) == 0 {
		return 0
	}

	minDist := math.Abs(data[0] - target)
	minIdx := 0

	for i := 1; i < len(data); i++ {
		dist := math.Abs(data[i] - target)
		if dist < minDist {
			minDist = dist
			minIdx = i
		}
	}

	return minIdx
}
