package results

import (
	"fmt"
	"math"
	"sort"
)

// SweepReport contains results from a parameter sweep
type SweepReport struct {
	Version     string            `json:"version"`
	BaseNetwork string            `json:"baseNetwork"`
	Objective   string            `json:"objective"`
	Parameters  []ParameterSweep  `json:"parameters"`
	Variants    []VariantResult   `json:"variants"`
	Best        *VariantResult    `json:"best"`
	Worst       *VariantResult    `json:"worst"`
	Summary     SweepSummary      `json:"summary"`
	Recommended map[string]string `json:"recommended,omitempty"`
}

// ParameterSweep describes a swept parameter
type ParameterSweep struct {
	Name   string    `json:"name"`
	Type   string    `json:"type"` // "coupling", "weight" or "freq"
	Values []float64 `json:"values"`
	Min    float64   `json:"min"`
	Max    float64   `json:"max"`
}

// VariantResult contains results for one parameter combination
type VariantResult struct {
	ID         int                `json:"id"`
	Parameters map[string]float64 `json:"parameters"`
	Metrics    Metrics            `json:"metrics"`
	Score      float64            `json:"score"`
	Rank       int                `json:"rank"`
	ReportFile string             `json:"reportFile,omitempty"`
}

// Metrics contains key metrics extracted from one run
type Metrics struct {
	FinalSyncRatio float64 `json:"finalSyncRatio"`
	FinalOrder     float64 `json:"finalOrder"`
	FinalStability float64 `json:"finalStability"`
	MeanSyncRatio  float64 `json:"meanSyncRatio"`

	Locked   bool    `json:"locked"`
	LockTime float64 `json:"lockTime,omitempty"`

	SteadyReached bool    `json:"steadyReached"`
	SteadyTime    float64 `json:"steadyTime,omitempty"`

	ComputeTime float64 `json:"computeTime"`
}

// SweepSummary provides overview of sweep
type SweepSummary struct {
	TotalVariants int     `json:"totalVariants"`
	SuccessCount  int     `json:"successCount"`
	FailureCount  int     `json:"failureCount"`
	BestScore     float64 `json:"bestScore"`
	WorstScore    float64 `json:"worstScore"`
	ScoreRange    float64 `json:"scoreRange"`
}

// ObjectiveFunc evaluates how good a report is (lower is better)
type ObjectiveFunc func(*Report) (float64, error)

// Objectives maps objective names to evaluation functions
var Objectives = map[string]ObjectiveFunc{
	"maximize_sync": func(r *Report) (float64, error) {
		return -r.Series.Summary.FinalSyncRatio, nil
	},

	"maximize_stability": func(r *Report) (float64, error) {
		idx := r.Series.Summary.FinalStability
		if math.IsNaN(idx) {
			return 0, fmt.Errorf("no stability index recorded")
		}
		return -idx, nil
	},

	"minimize_time_to_lock": func(r *Report) (float64, error) {
		if r.Analysis == nil || r.Analysis.Lock == nil || !r.Analysis.Lock.Locked {
			return math.MaxFloat64, nil
		}
		return r.Analysis.Lock.Time, nil
	},

	"minimize_time_to_steady": func(r *Report) (float64, error) {
		if r.Analysis == nil || r.Analysis.SteadyState == nil {
			return math.MaxFloat64, nil
		}
		if !r.Analysis.SteadyState.Reached {
			return math.MaxFloat64, nil
		}
		return r.Analysis.SteadyState.Time, nil
	},
}

// ExtractMetrics extracts key metrics from a run report
func ExtractMetrics(r *Report) Metrics {
	m := Metrics{
		FinalSyncRatio: r.Series.Summary.FinalSyncRatio,
		FinalOrder:     r.Series.Summary.FinalOrder,
		FinalStability: r.Series.Summary.FinalStability,
		ComputeTime:    r.Metadata.ComputeTime,
	}

	if r.Analysis != nil {
		if s, ok := r.Analysis.Statistics[ChannelSync]; ok {
			m.MeanSyncRatio = s.Mean
		}

		if r.Analysis.Lock != nil {
			m.Locked = r.Analysis.Lock.Locked
			if m.Locked {
				m.LockTime = r.Analysis.Lock.Time
			}
		}

		if r.Analysis.SteadyState != nil {
			m.SteadyReached = r.Analysis.SteadyState.Reached
			if m.SteadyReached {
				m.SteadyTime = r.Analysis.SteadyState.Time
			}
		}
	}

	return m
}

// RankVariants sorts variants by score and assigns ranks
func RankVariants(variants []VariantResult) {
	// Lower score is better.
	sort.Slice(variants, func(i, j int) bool {
		return variants[i].Score < variants[j].Score
	})

	for i := range variants {
		variants[i].Rank = i + 1
	}
}

// GenerateRecommendations creates human-readable recommendations
func GenerateRecommendations(sweep *SweepReport) map[string]string {
	rec := make(map[string]string)

	if sweep.Best == nil {
		return rec
	}

	if sweep.Worst != nil {
		for param, bestVal := range sweep.Best.Parameters {
			worstVal := sweep.Worst.Parameters[param]
			if bestVal != worstVal {
				diff := bestVal - worstVal
				pct := (diff / worstVal) * 100

				var direction string
				if bestVal > worstVal {
					direction = "increase"
				} else {
					direction = "decrease"
				}

				rec[param] = fmt.Sprintf("%s by %.1f%% (%.6f → %.6f)",
					direction, math.Abs(pct), worstVal, bestVal)
			}
		}

		bestSync := sweep.Best.Metrics.FinalSyncRatio
		worstSync := sweep.Worst.Metrics.FinalSyncRatio
		if worstSync > 0 {
			improvement := ((bestSync - worstSync) / worstSync) * 100
			rec["improvement"] = fmt.Sprintf("%.1f%% gain in sync ratio (%.3f → %.3f)",
				improvement, worstSync, bestSync)
		}
	}

	return rec
}
