package results

import (
	"math"
	"sort"
)

// DefaultLockThreshold is the sync-ratio level that counts as phase lock.
const DefaultLockThreshold = 0.95

// Analyzer computes insights from a run report
type Analyzer struct {
	report *Report
}

// NewAnalyzer creates an analyzer for a report
func NewAnalyzer(r *Report) *Analyzer {
	return &Analyzer{report: r}
}

// ComputeAll runs all analysis functions
func (a *Analyzer) ComputeAll() *Analysis {
	analysis := &Analysis{
		Statistics: make(map[string]Stat),
	}

	time := a.report.Series.Timeseries.Time.Downsampled

	for name, channel := range a.report.Series.Timeseries.Channels {
		data := channel.Downsampled

		peaks := a.findPeaks(time, data)
		for _, p := range peaks {
			p.Channel = name
			analysis.Peaks = append(analysis.Peaks, p)
		}

		troughs := a.findTroughs(time, data)
		for _, t := range troughs {
			t.Channel = name
			analysis.Troughs = append(analysis.Troughs, t)
		}

		analysis.Statistics[name] = a.computeStats(data)
	}

	analysis.SteadyState = a.detectSteadyState(0.01, 10.0)
	analysis.Lock = a.detectLock(DefaultLockThreshold)

	return analysis
}

// findPeaks detects local maxima
func (a *Analyzer) findPeaks(time, data []float64) []Peak {
	if len(data) < 3 {
		return nil
	}

	var peaks []Peak

	for i := 1; i < len(data)-1; i++ {
		if data[i] > data[i-1] && data[i] > data[i+1] {
			// Prominence is the height above the surrounding minima.
			leftMin := data[i-1]
			rightMin := data[i+1]
			for j := i - 2; j >= 0; j-- {
				if data[j] < leftMin {
					leftMin = data[j]
				}
			}
			for j := i + 2; j < len(data); j++ {
				if data[j] < rightMin {
					rightMin = data[j]
				}
			}
			prominence := data[i] - math.Max(leftMin, rightMin)

			peaks = append(peaks, Peak{
				Time:       time[i],
				Value:      data[i],
				Prominence: prominence,
			})
		}
	}

	return peaks
}

// findTroughs detects local minima
func (a *Analyzer) findTroughs(time, data []float64) []Peak {
	if len(data) < 3 {
		return nil
	}

	var troughs []Peak

	for i := 1; i < len(data)-1; i++ {
		if data[i] < data[i-1] && data[i] < data[i+1] {
			troughs = append(troughs, Peak{
				Time:  time[i],
				Value: data[i],
			})
		}
	}

	return troughs
}

// detectSteadyState checks whether every channel settled
func (a *Analyzer) detectSteadyState(relTol, windowDuration float64) *SteadyState {
	time := a.report.Series.Timeseries.Time.Downsampled
	if len(time) < 2 {
		return &SteadyState{
			Reached:   false,
			Tolerance: relTol,
		}
	}

	dt := time[1] - time[0]
	windowSize := int(windowDuration / dt)
	if windowSize < 2 {
		windowSize = 2
	}
	if windowSize > len(time)/2 {
		windowSize = len(time) / 2
	}

	allSteady := true
	steadyTime := time[len(time)-1]
	values := make(map[string]float64)

	for name, channel := range a.report.Series.Timeseries.Channels {
		data := channel.Downsampled
		values[name] = data[len(data)-1]

		varSteady := false
		for i := windowSize; i < len(data); i++ {
			maxChange := 0.0

			for j := i - windowSize; j < i; j++ {
				if data[j] != 0 {
					change := math.Abs((data[j+1] - data[j]) / data[j])
					maxChange = math.Max(maxChange, change)
				}
			}

			if maxChange < relTol {
				varSteady = true
				if time[i] < steadyTime {
					steadyTime = time[i]
				}
				break
			}
		}

		// The relative test is blind near zero; fall back to absolute change.
		if !varSteady && len(data) > windowSize {
			maxAbsChange := 0.0
			for j := len(data) - windowSize; j < len(data)-1; j++ {
				change := math.Abs(data[j+1] - data[j])
				maxAbsChange = math.Max(maxAbsChange, change)
			}
			if maxAbsChange < 1e-6 {
				varSteady = true
			}
		}

		if !varSteady {
			allSteady = false
		}
	}

	ss := &SteadyState{
		Reached:   allSteady,
		Tolerance: relTol,
	}

	if allSteady {
		ss.Time = steadyTime
		ss.Values = values
	}

	return ss
}

// detectLock finds the earliest time the sync ratio rose above threshold
// and stayed there for the rest of the run
func (a *Analyzer) detectLock(threshold float64) *Lock {
	channel, ok := a.report.Series.Timeseries.Channels[ChannelSync]
	if !ok {
		return &Lock{Locked: false, Threshold: threshold}
	}

	time := a.report.Series.Timeseries.Time.Downsampled
	data := channel.Downsampled

	lockIdx := -1
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] < threshold {
			break
		}
		lockIdx = i
	}

	lock := &Lock{Threshold: threshold}
	if lockIdx >= 0 && lockIdx < len(time) {
		lock.Locked = true
		lock.Time = time[lockIdx]
	}
	return lock
}

// computeStats calculates statistical summary. Non-finite values are
// skipped; the stability channel is NaN until the first analysis.
func (a *Analyzer) computeStats(raw []float64) Stat {
	data := make([]float64, 0, len(raw))
	for _, v := range raw {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return Stat{}
	}

	min := data[0]
	max := data[0]
	sum := 0.0

	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	mean := sum / float64(len(data))

	sumSq := 0.0
	for _, v := range data {
		diff := v - mean
		sumSq += diff * diff
	}
	std := math.Sqrt(sumSq / float64(len(data)))

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	var median float64
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		median = sorted[mid]
	}

	return Stat{
		Min:    min,
		Max:    max,
		Mean:   mean,
		Median: median,
		Std:    std,
	}
}
