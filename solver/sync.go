package solver

import (
	"math"
)

// SyncOptions control synchronization detection while integrating.
// Detection watches the Kuramoto order parameter r(t) = |sum_j e^{i
// theta_j}| / n and fires once it stays above Threshold for
// ConsecutiveChecks checks in a row.
type SyncOptions struct {
	// Threshold is the order-parameter level that counts as synchronized.
	Threshold float64

	// ConsecutiveChecks is how many passing checks in a row are required
	// before the run stops. Guards against transient alignment.
	ConsecutiveChecks int

	// MinTime is the minimum integration time before checking begins.
	MinTime float64

	// CheckInterval checks every N accepted steps. 0 or 1 checks every step.
	CheckInterval int
}

// DefaultSyncOptions suit most coupled-oscillator runs.
func DefaultSyncOptions() *SyncOptions {
	return &SyncOptions{
		Threshold:         0.995,
		ConsecutiveChecks: 5,
		MinTime:           0.1,
		CheckInterval:     10,
	}
}

// FastSyncOptions detect coarse synchronization quickly, for sweeps.
func FastSyncOptions() *SyncOptions {
	return &SyncOptions{
		Threshold:         0.98,
		ConsecutiveChecks: 3,
		MinTime:           0.01,
		CheckInterval:     5,
	}
}

// StrictSyncOptions wait for near-perfect alignment.
func StrictSyncOptions() *SyncOptions {
	return &SyncOptions{
		Threshold:         0.9999,
		ConsecutiveChecks: 10,
		MinTime:           1.0,
		CheckInterval:     1,
	}
}

// SyncResult reports whether and when synchronization was reached.
type SyncResult struct {
	// Reached is true if the order parameter held above threshold.
	Reached bool

	// Time is when synchronization was detected (or the final time).
	Time float64

	// Order is the order parameter at detection (or at the final time).
	Order float64

	// State is the phase state at detection (or the final state).
	State map[string]float64

	// Steps is the number of accepted integration steps taken.
	Steps int

	// Reason is one of "sync_reached", "time_exhausted", "max_iterations".
	Reason string
}

// SolveUntilSync integrates until the network synchronizes or the time
// span runs out, whichever comes first. The returned Solution holds the
// trajectory up to the stopping point.
func SolveUntilSync(prob *Problem, solver *Solver, opts *Options, syncOpts *SyncOptions) (*Solution, *SyncResult) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if syncOpts == nil {
		syncOpts = DefaultSyncOptions()
	}

	result := &SyncResult{Reason: "time_exhausted"}
	t0 := prob.Tspan[0]
	consecutive := 0
	sinceCheck := 0

	tOut, uOut, steps, stopped := integrate(prob, solver, opts, func(t float64, u, du []float64) bool {
		if t < t0+syncOpts.MinTime {
			return false
		}
		sinceCheck++
		if syncOpts.CheckInterval > 1 && sinceCheck < syncOpts.CheckInterval {
			return false
		}
		sinceCheck = 0

		r := orderParameter(u)
		if r < syncOpts.Threshold {
			consecutive = 0
			return false
		}
		consecutive++
		if consecutive < syncOpts.ConsecutiveChecks {
			return false
		}

		result.Reached = true
		result.Time = t
		result.Order = r
		result.State = vecToState(u, prob.stateLabels)
		result.Reason = "sync_reached"
		return true
	})

	result.Steps = steps
	if !stopped && steps >= opts.Maxiters {
		result.Reason = "max_iterations"
	}
	if !result.Reached && len(uOut) > 0 {
		last := uOut[len(uOut)-1]
		result.Time = tOut[len(tOut)-1]
		result.Order = orderParameter(last)
		result.State = vecToState(last, prob.stateLabels)
	}
	return newSolution(prob, tOut, uOut), result
}

// LockOptions control phase-lock detection. A network is phase locked
// when every node drifts at the same angular velocity, so the test is
// on the spread of the derivative vector, not on its magnitude. A
// rotating locked state passes; an equilibrium is the zero-drift case.
type LockOptions struct {
	// Tolerance is the maximum allowed spread max_i |du_i - mean(du)|.
	Tolerance float64

	// ConsecutiveChecks is how many passing checks in a row are required.
	ConsecutiveChecks int

	// MinTime is the minimum integration time before checking begins.
	MinTime float64

	// CheckInterval checks every N accepted steps. 0 or 1 checks every step.
	CheckInterval int
}

// DefaultLockOptions suit most runs.
func DefaultLockOptions() *LockOptions {
	return &LockOptions{
		Tolerance:         1e-6,
		ConsecutiveChecks: 5,
		MinTime:           0.1,
		CheckInterval:     10,
	}
}

// StrictLockOptions demand a very tight lock, for certification runs.
func StrictLockOptions() *LockOptions {
	return &LockOptions{
		Tolerance:         1e-9,
		ConsecutiveChecks: 10,
		MinTime:           1.0,
		CheckInterval:     1,
	}
}

// LockResult reports whether and where a phase-locked state was found.
type LockResult struct {
	// Reached is true if a locked state was detected.
	Reached bool

	// Time is when the lock was detected (or the final time).
	Time float64

	// State is the phase state at detection (or the final state).
	State map[string]float64

	// Drift is the common angular velocity at detection, mean(du).
	Drift float64

	// MaxDeviation is the largest |du_i - Drift| at the last check.
	MaxDeviation float64

	// Steps is the number of accepted integration steps taken.
	Steps int

	// Reason is one of "lock_reached", "time_exhausted", "max_iterations".
	Reason string
}

// SolveUntilLock integrates until the network reaches a phase-locked
// state or the time span runs out.
func SolveUntilLock(prob *Problem, solver *Solver, opts *Options, lockOpts *LockOptions) (*Solution, *LockResult) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if lockOpts == nil {
		lockOpts = DefaultLockOptions()
	}

	result := &LockResult{Reason: "time_exhausted"}
	t0 := prob.Tspan[0]
	consecutive := 0
	sinceCheck := 0

	tOut, uOut, steps, stopped := integrate(prob, solver, opts, func(t float64, u, du []float64) bool {
		if t < t0+lockOpts.MinTime {
			return false
		}
		sinceCheck++
		if lockOpts.CheckInterval > 1 && sinceCheck < lockOpts.CheckInterval {
			return false
		}
		sinceCheck = 0

		drift, dev := driftDeviation(du)
		result.Drift = drift
		result.MaxDeviation = dev
		if dev > lockOpts.Tolerance {
			consecutive = 0
			return false
		}
		consecutive++
		if consecutive < lockOpts.ConsecutiveChecks {
			return false
		}

		result.Reached = true
		result.Time = t
		result.State = vecToState(u, prob.stateLabels)
		result.Reason = "lock_reached"
		return true
	})

	result.Steps = steps
	if !stopped && steps >= opts.Maxiters {
		result.Reason = "max_iterations"
	}
	if !result.Reached && len(uOut) > 0 {
		result.Time = tOut[len(tOut)-1]
		result.State = vecToState(uOut[len(uOut)-1], prob.stateLabels)
	}
	return newSolution(prob, tOut, uOut), result
}

// FindLockedState integrates with default settings and returns the
// locked state if one was reached.
func FindLockedState(prob *Problem) (map[string]float64, bool) {
	_, res := SolveUntilLock(prob, Tsit5(), DefaultOptions(), DefaultLockOptions())
	if !res.Reached {
		return nil, false
	}
	return res.State, true
}

// IsPhaseLocked reports whether a state is phase locked for the given
// problem, within tolerance on the derivative spread.
func IsPhaseLocked(prob *Problem, state map[string]float64, tolerance float64) bool {
	du := prob.F(prob.Tspan[0], state)
	if len(du) == 0 {
		return true
	}
	var mean float64
	for _, v := range du {
		mean += v
	}
	mean /= float64(len(du))
	for _, v := range du {
		if math.Abs(v-mean) > tolerance {
			return false
		}
	}
	return true
}

// orderParameter computes r = |sum_j e^{i theta_j}| / n for a phase
// vector. A single node (or an empty vector) counts as synchronized.
func orderParameter(u []float64) float64 {
	if len(u) <= 1 {
		return 1.0
	}
	var sumSin, sumCos float64
	for _, th := range u {
		s, c := math.Sincos(th)
		sumSin += s
		sumCos += c
	}
	return math.Hypot(sumCos, sumSin) / float64(len(u))
}

// driftDeviation returns the mean of du and the largest absolute
// deviation from that mean.
func driftDeviation(du []float64) (drift, maxDev float64) {
	if len(du) == 0 {
		return 0, 0
	}
	for _, v := range du {
		drift += v
	}
	drift /= float64(len(du))
	for _, v := range du {
		if d := math.Abs(v - drift); d > maxDev {
			maxDev = d
		}
	}
	return drift, maxDev
}

// OptionPair bundles solver and sync settings that work well together.
type OptionPair struct {
	Solver *Options
	Sync   *SyncOptions
}

// SweepOptionPair favors throughput over precision, for parameter sweeps.
func SweepOptionPair() OptionPair {
	return OptionPair{Solver: SweepOptions(), Sync: FastSyncOptions()}
}

// LongRunOptionPair favors certainty, for slow-synchronizing networks.
func LongRunOptionPair() OptionPair {
	return OptionPair{Solver: LongRunOptions(), Sync: StrictSyncOptions()}
}
