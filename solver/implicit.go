package solver

import (
	"math"
)

// StiffOptions returns options for stiff problems, such as networks whose
// coupling dwarfs the frequency spread.
func StiffOptions() *Options {
	return &Options{
		Dt:       0.001,
		Dtmin:    1e-10,
		Dtmax:    0.01,
		Abstol:   1e-8,
		Reltol:   1e-5,
		Maxiters: 500000,
		Adaptive: true,
	}
}

// ImplicitEuler integrates with the backward Euler method, solving the
// implicit equation by fixed-point iteration. A-stable, so it tolerates
// step sizes explicit methods cannot.
func ImplicitEuler(prob *Problem, opts *Options) *Solution {
	if opts == nil {
		opts = StiffOptions()
	}

	f := prob.vecF
	n := len(prob.vecU0)
	t0, tf := prob.Tspan[0], prob.Tspan[1]

	maxFixedPoint := 50
	fixedPointTol := opts.Abstol * 10

	tOut := []float64{t0}
	uOut := [][]float64{append([]float64(nil), prob.vecU0...)}
	tcur := t0
	ucur := append([]float64(nil), prob.vecU0...)
	nsteps := 0

	for tcur < tf && nsteps < opts.Maxiters {
		dtcur := opts.Dt
		if tcur+dtcur > tf {
			dtcur = tf - tcur
		}
		tnext := tcur + dtcur

		// Explicit Euler predictor, then iterate
		// u_{n+1} = u_n + dt f(t_{n+1}, u_{n+1}) to convergence.
		du := f(tcur, ucur)
		unext := make([]float64, n)
		for i := range unext {
			unext[i] = ucur[i] + dtcur*du[i]
		}
		for iter := 0; iter < maxFixedPoint; iter++ {
			dunext := f(tnext, unext)
			maxDiff := 0.0
			for i := 0; i < n; i++ {
				v := ucur[i] + dtcur*dunext[i]
				if d := math.Abs(v - unext[i]); d > maxDiff {
					maxDiff = d
				}
				unext[i] = v
			}
			if maxDiff < fixedPointTol {
				break
			}
		}

		tcur = tnext
		ucur = unext
		tOut = append(tOut, tcur)
		uOut = append(uOut, append([]float64(nil), ucur...))
		nsteps++
	}

	return newSolution(prob, tOut, uOut)
}

// SolveImplicit picks between explicit and implicit integration based on a
// quick stiffness probe of the initial derivatives.
func SolveImplicit(prob *Problem, opts *Options) *Solution {
	if opts == nil {
		opts = DefaultOptions()
	}
	if detectStiffness(prob) {
		implicitOpts := *opts
		implicitOpts.Adaptive = false
		return ImplicitEuler(prob, &implicitOpts)
	}
	return Solve(prob, Tsit5(), opts)
}

// detectStiffness flags a problem whose initial derivative magnitudes span
// more than three orders of magnitude.
func detectStiffness(prob *Problem) bool {
	du := prob.vecF(prob.Tspan[0], prob.vecU0)
	maxDu := 0.0
	minDu := math.MaxFloat64
	for _, v := range du {
		absV := math.Abs(v)
		if absV > 1e-10 {
			if absV > maxDu {
				maxDu = absV
			}
			if absV < minDu {
				minDu = absV
			}
		}
	}
	if minDu < 1e-10 || maxDu < 1e-10 {
		return false
	}
	return maxDu/minDu > 1000
}

// TRBDF2 integrates with the two-stage TR-BDF2 method: a trapezoidal step
// to t+γdt followed by a BDF2 step to t+dt, γ = 2-√2. Second order and
// stiffly accurate.
func TRBDF2(prob *Problem, opts *Options) *Solution {
	if opts == nil {
		opts = StiffOptions()
	}

	f := prob.vecF
	n := len(prob.vecU0)
	t0, tf := prob.Tspan[0], prob.Tspan[1]

	gamma := 2.0 - math.Sqrt(2.0)
	maxFixedPoint := 50
	fixedPointTol := opts.Abstol * 10

	tOut := []float64{t0}
	uOut := [][]float64{append([]float64(nil), prob.vecU0...)}
	tcur := t0
	ucur := append([]float64(nil), prob.vecU0...)
	nsteps := 0

	for tcur < tf && nsteps < opts.Maxiters {
		dtcur := opts.Dt
		if tcur+dtcur > tf {
			dtcur = tf - tcur
		}

		// Stage 1: trapezoidal rule to t + γdt.
		tgamma := tcur + gamma*dtcur
		du0 := f(tcur, ucur)
		ugamma := make([]float64, n)
		for i := range ugamma {
			ugamma[i] = ucur[i] + gamma*dtcur*du0[i]
		}
		for iter := 0; iter < maxFixedPoint; iter++ {
			dugamma := f(tgamma, ugamma)
			maxDiff := 0.0
			for i := 0; i < n; i++ {
				v := ucur[i] + 0.5*gamma*dtcur*(du0[i]+dugamma[i])
				if d := math.Abs(v - ugamma[i]); d > maxDiff {
					maxDiff = d
				}
				ugamma[i] = v
			}
			if maxDiff < fixedPointTol {
				break
			}
		}

		// Stage 2: BDF2 step to t + dt using u_n and u_γ.
		tnext := tcur + dtcur
		w1 := 1.0 / (gamma * (2 - gamma))
		w0 := -((1 - gamma) * (1 - gamma)) / (gamma * (2 - gamma))
		wf := (1 - gamma) / (2 - gamma)

		dugamma := f(tgamma, ugamma)
		unext := make([]float64, n)
		for i := range unext {
			unext[i] = ugamma[i] + (1-gamma)*dtcur*dugamma[i]
		}
		for iter := 0; iter < maxFixedPoint; iter++ {
			dunext := f(tnext, unext)
			maxDiff := 0.0
			for i := 0; i < n; i++ {
				v := w1*ugamma[i] + w0*ucur[i] + wf*dtcur*dunext[i]
				if d := math.Abs(v - unext[i]); d > maxDiff {
					maxDiff = d
				}
				unext[i] = v
			}
			if maxDiff < fixedPointTol {
				break
			}
		}

		tcur = tnext
		ucur = unext
		tOut = append(tOut, tcur)
		uOut = append(uOut, append([]float64(nil), ucur...))
		nsteps++
	}

	return newSolution(prob, tOut, uOut)
}
