package monitoring

import (
	"fmt"
	"math"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/phase"
	"github.com/oscilla-xyz/go-oscilla/solver"
)

// Predictor forecasts near-future network behavior by integrating the
// current state forward with the fitted coupling in place.
type Predictor struct {
	solverMethod  *solver.Solver
	solverOptions *solver.Options
	syncOptions   *solver.SyncOptions
}

// NewPredictor creates a forecast engine with default integration settings.
func NewPredictor() *Predictor {
	return &Predictor{
		solverMethod:  solver.Tsit5(),
		solverOptions: solver.FastOptions(),
		syncOptions:   solver.DefaultSyncOptions(),
	}
}

// WithSolverOptions overrides the integration settings.
func (p *Predictor) WithSolverOptions(opts *solver.Options) *Predictor {
	p.solverOptions = opts
	return p
}

// WithSyncOptions overrides the synchronization detection settings.
func (p *Predictor) WithSyncOptions(opts *solver.SyncOptions) *Predictor {
	p.syncOptions = opts
	return p
}

// Forecast contains a simulation-based prediction.
type Forecast struct {
	Horizon float64 // How far ahead the simulation looked

	WillSync   bool    // Whether synchronization is reached within the horizon
	TimeToSync float64 // When, if WillSync (simulation time from now)

	FinalSyncRatio float64 // Sync ratio at the stopping point
	FinalOrder     float64 // Order parameter at the stopping point
}

// ForecastSync simulates the network forward up to horizon time units and
// reports whether and when it synchronizes. The network is cloned; the live
// state is untouched.
func (p *Predictor) ForecastSync(net *phase.Network, horizon float64) (*Forecast, error) {
	if horizon <= 0 || math.IsNaN(horizon) {
		return nil, fmt.Errorf("monitoring: forecast horizon %g: %w",
			horizon, oscilla.ErrInvalidConfig)
	}
	sim := net.Clone()
	prob, err := solver.NewProblem(sim, [2]float64{0, horizon})
	if err != nil {
		return nil, err
	}
	sol, sync := solver.SolveUntilSync(prob, p.solverMethod, p.solverOptions, p.syncOptions)

	fc := &Forecast{
		Horizon:    horizon,
		WillSync:   sync.Reached,
		FinalOrder: sync.Order,
	}
	if sync.Reached {
		fc.TimeToSync = sync.Time
	}
	if err := sol.ApplyFinalState(sim); err == nil {
		fc.FinalSyncRatio = sim.SyncRatio()
	}
	return fc, nil
}

// ForecastSync runs the monitor's predictor on a snapshot of the live
// network, without holding the ingestion lock during the simulation.
func (m *Monitor) ForecastSync(horizon float64) (*Forecast, error) {
	return NewPredictor().ForecastSync(m.snapshotNetwork(), horizon)
}
