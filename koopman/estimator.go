package koopman

import (
	"fmt"
	"math"
	"sync"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/buffer"
)

// Estimator fits spectra from a state buffer and remembers the most recent
// result. It is safe for concurrent use.
type Estimator struct {
	opts Options
	dict Dictionary

	mu   sync.Mutex
	last *Result
}

// NewEstimator returns an estimator with the given fit options.
func NewEstimator(opts Options) *Estimator {
	return &Estimator{opts: opts}
}

// SetDictionary switches the estimator to lifted fits. A nil dictionary
// returns it to direct state-space fits.
func (e *Estimator) SetDictionary(d Dictionary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dict = d
}

// Options returns the fit options in use.
func (e *Estimator) Options() Options { return e.opts }

// Analyze fits the buffered trajectory. The sample interval comes from the
// buffer's timestamps unless Options.Dt overrides it, and is scaled by the
// configured shift. On a degenerate fit the partial result is both stored
// and returned alongside the error.
func (e *Estimator) Analyze(buf *buffer.Buffer) (*Result, error) {
	if buf == nil {
		return nil, fmt.Errorf("koopman: nil buffer: %w", oscilla.ErrInvalidConfig)
	}
	shift := e.opts.Shift
	if shift < 1 {
		shift = 1
	}
	x, y, err := buf.Pair(shift)
	if err != nil {
		return nil, err
	}

	baseDt := e.opts.Dt
	if baseDt <= 0 || math.IsNaN(baseDt) {
		first, last, ok := buf.TimeSpan()
		if ok && buf.Len() > 1 && last > first {
			baseDt = (last - first) / float64(buf.Len()-1)
		} else {
			baseDt = 1
		}
	}
	dt := baseDt * float64(shift)

	e.mu.Lock()
	dict := e.dict
	e.mu.Unlock()

	var res *Result
	if dict != nil {
		res, err = FitLifted(x, y, dt, dict, e.opts)
	} else {
		res, err = Fit(x, y, dt, e.opts)
	}
	if res != nil {
		e.mu.Lock()
		e.last = res
		e.mu.Unlock()
	}
	return res, err
}

// LastResult returns the most recent fit, nil before the first Analyze.
func (e *Estimator) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// StabilityIndex returns the index of the most recent fit, NaN before the
// first successful Analyze.
func (e *Estimator) StabilityIndex() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return math.NaN()
	}
	return e.last.StabilityIndex
}
