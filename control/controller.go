// Package control closes the loop between spectral analysis and the phase
// dynamics. The controller maps a stability index to a feedback gain and
// holds the previous gain whenever the analysis cannot be trusted.
package control

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	oscilla "github.com/oscilla-xyz/go-oscilla"
	"github.com/oscilla-xyz/go-oscilla/koopman"
)

// Plant is anything whose coupling response can be scaled by a gain.
type Plant interface {
	SetFeedback(gain float64)
}

// Options configure the index-to-gain mapping.
type Options struct {
	// MinGain is applied at stability index -1 (strong instability).
	MinGain float64
	// MaxGain is applied at stability index +1 (strong contraction).
	MaxGain float64

	Logger *slog.Logger
}

// DefaultOptions damp an unstable system to roughly half coupling while
// leaving a contracting one untouched.
func DefaultOptions() Options {
	return Options{
		MinGain: 0.55,
		MaxGain: 1.0,
	}
}

// Controller turns analysis results into feedback gains.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	gain    float64
	applied int
	held    int
}

// Stats is a snapshot of controller activity.
type Stats struct {
	Applied  int
	Held     int
	LastGain float64
}

// New validates the gain range and returns a controller with a neutral
// initial gain.
func New(opts Options) (*Controller, error) {
	if math.IsNaN(opts.MinGain) || math.IsNaN(opts.MaxGain) ||
		opts.MinGain < 0 || opts.MaxGain > 2 || opts.MinGain > opts.MaxGain {
		return nil, fmt.Errorf("control: gain range [%g, %g]: %w",
			opts.MinGain, opts.MaxGain, oscilla.ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger, gain: 1.0}, nil
}

// GainFor maps a stability index in [-1, 1] linearly onto the gain range.
// A non-finite index returns the currently held gain unchanged.
func (c *Controller) GainFor(index float64) float64 {
	if math.IsNaN(index) || math.IsInf(index, 0) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.gain
	}
	if index < -1 {
		index = -1
	} else if index > 1 {
		index = 1
	}
	return c.opts.MinGain + (c.opts.MaxGain-c.opts.MinGain)*(index+1)/2
}

// Update applies the gain for the result's stability index to the plant.
// Degenerate or missing results hold the previous gain and leave the plant
// untouched. The returned bool reports whether a new gain was applied.
func (c *Controller) Update(plant Plant, res *koopman.Result) (float64, bool) {
	if res == nil || res.Degenerate || math.IsNaN(res.StabilityIndex) {
		c.mu.Lock()
		gain := c.gain
		c.held++
		c.mu.Unlock()
		c.logger.Debug("holding feedback gain", "gain", gain)
		return gain, false
	}
	gain := c.GainFor(res.StabilityIndex)
	if plant != nil {
		plant.SetFeedback(gain)
	}
	c.mu.Lock()
	c.gain = gain
	c.applied++
	c.mu.Unlock()
	c.logger.Debug("applied feedback gain", "gain", gain, "index", res.StabilityIndex)
	return gain, true
}

// Gain returns the currently held gain.
func (c *Controller) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Stats returns a snapshot of how often gains were applied or held.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Applied: c.applied, Held: c.held, LastGain: c.gain}
}
