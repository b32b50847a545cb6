package optimize

import (
	"math"

	"github.com/cellforge/cellforge/internal/deck"
	"github.com/cellforge/cellforge/internal/sim"
)

// RemovalConfig carries the overridable parameters of the removal search.
// Zero fields take the defaults: search [0, 1ns], tolerance 1ps, glitch
// threshold 10% of the supply, 80 iterations.
type RemovalConfig struct {
	SearchLo       float64
	SearchHi       float64
	Tolerance      float64
	ThresholdRatio float64
	MaxIterations  int
}

func (c *RemovalConfig) applyDefaults() {
	if c.SearchHi == 0 {
		c.SearchHi = 1e-9
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-12
	}
	if c.ThresholdRatio == 0 {
		c.ThresholdRatio = 0.1
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 80
	}
}

// RemovalOptimizer finds the smallest non-negative shift at which the
// post-transition output glitch amplitude falls at or below a fraction of the
// supply voltage. The glitch criterion is monotonic in the shift, so a plain
// shrinking bisection suffices.
type RemovalOptimizer struct {
	cfg       RemovalConfig
	perturber *deck.Perturber
	eval      Evaluator
	metadata  map[string]string
	supply    float64
}

// NewRemovalOptimizer binds an optimizer to a perturber and evaluator.
// supply is the deck's supply voltage (used to scale the glitch threshold).
func NewRemovalOptimizer(p *deck.Perturber, eval Evaluator, metadata map[string]string, supply float64, cfg RemovalConfig) *RemovalOptimizer {
	cfg.applyDefaults()
	if supply <= 0 || math.IsNaN(supply) || math.IsInf(supply, 0) {
		supply = 1.0
	}
	return &RemovalOptimizer{cfg: cfg, perturber: p, eval: eval, metadata: metadata, supply: supply}
}

// Run bisects the shift interval, recording the midpoint as the current best
// on every usable evaluation. An evaluation with no usable glitch metrics
// aborts the search, returning the last good sample (or the initial payload
// when none exists).
func (o *RemovalOptimizer) Run(initial *sim.Payload) Result {
	threshold := o.cfg.ThresholdRatio * o.supply
	low, high := o.cfg.SearchLo, o.cfg.SearchHi

	var bestPayload *sim.Payload
	bestShift := 0.0
	iterations := 0

	for iterations < o.cfg.MaxIterations && (high-low) > o.cfg.Tolerance {
		mid := 0.5 * (low + high)
		payload, ok := o.evaluate(mid)
		iterations++
		if !ok {
			break
		}
		diff, ok := glitchAbsDiff(payload)
		if !ok {
			break
		}

		bestShift, bestPayload = mid, payload
		if diff <= threshold {
			high = mid
		} else {
			low = mid
		}
	}

	if bestPayload == nil {
		return Result{Payload: initial, BestShift: 0, Iterations: iterations, Target: threshold, Converged: false}
	}
	return Result{Payload: bestPayload, BestShift: bestShift, Iterations: iterations, Target: threshold, Converged: true}
}

func (o *RemovalOptimizer) evaluate(shift float64) (*sim.Payload, bool) {
	deckPath, err := o.perturber.WriteShifted(shift)
	if err != nil {
		return nil, false
	}
	payload, err := o.eval.Evaluate(deckPath, o.metadata, shift)
	if err != nil || payload == nil || len(payload.Metrics) == 0 {
		return nil, false
	}
	if _, ok := glitchAbsDiff(payload); !ok {
		return nil, false
	}
	return payload, true
}

// glitchAbsDiff measures the glitch amplitude: peak observed output voltage
// minus the value sampled at the half-window point.
func glitchAbsDiff(payload *sim.Payload) (float64, bool) {
	half, ok := payload.Metric(sim.MetricFinalQ)
	if !ok {
		half, ok = payload.Metric(sim.MetricHalfWindowQ)
	}
	if !ok {
		return 0, false
	}
	peak, ok := payload.Metric(sim.MetricGlitchPeakRise)
	if !ok {
		peak, ok = payload.Metric(sim.MetricGlitchPeakFall)
	}
	if !ok {
		return 0, false
	}
	return math.Abs(peak - half), true
}
