package optimize

import (
	"math"

	"github.com/cellforge/cellforge/internal/deck"
	"github.com/cellforge/cellforge/internal/sim"
)

// WidthConfig carries the overridable parameters of the pulse-width search.
// The tolerances are floored rather than defaulted-only so callers cannot
// request an interval the simulator timestep could never resolve.
type WidthConfig struct {
	Tolerance            float64
	DegradationTolerance float64
	MaxIterations        int
}

func (c *WidthConfig) applyDefaults() {
	if c.Tolerance == 0 {
		c.Tolerance = 0.05
	}
	c.Tolerance = math.Max(c.Tolerance, 1e-3)
	if c.DegradationTolerance == 0 {
		c.DegradationTolerance = 0.1
	}
	c.DegradationTolerance = math.Max(c.DegradationTolerance, 1e-3)
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.MaxIterations < 1 {
		c.MaxIterations = 1
	}
}

// WidthOptimizer shrinks a pulse width by bisection until the degradation
// metric departs from its reference value by more than the tolerance. The
// reference is captured from the first successful evaluation.
type WidthOptimizer struct {
	cfg       WidthConfig
	perturber *deck.WidthPerturber
	eval      Evaluator
	metadata  map[string]string
}

// NewWidthOptimizer binds an optimizer to a width perturber and evaluator.
func NewWidthOptimizer(p *deck.WidthPerturber, eval Evaluator, metadata map[string]string, cfg WidthConfig) *WidthOptimizer {
	cfg.applyDefaults()
	return &WidthOptimizer{cfg: cfg, perturber: p, eval: eval, metadata: metadata}
}

// Run bisects over [0, initial width]. Success at a candidate width requires
// a positive finite degradation within tolerance of the reference and a
// positive pulse-width readback; success shrinks the upper bound, failure
// raises the lower bound. If no reference degradation is ever established the
// run reports unconverged with the initial payload, width annotated.
func (o *WidthOptimizer) Run(initial *sim.Payload) WidthResult {
	initialWidthNS, _ := initial.Metric(sim.MetricPulseWidth)
	initialWidthS := o.perturber.BaseWidth()
	if initialWidthNS > 0 {
		initialWidthS = initialWidthNS * 1e-9
	}

	reference, hasReference := referenceDegradation(initial)

	lower, upper := 0.0, initialWidthS
	bestPayload := initial
	bestWidthS := initialWidthS
	converged := false
	iterations := 0

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		iterations = iteration
		if upper <= 0 || (upper-lower) <= upper*o.cfg.Tolerance {
			converged = true
			break
		}

		candidate := (lower + upper) / 2
		payload := o.simulateWithWidth(candidate)

		if !hasReference {
			reference, hasReference = referenceDegradation(payload)
			if !hasReference {
				upper = candidate
				bestPayload, bestWidthS = payload, candidate
				continue
			}
		}

		if o.isSuccess(payload, reference) {
			upper = candidate
			bestPayload, bestWidthS = payload, candidate
		} else {
			lower = candidate
		}
	}

	if !hasReference {
		annotated := initial.Clone()
		annotated.Metrics[sim.MetricPulseWidth] = initialWidthS * 1e9
		return WidthResult{Payload: annotated, BestWidthNS: initialWidthS * 1e9, Iterations: 0, Converged: false}
	}

	best := bestPayload.Clone()
	best.Metrics[sim.MetricPulseWidth] = bestWidthS * 1e9
	return WidthResult{Payload: best, BestWidthNS: bestWidthS * 1e9, Iterations: iterations, Converged: converged}
}

// simulateWithWidth never returns nil: a failed run comes back as an empty
// payload so the acceptance test rejects it and the bisection raises the
// lower bound.
func (o *WidthOptimizer) simulateWithWidth(widthS float64) *sim.Payload {
	deckPath, err := o.perturber.WriteWidth(widthS)
	if err != nil {
		return sim.NewPayload()
	}
	payload, err := o.eval.Evaluate(deckPath, o.metadata, widthS)
	if err != nil || payload == nil {
		return sim.NewPayload()
	}
	if w, ok := payload.Metric(sim.MetricPulseWidth); !ok || w == 0 {
		payload = payload.Clone()
		payload.Metrics[sim.MetricPulseWidth] = widthS * 1e9
	}
	return payload
}

func (o *WidthOptimizer) isSuccess(payload *sim.Payload, referenceNS float64) bool {
	deg, ok := payload.Metric(sim.MetricDegradation)
	if !ok || math.IsInf(deg, 0) || deg <= 0 {
		return false
	}
	pulse, ok := payload.Metric(sim.MetricPulseWidth)
	if !ok || math.IsInf(pulse, 0) || pulse <= 0 {
		return false
	}
	if referenceNS <= 0 {
		return true
	}
	return math.Abs(deg-referenceNS)/referenceNS <= o.cfg.DegradationTolerance
}

// referenceDegradation accepts only a positive finite degradation value.
func referenceDegradation(payload *sim.Payload) (float64, bool) {
	deg, ok := payload.Metric(sim.MetricDegradation)
	if !ok || math.IsInf(deg, 0) || deg <= 0 {
		return 0, false
	}
	return deg, true
}
