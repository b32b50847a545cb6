package optimize

import (
	"math"
	"strings"

	"github.com/cellforge/cellforge/internal/deck"
	"github.com/cellforge/cellforge/internal/sim"
)

// LatchConfig carries the overridable parameters of the latch constraint
// search. Zero fields take the defaults.
type LatchConfig struct {
	SearchLo             float64
	SearchHi             float64
	Tolerance            float64
	LogicThresholdRatio  float64
	GlitchThresholdRatio float64
	MaxIterations        int
	CacheTolerance       float64
}

func (c *LatchConfig) applyDefaults() {
	if c.SearchLo == 0 && c.SearchHi == 0 {
		c.SearchLo = DefaultSearchLo
		c.SearchHi = DefaultSearchHi
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-12
	}
	if c.LogicThresholdRatio == 0 {
		c.LogicThresholdRatio = 0.5
	}
	if c.GlitchThresholdRatio == 0 {
		c.GlitchThresholdRatio = 0.1
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 80
	}
	if c.CacheTolerance == 0 {
		c.CacheTolerance = DefaultCacheTolerance
	}
}

// LatchOptimizer searches latch setup/hold boundaries with a correctness plus
// stability criterion. Latch outputs can transition while the enable is
// transparent, which makes the delay-degradation metric negative or NaN, so
// instead of a degradation ratio the acceptance test requires the sampled
// output to match the expected captured logic value and to stay glitch-free
// after the closing edge.
type LatchOptimizer struct {
	cfg       LatchConfig
	perturber *deck.Perturber
	eval      Evaluator
	metadata  map[string]string
	supply    float64
}

// NewLatchOptimizer binds an optimizer to a perturber and evaluator.
func NewLatchOptimizer(p *deck.Perturber, eval Evaluator, metadata map[string]string, supply float64, cfg LatchConfig) *LatchOptimizer {
	cfg.applyDefaults()
	if supply <= 0 || math.IsNaN(supply) || math.IsInf(supply, 0) {
		supply = 1.0
	}
	return &LatchOptimizer{cfg: cfg, perturber: p, eval: eval, metadata: metadata, supply: supply}
}

// Run shrinks the passing interval from the safe upper endpoint. The upper
// endpoint must pass before any bisection happens; a passing lower endpoint
// means the boundary lies below the search range.
func (o *LatchOptimizer) Run(initial *sim.Payload, initialShift float64) Result {
	expectedHigh, ok := o.expectedFinalBit()
	if !ok {
		return Result{Payload: initial, BestShift: 0, Iterations: 0, Target: 0, Converged: false}
	}

	logicThreshold := o.cfg.LogicThresholdRatio * o.supply
	glitchThreshold := o.cfg.GlitchThresholdRatio * o.supply

	cache := evalCache{tolerance: o.cfg.CacheTolerance}
	evaluate := func(shift float64) (*sim.Payload, bool) {
		if entry, hit := cache.lookup(shift); hit {
			return entry.payload, entry.payload != nil
		}
		payload, ok := o.evaluate(shift)
		if !ok {
			cache.store(shift, 0, nil)
			return nil, false
		}
		cache.store(shift, 0, payload)
		return payload, true
	}

	lo, hi := o.cfg.SearchLo, o.cfg.SearchHi

	var payloadHi *sim.Payload
	if math.Abs(initialShift-hi) <= o.cfg.CacheTolerance {
		payloadHi = initial
		cache.store(initialShift, 0, initial)
	}
	if payloadHi == nil {
		payloadHi, _ = evaluate(hi)
	}
	if payloadHi == nil {
		return Result{Payload: initial, BestShift: 0, Iterations: 0, Target: glitchThreshold, Converged: false}
	}
	if !o.passes(payloadHi, expectedHigh, logicThreshold, glitchThreshold) {
		// Even the safe shift fails: report the unoptimized sample.
		return Result{Payload: payloadHi, BestShift: hi, Iterations: 0, Target: glitchThreshold, Converged: false}
	}

	if payloadLo, ok := evaluate(lo); ok && o.passes(payloadLo, expectedHigh, logicThreshold, glitchThreshold) {
		return Result{Payload: payloadLo, BestShift: lo, Iterations: 0, Target: glitchThreshold, Converged: true}
	}

	bestShift, bestPayload := hi, payloadHi
	iterations := 0

	for iterations < o.cfg.MaxIterations && (hi-lo) > o.cfg.Tolerance {
		mid := 0.5 * (lo + hi)
		payloadMid, ok := evaluate(mid)
		iterations++
		if !ok {
			break
		}
		if o.passes(payloadMid, expectedHigh, logicThreshold, glitchThreshold) {
			bestShift, bestPayload = mid, payloadMid
			hi = mid
		} else {
			lo = mid
		}
	}

	return Result{
		Payload:    bestPayload,
		BestShift:  bestShift,
		Iterations: iterations,
		Target:     glitchThreshold,
		Converged:  (hi - lo) <= o.cfg.Tolerance,
	}
}

// expectedFinalBit infers the logic value the primary output must hold at the
// end of the simulation: the data edge comes from the table type, setup
// captures the post-transition value while hold captures the pre-transition
// one, and inverted outputs flip the result.
func (o *LatchOptimizer) expectedFinalBit() (bool, bool) {
	tableType := strings.ToLower(o.metadata["table_type"])
	var dataRises bool
	switch {
	case strings.Contains(tableType, "rise_constraint"):
		dataRises = true
	case strings.Contains(tableType, "fall_constraint"):
		dataRises = false
	default:
		return false, false
	}

	var captured bool
	switch strings.ToLower(o.metadata["sim_type"]) {
	case "setup":
		captured = dataRises
	case "hold":
		captured = !dataRises
	default:
		return false, false
	}

	if isTruthy(o.metadata["primary_output_is_negative"]) {
		captured = !captured
	}
	return captured, true
}

func (o *LatchOptimizer) passes(payload *sim.Payload, expectedHigh bool, logicThreshold, glitchThreshold float64) bool {
	finalQ, ok := payload.Metric(sim.MetricFinalQ)
	if !ok {
		return false
	}
	if expectedHigh && finalQ < logicThreshold {
		return false
	}
	if !expectedHigh && finalQ > logicThreshold {
		return false
	}

	peakHi, ok := payload.Metric(sim.MetricGlitchPeakRise)
	if !ok {
		return false
	}
	peakLo, ok := payload.Metric(sim.MetricGlitchPeakFall)
	if !ok {
		return false
	}
	absDiff := math.Max(math.Abs(peakHi-finalQ), math.Abs(peakLo-finalQ))
	return absDiff <= glitchThreshold
}

// evaluate runs one simulation and requires the full latch metric set to be
// present before the sample is considered usable.
func (o *LatchOptimizer) evaluate(shift float64) (*sim.Payload, bool) {
	deckPath, err := o.perturber.WriteShifted(shift)
	if err != nil {
		return nil, false
	}
	payload, err := o.eval.Evaluate(deckPath, o.metadata, shift)
	if err != nil || payload == nil || len(payload.Metrics) == 0 {
		return nil, false
	}
	for _, key := range []string{sim.MetricConstraint, sim.MetricFinalQ, sim.MetricGlitchPeakRise, sim.MetricGlitchPeakFall} {
		if _, present := payload.Metrics[key]; !present {
			return nil, false
		}
	}
	return payload, true
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
