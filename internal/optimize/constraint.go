package optimize

import (
	"math"

	"github.com/cellforge/cellforge/internal/deck"
	"github.com/cellforge/cellforge/internal/sim"
)

// Defaults for the degradation-ratio bisection. The reference window is large
// so the first "safe" measurement has a high chance of producing a valid
// degradation value even for slow corners.
const (
	DefaultTargetRatio    = 1.1
	DefaultReferenceShift = 10e-9
	DefaultSearchLo       = -10e-9
	DefaultSearchHi       = 10e-9
	DefaultCacheTolerance = 1e-13
	DefaultWindowRatio    = 0.02

	// failedObjective is the sentinel objective value recorded for a run that
	// produced no usable degradation metric.
	failedObjective = 1e19
)

// ConstraintConfig carries the overridable search parameters for setup, hold,
// and recovery optimization. Zero fields take the package defaults.
type ConstraintConfig struct {
	TargetRatio    float64
	ReferenceShift float64
	SearchLo       float64
	SearchHi       float64
	MaxIterations  int
	CacheTolerance float64
	WindowRatio    float64
}

func (c *ConstraintConfig) applyDefaults() {
	if c.TargetRatio == 0 {
		c.TargetRatio = DefaultTargetRatio
	}
	if c.ReferenceShift == 0 {
		c.ReferenceShift = DefaultReferenceShift
	}
	if c.SearchLo == 0 && c.SearchHi == 0 {
		c.SearchLo = DefaultSearchLo
		c.SearchHi = DefaultSearchHi
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 60
	}
	if c.CacheTolerance == 0 {
		c.CacheTolerance = DefaultCacheTolerance
	}
	if c.WindowRatio == 0 {
		c.WindowRatio = DefaultWindowRatio
	}
}

// ConstraintOptimizer finds the stimulus time shift at which the degradation
// metric equals target_ratio times a reference degradation, within an
// acceptance band of ±window_ratio of the reference.
type ConstraintOptimizer struct {
	cfg       ConstraintConfig
	perturber *deck.Perturber
	eval      Evaluator
	metadata  map[string]string
}

// NewConstraintOptimizer binds an optimizer to a perturber and evaluator.
func NewConstraintOptimizer(p *deck.Perturber, eval Evaluator, metadata map[string]string, cfg ConstraintConfig) *ConstraintOptimizer {
	cfg.applyDefaults()
	return &ConstraintOptimizer{cfg: cfg, perturber: p, eval: eval, metadata: metadata}
}

// Run executes the bisection starting from an already-simulated payload.
// initialShift is the shift that payload was evaluated at; when it matches
// the reference shift the payload is reused instead of re-simulating.
func (o *ConstraintOptimizer) Run(initial *sim.Payload, initialShift float64) Result {
	cache := evalCache{tolerance: o.cfg.CacheTolerance}

	var referencePayload *sim.Payload
	referenceDeg := math.NaN()
	if math.Abs(initialShift-o.cfg.ReferenceShift) <= o.cfg.CacheTolerance {
		if deg, ok := initial.Metric(sim.MetricDegradation); ok {
			referencePayload = initial
			referenceDeg = deg
		}
	}
	if referencePayload == nil {
		payload, ok := o.evaluate(o.cfg.ReferenceShift)
		if ok {
			referencePayload = payload
			referenceDeg, _ = payload.Metric(sim.MetricDegradation)
		}
	}
	if referencePayload == nil || math.IsNaN(referenceDeg) {
		// No usable reference: nothing to bisect against.
		return Result{Payload: initial, BestShift: 0, Iterations: 0, Target: 0, Converged: false}
	}

	target := referenceDeg * o.cfg.TargetRatio
	lowerBound := referenceDeg * (o.cfg.TargetRatio - o.cfg.WindowRatio)
	upperBound := referenceDeg * (o.cfg.TargetRatio + o.cfg.WindowRatio)

	residual := func(degradation float64) float64 {
		if lowerBound <= degradation && degradation <= upperBound {
			return 0
		}
		return degradation - target
	}

	// Seed the cache with the samples already in hand so endpoint and
	// midpoint evaluations that coincide with them are never re-simulated.
	if deg, ok := initial.Metric(sim.MetricDegradation); ok {
		cache.store(initialShift, residual(deg), initial)
	}
	if _, hit := cache.lookup(o.cfg.ReferenceShift); !hit {
		cache.store(o.cfg.ReferenceShift, residual(referenceDeg), referencePayload)
	}

	objective := func(shift float64) (float64, *sim.Payload) {
		if entry, hit := cache.lookup(shift); hit {
			return entry.objective, entry.payload
		}
		payload, ok := o.evaluate(shift)
		if !ok {
			cache.store(shift, failedObjective, nil)
			return failedObjective, nil
		}
		deg, _ := payload.Metric(sim.MetricDegradation)
		obj := residual(deg)
		cache.store(shift, obj, payload)
		return obj, payload
	}

	fLo, payloadLo := objective(o.cfg.SearchLo)
	fHi, payloadHi := objective(o.cfg.SearchHi)
	iterations := 0

	if fLo == 0 && payloadLo != nil {
		return Result{Payload: payloadLo, BestShift: o.cfg.SearchLo, Iterations: iterations, Target: target, Converged: true}
	}
	if fHi == 0 && payloadHi != nil {
		return Result{Payload: payloadHi, BestShift: o.cfg.SearchHi, Iterations: iterations, Target: target, Converged: true}
	}

	// Both endpoints failed to simulate: fall back to the unoptimized payload.
	if fLo >= failedObjective && fHi >= failedObjective {
		return Result{Payload: initial, BestShift: 0, Iterations: iterations, Target: target, Converged: false}
	}

	// No bracket: pick the most promising sample already evaluated.
	if !isFinite(fLo) || !isFinite(fHi) || fLo*fHi > 0 {
		shift, payload, converged := pickBest(cache.entries)
		if payload == nil {
			payload = initial
		}
		return Result{Payload: payload, BestShift: shift, Iterations: iterations, Target: target, Converged: converged}
	}

	lo, hi := o.cfg.SearchLo, o.cfg.SearchHi
	fLoVal := fLo
	var bestPayload *sim.Payload
	bestShift := 0.0

	for iterations < o.cfg.MaxIterations && math.Abs(hi-lo) > o.cfg.CacheTolerance {
		mid := 0.5 * (lo + hi)
		fMid, payloadMid := objective(mid)
		iterations++

		if fMid == 0 && payloadMid != nil {
			bestShift, bestPayload = mid, payloadMid
			break
		}
		if !isFinite(fMid) {
			// A failed midpoint still steers the bracket: treat it as a large
			// positive residual.
			fMid = failedObjective
		}
		if fLoVal*fMid < 0 {
			hi = mid
		} else {
			lo, fLoVal = mid, fMid
		}
	}

	if bestPayload == nil {
		shift, payload, converged := pickBest(cache.entries)
		if payload == nil {
			payload = initial
		}
		return Result{Payload: payload, BestShift: shift, Iterations: iterations, Target: target, Converged: converged}
	}
	return Result{Payload: bestPayload, BestShift: bestShift, Iterations: iterations, Target: target, Converged: true}
}

// evaluate perturbs the deck at the given shift and runs one simulation. The
// result is usable only when a finite degradation metric came back.
func (o *ConstraintOptimizer) evaluate(shift float64) (*sim.Payload, bool) {
	deckPath, err := o.perturber.WriteShifted(shift)
	if err != nil {
		return nil, false
	}
	payload, err := o.eval.Evaluate(deckPath, o.metadata, shift)
	if err != nil || payload == nil || len(payload.Metrics) == 0 {
		return nil, false
	}
	if _, ok := payload.Metric(sim.MetricDegradation); !ok {
		return nil, false
	}
	return payload, true
}

// pickBest returns the evaluated sample closest to the target: any in-band
// sample wins (smallest |shift| among them), otherwise the smallest residual
// magnitude, ties broken by smallest |shift|.
func pickBest(entries []cacheEntry) (float64, *sim.Payload, bool) {
	var best *cacheEntry
	inBand := false
	for i := range entries {
		e := &entries[i]
		if e.payload == nil {
			continue
		}
		switch {
		case e.objective == 0:
			if !inBand || math.Abs(e.shift) < math.Abs(best.shift) {
				best = e
			}
			inBand = true
		case !inBand:
			if best == nil ||
				math.Abs(e.objective) < math.Abs(best.objective) ||
				(math.Abs(e.objective) == math.Abs(best.objective) && math.Abs(e.shift) < math.Abs(best.shift)) {
				best = e
			}
		}
	}
	if best == nil {
		return 0, nil, false
	}
	return best.shift, best.payload, inBand
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
