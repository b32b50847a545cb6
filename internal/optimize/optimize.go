// Package optimize discovers constraint boundaries by repeatedly perturbing a
// stimulus parameter, re-running the simulator, and bisecting on an acceptance
// criterion. The simulator is an opaque, expensive, possibly-failing function
// behind the Evaluator interface; every optimizer tolerates crashed runs,
// missing measurements, and NaN metrics without raising.
package optimize

import (
	"math"

	"github.com/cellforge/cellforge/internal/sim"
)

// Evaluator runs one simulation of a perturbed deck and returns its parsed
// measurements. control is the perturbation value the deck encodes (a time
// shift or a pulse width, in seconds); implementations may use it for
// bookkeeping but must derive behavior from the deck alone.
type Evaluator interface {
	Evaluate(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error)
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error) {
	return f(deckPath, metadata, control)
}

// Result summarizes one constraint optimization run.
type Result struct {
	Payload    *sim.Payload
	BestShift  float64
	Iterations int
	Target     float64
	Converged  bool
}

// WidthResult summarizes one pulse-width optimization run.
type WidthResult struct {
	Payload     *sim.Payload
	BestWidthNS float64
	Iterations  int
	Converged   bool
}

// cacheEntry is one evaluated control value. A nil payload records a failed
// evaluation so it is never retried.
type cacheEntry struct {
	shift     float64
	objective float64
	payload   *sim.Payload
}

// evalCache is a small linear-scan cache keyed by control value. Two values
// within tolerance of each other are treated as identical, so re-evaluating a
// cached shift never triggers a second simulation.
type evalCache struct {
	tolerance float64
	entries   []cacheEntry
}

func (c *evalCache) lookup(shift float64) (cacheEntry, bool) {
	for _, e := range c.entries {
		if math.Abs(e.shift-shift) <= c.tolerance {
			return e, true
		}
	}
	return cacheEntry{}, false
}

func (c *evalCache) store(shift, objective float64, payload *sim.Payload) {
	c.entries = append(c.entries, cacheEntry{shift: shift, objective: objective, payload: payload})
}
