package optimize

import (
	"testing"

	"github.com/cellforge/cellforge/internal/sim"
)

func latchPayload(finalQ, peakRise, peakFall float64) *sim.Payload {
	p := sim.NewPayload()
	p.Metrics[sim.MetricConstraint] = 0.1
	p.Metrics[sim.MetricFinalQ] = finalQ
	p.Metrics[sim.MetricGlitchPeakRise] = peakRise
	p.Metrics[sim.MetricGlitchPeakFall] = peakFall
	return p
}

func latchMetadata() map[string]string {
	return map[string]string{
		"table_type": "rise_constraint",
		"sim_type":   "setup",
	}
}

// latchEval captures high and stays stable once the shift clears boundary.
func latchEval(boundary float64) Evaluator {
	return EvaluatorFunc(func(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error) {
		if control >= boundary {
			return latchPayload(0.8, 0.82, 0.78), nil
		}
		return latchPayload(0.1, 0.3, 0.05), nil
	})
}

func TestLatchShrinksToPassBoundary(t *testing.T) {
	const boundary = 2e-9
	opt := NewLatchOptimizer(newTestPerturber(t), latchEval(boundary), latchMetadata(), 0.8, LatchConfig{})

	res := opt.Run(latchPayload(0.8, 0.82, 0.78), 10e-9)

	if !res.Converged {
		t.Fatal("expected convergence")
	}
	if res.BestShift < boundary-1e-12 || res.BestShift > boundary+1e-10 {
		t.Errorf("best shift = %g, want just above %g", res.BestShift, boundary)
	}
	if finalQ, _ := res.Payload.Metric(sim.MetricFinalQ); finalQ != 0.8 {
		t.Errorf("payload final Q = %g, want a passing sample", finalQ)
	}
}

func TestLatchReusesInitialForUpperEndpoint(t *testing.T) {
	calls := 0
	eval := EvaluatorFunc(func(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error) {
		calls++
		return latchPayload(0.8, 0.82, 0.78), nil
	})
	opt := NewLatchOptimizer(newTestPerturber(t), eval, latchMetadata(), 0.8, LatchConfig{})

	// Every evaluation passes, so the lower endpoint wins after a single
	// simulation; the initial sample covers the upper one.
	res := opt.Run(latchPayload(0.8, 0.82, 0.78), 10e-9)

	if !res.Converged {
		t.Fatal("expected convergence")
	}
	if res.BestShift != -10e-9 {
		t.Errorf("best shift = %g, want the lower endpoint", res.BestShift)
	}
	if res.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", res.Iterations)
	}
	if calls != 1 {
		t.Errorf("evaluator called %d times, want 1", calls)
	}
}

func TestLatchFailingUpperEndpoint(t *testing.T) {
	eval := EvaluatorFunc(func(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error) {
		return latchPayload(0.1, 0.3, 0.05), nil
	})
	opt := NewLatchOptimizer(newTestPerturber(t), eval, latchMetadata(), 0.8, LatchConfig{})

	res := opt.Run(latchPayload(0.8, 0.82, 0.78), 0)

	if res.Converged {
		t.Error("expected no convergence when the safe shift fails")
	}
	if res.BestShift != DefaultSearchHi {
		t.Errorf("best shift = %g, want the upper endpoint", res.BestShift)
	}
	if res.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", res.Iterations)
	}
}

func TestLatchRequiresTableType(t *testing.T) {
	initial := latchPayload(0.8, 0.82, 0.78)
	opt := NewLatchOptimizer(newTestPerturber(t), latchEval(0), map[string]string{
		"sim_type": "setup",
	}, 0.8, LatchConfig{})

	res := opt.Run(initial, 0)

	if res.Converged || res.BestShift != 0 || res.Iterations != 0 {
		t.Errorf("got %+v, want an untouched unconverged result", res)
	}
	if res.Payload != initial {
		t.Error("expected the initial payload back")
	}
}

func TestLatchExpectedFinalBit(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		want     bool
		wantOK   bool
	}{
		{
			"setup captures rising data high",
			map[string]string{"table_type": "rise_constraint", "sim_type": "setup"},
			true, true,
		},
		{
			"hold keeps pre-transition value low for rising data",
			map[string]string{"table_type": "rise_constraint", "sim_type": "hold"},
			false, true,
		},
		{
			"setup captures falling data low",
			map[string]string{"table_type": "fall_constraint", "sim_type": "setup"},
			false, true,
		},
		{
			"inverted output flips the captured value",
			map[string]string{"table_type": "rise_constraint", "sim_type": "setup", "primary_output_is_negative": "true"},
			false, true,
		},
		{
			"unknown table type yields no expectation",
			map[string]string{"table_type": "cell_rise", "sim_type": "setup"},
			false, false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := NewLatchOptimizer(newTestPerturber(t), latchEval(0), tt.metadata, 0.8, LatchConfig{})
			got, ok := opt.expectedFinalBit()
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("expectedFinalBit() = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLatchPassesRejectsGlitches(t *testing.T) {
	opt := NewLatchOptimizer(newTestPerturber(t), latchEval(0), latchMetadata(), 0.8, LatchConfig{})
	logicThreshold, glitchThreshold := 0.4, 0.08

	stable := latchPayload(0.8, 0.82, 0.78)
	if !opt.passes(stable, true, logicThreshold, glitchThreshold) {
		t.Error("stable high output must pass")
	}

	glitchy := latchPayload(0.8, 0.82, 0.5)
	if opt.passes(glitchy, true, logicThreshold, glitchThreshold) {
		t.Error("output dipping to half supply must fail the stability check")
	}

	wrongValue := latchPayload(0.1, 0.12, 0.08)
	if opt.passes(wrongValue, true, logicThreshold, glitchThreshold) {
		t.Error("low output must fail when high is expected")
	}

	missing := sim.NewPayload()
	if opt.passes(missing, true, logicThreshold, glitchThreshold) {
		t.Error("payload without metrics must fail")
	}
}
