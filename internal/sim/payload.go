package sim

import "math"

// Well-known metric keys produced by the measurement readers and consumed by
// the optimizers. Anything else in Metrics is passthrough provenance data.
const (
	MetricDegradation    = "degradation"
	MetricConstraint     = "constraint"
	MetricFinalQ         = "final_q"
	MetricHalfWindowQ    = "half_tran_tend_q"
	MetricGlitchPeakRise = "glitch_peak_rise"
	MetricGlitchPeakFall = "glitch_peak_fall"
	MetricPulseWidth     = "pulse_width"
)

// Payload is the flat record of named numeric metrics plus artifact paths and
// provenance metadata communicated between a simulation run and an optimizer.
// Payloads are never mutated in place: each evaluation produces a new one.
type Payload struct {
	Metrics   map[string]float64 `json:"metrics"`
	Artifacts map[string]string  `json:"artifacts"`
	Metadata  map[string]string  `json:"metadata"`
}

// NewPayload returns an empty payload with all maps allocated.
func NewPayload() *Payload {
	return &Payload{
		Metrics:   map[string]float64{},
		Artifacts: map[string]string{},
		Metadata:  map[string]string{},
	}
}

// Metric returns the named metric. The second return is false when the metric
// is absent or NaN, so callers must handle the failure path explicitly.
func (p *Payload) Metric(name string) (float64, bool) {
	if p == nil || p.Metrics == nil {
		return 0, false
	}
	v, ok := p.Metrics[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Clone returns a deep copy of the payload.
func (p *Payload) Clone() *Payload {
	out := NewPayload()
	if p == nil {
		return out
	}
	for k, v := range p.Metrics {
		out.Metrics[k] = v
	}
	for k, v := range p.Artifacts {
		out.Artifacts[k] = v
	}
	for k, v := range p.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// Merge returns a new payload holding base overlaid with over. Neither input
// is modified.
func Merge(base, over *Payload) *Payload {
	out := base.Clone()
	if over == nil {
		return out
	}
	for k, v := range over.Metrics {
		out.Metrics[k] = v
	}
	for k, v := range over.Artifacts {
		out.Artifacts[k] = v
	}
	for k, v := range over.Metadata {
		out.Metadata[k] = v
	}
	return out
}
