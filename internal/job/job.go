// Package job defines the unit of scheduling: one simulation deck to run for
// one cell, plus the structured outcome it produces.
package job

import (
	"time"

	"github.com/cellforge/cellforge/internal/sim"
)

// Simulation types understood by the pipeline.
const (
	TypeDelay    = "delay"
	TypeSetup    = "setup"
	TypeHold     = "hold"
	TypeRecovery = "recovery"
	TypeRemoval  = "removal"
	TypeMPW      = "mpw"
	TypeLeakage  = "leakage"
	TypeHidden   = "hidden"
	TypeMock     = "mock"
)

// Terminal result statuses.
const (
	StatusCompleted = "completed"
	StatusMissing   = "missing_measurement"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Arc is a directed timing relationship between two pins of a cell, carried
// on constraint jobs so the optimizers know which stimulus parameter to move.
type Arc struct {
	Pin        string
	Related    string
	TimingType string
	TableType  string
	BaseName   string
}

// Job is an immutable descriptor of a single simulation run. It is created
// once by the job builder and consumed exactly once by the scheduler.
type Job struct {
	ID             string
	Cell           string
	SimType        string
	DeckPath       string
	OutputDir      string
	Arc            *Arc
	Metadata       map[string]string
	RequiresSerial bool
}

// WithMetadata returns a copy of the job with extra metadata merged in.
func (j Job) WithMetadata(extra map[string]string) Job {
	merged := make(map[string]string, len(j.Metadata)+len(extra))
	for k, v := range j.Metadata {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	j.Metadata = merged
	return j
}

// Result is the structured outcome of one job. Every job submitted to the
// scheduler yields exactly one.
type Result struct {
	JobID   string        `json:"job_id"`
	Cell    string        `json:"cell"`
	ArcID   string        `json:"arc_id"`
	SimType string        `json:"sim_type"`
	Status  string        `json:"status"`
	Engine  string        `json:"engine"`
	Payload *sim.Payload  `json:"payload,omitempty"`
	Err     string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// IsSuccess reports whether the job completed with usable measurements.
func (r Result) IsSuccess() bool {
	return r.Status == StatusCompleted && r.Err == ""
}

// Failed builds a failed result for the given job.
func Failed(j Job, engine string, err error) Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Result{
		JobID:   j.ID,
		Cell:    j.Cell,
		ArcID:   j.Metadata["arc_id"],
		SimType: j.SimType,
		Status:  StatusFailed,
		Engine:  engine,
		Err:     msg,
	}
}
