// Package runner executes one characterization job end to end: stage the
// deck into a private work directory, run the simulator, parse the
// measurement artifact, and drive whatever optimizer the job's simulation
// type calls for.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cellforge/cellforge/internal/deck"
	"github.com/cellforge/cellforge/internal/engine"
	"github.com/cellforge/cellforge/internal/job"
	"github.com/cellforge/cellforge/internal/optimize"
	"github.com/cellforge/cellforge/internal/result"
	"github.com/cellforge/cellforge/internal/sim"
)

var errMissingMeasurement = errors.New("no measurement artifact produced")

type Opts struct {
	Invoker    engine.Invoker
	Store      *result.Store
	Constraint optimize.ConstraintConfig
	Removal    optimize.RemovalConfig
	Latch      optimize.LatchConfig
	Width      optimize.WidthConfig
}

// Runner turns jobs into results. One Runner serves a whole scheduling run;
// all per-job state lives in Execute.
type Runner struct {
	invoker       engine.Invoker
	store         *result.Store
	constraintCfg optimize.ConstraintConfig
	removalCfg    optimize.RemovalConfig
	latchCfg      optimize.LatchConfig
	widthCfg      optimize.WidthConfig
}

func New(opts Opts) *Runner {
	return &Runner{
		invoker:       opts.Invoker,
		store:         opts.Store,
		constraintCfg: opts.Constraint,
		removalCfg:    opts.Removal,
		latchCfg:      opts.Latch,
		widthCfg:      opts.Width,
	}
}

// Execute satisfies scheduler.Worker. Every call yields exactly one result;
// failures are reported in the result, never by panicking.
func (r *Runner) Execute(j job.Job) job.Result {
	start := time.Now()
	res := r.run(j)
	res.Elapsed = time.Since(start)
	if r.store != nil {
		if err := r.store.Record(res); err != nil {
			log.Printf("warning: recording result for %s: %v", j.ID, err)
		}
	}
	return res
}

func (r *Runner) run(j job.Job) job.Result {
	engineName := r.invoker.Name()

	workDir, err := prepareWorkDir(j)
	if err != nil {
		return job.Failed(j, engineName, err)
	}
	staged, err := stageDeck(j.DeckPath, workDir)
	if err != nil {
		return job.Failed(j, engineName, err)
	}

	// Constraint searches measure their first sample at a safe shift, never at
	// the raw deck's zero offset: around zero shift the degradation metric can
	// be unmeasurable, and the reference memoization requires the payload to
	// really have been simulated at the shift handed to the optimizer.
	var p *deck.Perturber
	initialShift := 0.0
	simDeck := staged
	if isConstraintSearch(j) {
		p, err = newPerturber(j, staged, workDir)
		if err != nil {
			return job.Failed(j, engineName, err)
		}
		if p.Shiftable() {
			initialShift = resolveInitialShift(j, r.referenceShift())
			if simDeck, err = p.WriteShifted(initialShift); err != nil {
				return job.Failed(j, engineName, err)
			}
		} else {
			log.Printf("warning: deck for %s carries no perturbable stimulus, skipping constraint search", j.ID)
			p = nil
		}
	}

	initial, err := r.simulate(simDeck, workDir)
	if err != nil {
		res := job.Failed(j, engineName, err)
		if errors.Is(err, errMissingMeasurement) {
			res.Status = job.StatusMissing
		}
		return res
	}

	payload, err := r.refine(j, staged, workDir, p, initialShift, initial)
	if err != nil {
		res := job.Failed(j, engineName, fmt.Errorf("optimization: %w", err))
		res.Payload = initial
		return res
	}

	annotateIndices(payload, j)

	return job.Result{
		JobID:   j.ID,
		Cell:    j.Cell,
		ArcID:   j.Metadata["arc_id"],
		SimType: j.SimType,
		Status:  job.StatusCompleted,
		Engine:  engineName,
		Payload: payload,
	}
}

// refine picks and runs the optimizer the simulation type implies. Jobs that
// need no search return the initial payload unchanged.
func (r *Runner) refine(j job.Job, deckPath, workDir string, p *deck.Perturber, initialShift float64, initial *sim.Payload) (*sim.Payload, error) {
	switch j.SimType {
	case job.TypeSetup, job.TypeHold, job.TypeRecovery:
		if p == nil {
			return initial, nil
		}
		return r.refineConstraint(j, p, initialShift, workDir, initial), nil
	case job.TypeRemoval:
		return r.refineRemoval(j, deckPath, workDir, initial)
	case job.TypeMPW:
		return r.refineWidth(j, deckPath, workDir, initial)
	default:
		return initial, nil
	}
}

func (r *Runner) refineConstraint(j job.Job, p *deck.Perturber, initialShift float64, workDir string, initial *sim.Payload) *sim.Payload {
	eval := r.evaluator(workDir)
	if isLatchJob(j) {
		opt := optimize.NewLatchOptimizer(p, eval, j.Metadata, p.Supply(1.0), r.latchCfg)
		return annotateConstraint(opt.Run(initial, initialShift), initial)
	}
	opt := optimize.NewConstraintOptimizer(p, eval, j.Metadata, r.constraintCfg)
	return annotateConstraint(opt.Run(initial, initialShift), initial)
}

func (r *Runner) refineRemoval(j job.Job, deckPath, workDir string, initial *sim.Payload) (*sim.Payload, error) {
	if j.Arc == nil {
		return initial, nil
	}
	_, hasRise := initial.Metric(sim.MetricGlitchPeakRise)
	_, hasFall := initial.Metric(sim.MetricGlitchPeakFall)
	if !hasRise && !hasFall {
		return initial, nil
	}

	p, err := newPerturber(j, deckPath, workDir)
	if err != nil {
		return nil, err
	}
	opt := optimize.NewRemovalOptimizer(p, r.evaluator(workDir), j.Metadata, p.Supply(1.0), r.removalCfg)
	return annotateConstraint(opt.Run(initial), initial), nil
}

func (r *Runner) refineWidth(j job.Job, deckPath, workDir string, initial *sim.Payload) (*sim.Payload, error) {
	pin := j.Metadata["pin"]
	if j.Arc != nil {
		pin = j.Arc.Pin
	}
	if pin == "" {
		return initial, nil
	}

	tagger := &deck.Tagger{}
	p, err := deck.NewWidthPerturber(deckPath, deck.Opts{
		WorkDir: workDir,
		Pin:     pin,
		Namer:   tagger.Tag,
	})
	if err != nil {
		// Decks without shrinkable pulse parameters keep their single-run
		// measurement.
		log.Printf("warning: pulse width search skipped for %s: %v", j.ID, err)
		return initial, nil
	}
	opt := optimize.NewWidthOptimizer(p, r.evaluator(workDir), j.Metadata, r.widthCfg)
	res := opt.Run(initial)

	payload := res.Payload
	if payload == nil {
		payload = initial
	}
	out := payload.Clone()
	out.Metrics["optimization_iterations"] = float64(res.Iterations)
	out.Metrics["optimization_converged"] = boolMetric(res.Converged)
	return out, nil
}

func newPerturber(j job.Job, deckPath, workDir string) (*deck.Perturber, error) {
	tagger := &deck.Tagger{}
	p, err := deck.NewPerturber(deckPath, deck.Opts{
		WorkDir:    workDir,
		Pin:        j.Arc.Pin,
		Related:    j.Arc.Related,
		TimingType: j.Arc.TimingType,
		Namer:      tagger.Tag,
	})
	if err != nil {
		return nil, fmt.Errorf("preparing deck perturber: %w", err)
	}
	return p, nil
}

// evaluator adapts a single simulation run to the optimizer callback. Failed
// runs come back as errors; the optimizers treat them as unusable samples.
func (r *Runner) evaluator(workDir string) optimize.Evaluator {
	return optimize.EvaluatorFunc(func(deckPath string, metadata map[string]string, control float64) (*sim.Payload, error) {
		return r.simulate(deckPath, workDir)
	})
}

func (r *Runner) simulate(deckPath, workDir string) (*sim.Payload, error) {
	if err := r.invoker.Invoke(context.Background(), deckPath, workDir); err != nil {
		return nil, err
	}
	artifact, ok := sim.LocateMeasurement(r.invoker.Name(), deckPath, workDir)
	if !ok {
		return nil, errMissingMeasurement
	}
	payload, err := sim.ReadMeasurement(artifact)
	if err != nil {
		return nil, err
	}
	// Record which logical deck produced the metrics, independent of the
	// optimizer iteration that wrote the file.
	payload.Metadata["deck"] = deck.StripTag(filepath.Base(deckPath))
	return payload, nil
}

// prepareWorkDir gives each job a private directory so optimizer iterations
// for concurrent jobs never collide.
func prepareWorkDir(j job.Job) (string, error) {
	name := j.Metadata["arc_id"]
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(j.DeckPath), filepath.Ext(j.DeckPath))
	}
	dir := filepath.Join(j.OutputDir, j.SimType, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating work dir: %w", err)
	}
	return dir, nil
}

func stageDeck(deckPath, workDir string) (string, error) {
	dst := filepath.Join(workDir, filepath.Base(deckPath))
	if dst == deckPath {
		return dst, nil
	}
	src, err := os.Open(deckPath)
	if err != nil {
		return "", fmt.Errorf("opening deck: %w", err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("staging deck: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return "", fmt.Errorf("staging deck: %w", err)
	}
	return dst, nil
}

// resolveInitialShift reads the per-arc starting shift from job metadata,
// falling back to the safe reference shift when the metadata is absent or
// unparsable. Library generators emit the value in nanoseconds; anything
// larger than a microsecond in raw form is taken as nanoseconds and scaled
// down.
func resolveInitialShift(j job.Job, fallback float64) float64 {
	raw := j.Metadata["constraint_initial_shift"]
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("warning: bad constraint_initial_shift %q for %s", raw, j.ID)
		return fallback
	}
	v = math.Abs(v)
	if v > 1e-6 {
		v *= 1e-9
	}
	return v
}

func (r *Runner) referenceShift() float64 {
	if r.constraintCfg.ReferenceShift != 0 {
		return r.constraintCfg.ReferenceShift
	}
	return optimize.DefaultReferenceShift
}

// isConstraintSearch reports whether the job's first simulation must be
// pre-shifted and the bisection search run afterwards. Removal starts from
// zero shift and is handled by its own optimizer.
func isConstraintSearch(j job.Job) bool {
	switch j.SimType {
	case job.TypeSetup, job.TypeHold, job.TypeRecovery:
		return j.Arc != nil
	}
	return false
}

func isLatchJob(j job.Job) bool {
	if j.SimType != job.TypeSetup && j.SimType != job.TypeHold {
		return false
	}
	switch strings.ToLower(j.Metadata["cell_is_latch"]) {
	case "1", "true", "yes":
	default:
		return false
	}
	return j.Metadata["table_type"] != ""
}

func annotateConstraint(res optimize.Result, initial *sim.Payload) *sim.Payload {
	payload := res.Payload
	if payload == nil {
		payload = initial
	}
	out := payload.Clone()
	out.Metrics["time_shift"] = res.BestShift
	out.Metrics["optimization_iterations"] = float64(res.Iterations)
	out.Metrics["optimization_target"] = res.Target
	out.Metrics["optimization_converged"] = boolMetric(res.Converged)
	return out
}

// annotateIndices attaches the sweep indices encoded in the arc identifier
// so downstream table assembly does not reparse filenames.
func annotateIndices(payload *sim.Payload, j job.Job) {
	if payload == nil {
		return
	}
	arcID := j.Metadata["arc_id"]
	if i1, i2, ok := job.ExtractIndices(arcID); ok {
		payload.Metrics["i1"] = float64(i1)
		payload.Metrics["i2"] = float64(i2)
	} else if i, ok := job.ExtractIndex(arcID); ok {
		payload.Metrics["i1"] = float64(i)
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
