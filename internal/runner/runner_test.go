package runner

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/cellforge/cellforge/internal/engine"
	"github.com/cellforge/cellforge/internal/job"
	"github.com/cellforge/cellforge/internal/result"
)

const setupDeck = `* dff setup arc
VVDD vdd 0 0.8
VD d 0 PWL(0 0 'half_tran_tend+D_t1' 0.8)
VCK ck 0 PWL(0 0 'half_tran_tend+CK_t1' 0.8)
.tran 1p 10n
.end
`

func writeSetupJob(t *testing.T) job.Job {
	t.Helper()
	dir := t.TempDir()
	deckPath := filepath.Join(dir, "decks", "setup", "dff_setup_d_ck_i1_1_i2_2.sp")
	if err := os.MkdirAll(filepath.Dir(deckPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(deckPath, []byte(setupDeck), 0o644); err != nil {
		t.Fatal(err)
	}
	return job.Job{
		ID:        "dff:dff_setup_d_ck_i1_1_i2_2",
		Cell:      "dff",
		SimType:   job.TypeSetup,
		DeckPath:  deckPath,
		OutputDir: filepath.Join(dir, "out"),
		Arc: &job.Arc{
			Pin:        "D",
			Related:    "CK",
			TimingType: "setup_rising",
			TableType:  "rise_constraint",
			BaseName:   "dff_setup_d_ck",
		},
		Metadata: map[string]string{
			"cell":     "dff",
			"arc_id":   "dff_setup_d_ck_i1_1_i2_2",
			"sim_type": "setup",
		},
	}
}

func TestExecuteSetupJobWithMockEngine(t *testing.T) {
	j := writeSetupJob(t)
	r := New(Opts{Invoker: engine.NewMock()})

	res := r.Execute(j)

	if !res.IsSuccess() {
		t.Fatalf("status = %s, err = %q", res.Status, res.Err)
	}
	if res.Engine != "mock" || res.ArcID != "dff_setup_d_ck_i1_1_i2_2" {
		t.Errorf("result = %+v", res)
	}
	for _, key := range []string{"time_shift", "optimization_iterations", "optimization_converged", "i1", "i2"} {
		if _, ok := res.Payload.Metrics[key]; !ok {
			t.Errorf("payload missing %s", key)
		}
	}
	// Provenance names the deck without its iteration tag.
	if deckName := res.Payload.Metadata["deck"]; deckName == "" || strings.HasPrefix(deckName, "iter") {
		t.Errorf("deck provenance = %q", deckName)
	}
	if res.Payload.Metrics["i1"] != 1 || res.Payload.Metrics["i2"] != 2 {
		t.Errorf("sweep indices = %g, %g", res.Payload.Metrics["i1"], res.Payload.Metrics["i2"])
	}
	// The work directory keeps the staged deck and its optimizer iterations.
	workDir := filepath.Join(j.OutputDir, "setup", "dff_setup_d_ck_i1_1_i2_2")
	entries, err := os.ReadDir(workDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Errorf("work dir holds %d entries, want staged deck plus artifacts", len(entries))
	}
}

type failingInvoker struct{ err error }

func (f *failingInvoker) Name() string { return "ngspice" }
func (f *failingInvoker) Invoke(ctx context.Context, deckPath, workDir string) error {
	return f.err
}

type silentInvoker struct{}

func (silentInvoker) Name() string { return "ngspice" }
func (silentInvoker) Invoke(ctx context.Context, deckPath, workDir string) error {
	return nil // runs "successfully" but writes no artifact
}

var deckShiftSuffix = regexp.MustCompile(`_shift_(-?[0-9.]+e[+-][0-9]+)\.sp$`)

// rampInvoker emulates a linear setup arc: it reads the shift a deck was
// written at from the deck file name and measures degradation = 100 + s*1e9.
// With failAtZero set, the zero-shift waveform yields no usable degradation,
// like a real deck whose measurement triggers misfire at the raw offset.
type rampInvoker struct {
	failAtZero bool
	decks      []string
}

func (ri *rampInvoker) Name() string { return "mock" }

func (ri *rampInvoker) shiftOf(deckPath string) float64 {
	m := deckShiftSuffix.FindStringSubmatch(filepath.Base(deckPath))
	if m == nil {
		return 0
	}
	s, _ := strconv.ParseFloat(m[1], 64)
	return s
}

func (ri *rampInvoker) Invoke(ctx context.Context, deckPath, workDir string) error {
	ri.decks = append(ri.decks, filepath.Base(deckPath))
	shift := ri.shiftOf(deckPath)
	deg := fmt.Sprintf("%g", 100+shift*1e9)
	if ri.failAtZero && shift == 0 {
		deg = "failed"
	}
	stem := strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath))
	content := fmt.Sprintf("degradation = %s\n", deg)
	return os.WriteFile(filepath.Join(workDir, stem+".measure"), []byte(content), 0o644)
}

// The first constraint simulation must happen at the calibrated shift, so
// when the metadata names the reference shift the memoized reuse really is a
// reference-shift measurement: ramp reference at 10 ns is 110, target 121.
func TestExecuteSetupReferenceFromCalibratedShift(t *testing.T) {
	j := writeSetupJob(t)
	j.Metadata["constraint_initial_shift"] = "10"
	inv := &rampInvoker{}
	r := New(Opts{Invoker: inv})

	res := r.Execute(j)

	if !res.IsSuccess() {
		t.Fatalf("status = %s, err = %q", res.Status, res.Err)
	}
	if target := res.Payload.Metrics["optimization_target"]; math.Abs(target-121) > 1e-9 {
		t.Errorf("optimization_target = %g, want 121 (1.1 x degradation at 10ns)", target)
	}
	if shift := res.Payload.Metrics["time_shift"]; math.Abs(shift-10e-9) > 1e-13 {
		t.Errorf("time_shift = %g, want the best evaluated sample at 10ns", shift)
	}
	// Initial sample at 10ns plus the low endpoint; reference and high
	// endpoint come from the cache.
	if len(inv.decks) != 2 {
		t.Errorf("simulations = %d (%v), want 2", len(inv.decks), inv.decks)
	}
}

// Without metadata the starting shift defaults to the safe reference shift;
// a deck that measures nothing at zero shift must still be optimized, and the
// raw staged deck must never be what gets simulated.
func TestExecuteSetupStartsAtSafeShift(t *testing.T) {
	j := writeSetupJob(t)
	inv := &rampInvoker{failAtZero: true}
	r := New(Opts{Invoker: inv})

	res := r.Execute(j)

	if !res.IsSuccess() {
		t.Fatalf("status = %s, err = %q", res.Status, res.Err)
	}
	if _, ok := res.Payload.Metrics["time_shift"]; !ok {
		t.Fatalf("no search performed, metrics = %v", res.Payload.Metrics)
	}
	if target := res.Payload.Metrics["optimization_target"]; math.Abs(target-121) > 1e-9 {
		t.Errorf("optimization_target = %g, want 121 from a 10ns reference", target)
	}
	for _, name := range inv.decks {
		if !strings.Contains(name, "_shift_") {
			t.Errorf("unshifted deck %s was simulated", name)
		}
		if inv.shiftOf(name) == 0 {
			t.Errorf("deck %s was simulated at zero shift", name)
		}
	}
}

// A constraint deck without perturbable stimulus expressions keeps its
// single-run measurement instead of pretending its samples were shifted.
func TestExecuteSkipsUnshiftableDeck(t *testing.T) {
	j := writeSetupJob(t)
	fixed := "* fixed stimulus\nVVDD vdd 0 0.8\nVCK ck 0 PWL(0 0 1n 0.8)\n.end\n"
	if err := os.WriteFile(j.DeckPath, []byte(fixed), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(Opts{Invoker: engine.NewMock()})

	res := r.Execute(j)

	if !res.IsSuccess() {
		t.Fatalf("status = %s, err = %q", res.Status, res.Err)
	}
	if _, ok := res.Payload.Metrics["time_shift"]; ok {
		t.Error("unshiftable deck must not report an optimized shift")
	}
}

func TestExecuteFailedSimulation(t *testing.T) {
	j := writeSetupJob(t)
	r := New(Opts{Invoker: &failingInvoker{err: fmt.Errorf("license server unreachable")}})

	res := r.Execute(j)

	if res.Status != job.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if !strings.Contains(res.Err, "license server unreachable") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestExecuteMissingMeasurement(t *testing.T) {
	j := writeSetupJob(t)
	r := New(Opts{Invoker: silentInvoker{}})

	res := r.Execute(j)

	if res.Status != job.StatusMissing {
		t.Errorf("status = %s, want %s", res.Status, job.StatusMissing)
	}
}

func TestExecuteRecordsToStore(t *testing.T) {
	j := writeSetupJob(t)
	runDir := t.TempDir()
	store := result.NewStore(runDir)
	r := New(Opts{Invoker: engine.NewMock(), Store: store})

	r.Execute(j)

	recPath := filepath.Join(result.CellDir(runDir, "dff"), "dff_setup_d_ck_i1_1_i2_2.json")
	if _, err := os.Stat(recPath); err != nil {
		t.Errorf("result record not persisted: %v", err)
	}
}

func TestResolveInitialShift(t *testing.T) {
	const fallback = 10e-9
	tests := []struct {
		name string
		j    job.Job
		want float64
	}{
		{
			"absent metadata falls back to the reference shift",
			job.Job{SimType: job.TypeSetup},
			fallback,
		},
		{
			"nanosecond-scale value is normalized",
			job.Job{SimType: job.TypeSetup, Metadata: map[string]string{"constraint_initial_shift": "2.5"}},
			2.5e-9,
		},
		{
			"second-scale value passes through",
			job.Job{SimType: job.TypeHold, Metadata: map[string]string{"constraint_initial_shift": "3e-10"}},
			3e-10,
		},
		{
			"negative value takes magnitude",
			job.Job{SimType: job.TypeSetup, Metadata: map[string]string{"constraint_initial_shift": "-1.5"}},
			1.5e-9,
		},
		{
			"garbage falls back to the reference shift",
			job.Job{SimType: job.TypeSetup, Metadata: map[string]string{"constraint_initial_shift": "soon"}},
			fallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resolveInitialShift(tt.j, fallback); got != tt.want {
				t.Errorf("resolveInitialShift() = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestIsConstraintSearch(t *testing.T) {
	arc := &job.Arc{Pin: "D", Related: "CK"}
	if !isConstraintSearch(job.Job{SimType: job.TypeSetup, Arc: arc}) {
		t.Error("setup with arc must search")
	}
	if isConstraintSearch(job.Job{SimType: job.TypeSetup}) {
		t.Error("setup without arc must not search")
	}
	if isConstraintSearch(job.Job{SimType: job.TypeRemoval, Arc: arc}) {
		t.Error("removal starts unshifted")
	}
	if isConstraintSearch(job.Job{SimType: job.TypeDelay, Arc: arc}) {
		t.Error("delay sims never search")
	}
}

func TestIsLatchJob(t *testing.T) {
	base := map[string]string{
		"cell_is_latch": "true",
		"table_type":    "rise_constraint",
	}
	j := job.Job{SimType: job.TypeSetup, Metadata: base}
	if !isLatchJob(j) {
		t.Error("latch setup job not recognized")
	}
	j.SimType = job.TypeRecovery
	if isLatchJob(j) {
		t.Error("recovery must never take the latch path")
	}
	j = job.Job{SimType: job.TypeSetup, Metadata: map[string]string{"cell_is_latch": "false", "table_type": "rise_constraint"}}
	if isLatchJob(j) {
		t.Error("non-latch cell took the latch path")
	}
	j = job.Job{SimType: job.TypeSetup, Metadata: map[string]string{"cell_is_latch": "1"}}
	if isLatchJob(j) {
		t.Error("latch path requires a table type")
	}
}
