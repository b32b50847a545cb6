package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cellforge/cellforge/internal/config"
	"github.com/cellforge/cellforge/internal/job"
)

func TestFilterJobs(t *testing.T) {
	jobs := []job.Job{
		{ID: "dff:a", Cell: "dff", SimType: job.TypeSetup},
		{ID: "dff:b", Cell: "dff", SimType: job.TypeDelay},
		{ID: "inv:c", Cell: "inv", SimType: job.TypeDelay},
	}

	tests := []struct {
		name    string
		cell    string
		simType string
		want    int
	}{
		{"no filters return all", "", "", 3},
		{"cell filter", "dff", "", 2},
		{"sim type filter", "", "delay", 2},
		{"both filters", "dff", "delay", 1},
		{"case-insensitive sim type", "", "DELAY", 2},
		{"no match", "nand2", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterJobs(jobs, tt.cell, tt.simType)
			if len(got) != tt.want {
				t.Errorf("filterJobs(%q, %q) returned %d, want %d", tt.cell, tt.simType, len(got), tt.want)
			}
		})
	}
}

func TestBuildInvoker(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engine.Name = "ngspice"
	cfg.Engine.Mode = "mock"
	inv, err := buildInvoker(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Name() != "mock" {
		t.Errorf("Name() = %s, want mock", inv.Name())
	}

	cfg.Engine.Mode = "host"
	cfg.Engine.Name = "not-a-simulator"
	if _, err := buildInvoker(cfg); err == nil {
		t.Error("expected an error for an unknown engine")
	}

	cfg.Engine.Mode = "docker"
	cfg.Engine.Name = "ngspice"
	if _, err := buildInvoker(cfg); err == nil {
		t.Error("expected an error for docker mode without an image")
	}
}

func TestBuildJobsAppliesInitialShiftOverride(t *testing.T) {
	dir := t.TempDir()
	deckPath := filepath.Join(dir, "decks", "setup", "dff_setup_d_ck.sp")
	if err := os.MkdirAll(filepath.Dir(deckPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(deckPath, []byte("* deck\n.end\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	cfg.Cells = []config.Cell{{Name: "dff", DecksDir: filepath.Join(dir, "decks")}}
	cfg.Results.Dir = filepath.Join(dir, "results")
	cfg.Optimizer.InitialShiftNS = 2.5

	jobs, err := buildJobs(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("built %d jobs, want 1", len(jobs))
	}
	if got := jobs[0].Metadata["constraint_initial_shift"]; got != "2.5" {
		t.Errorf("constraint_initial_shift = %q, want 2.5", got)
	}

	// Without the override the metadata stays absent so the runner's own
	// reference-shift default applies.
	cfg.Optimizer.InitialShiftNS = 0
	jobs, err = buildJobs(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, present := jobs[0].Metadata["constraint_initial_shift"]; present {
		t.Error("override metadata attached without a configured value")
	}
}

func TestConstraintConfigOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Optimizer.TargetRatio = 1.2
	cfg.Optimizer.SearchLowNS = -5
	cfg.Optimizer.SearchHighNS = 5

	out := constraintConfig(cfg)
	if out.TargetRatio != 1.2 {
		t.Errorf("target ratio = %g", out.TargetRatio)
	}
	if out.SearchLo != -5e-9 || out.SearchHi != 5e-9 {
		t.Errorf("search bounds = [%g, %g]", out.SearchLo, out.SearchHi)
	}

	// Untouched config leaves the bounds zero so the optimizer defaults win.
	empty := constraintConfig(&config.Config{})
	if empty.SearchLo != 0 || empty.SearchHi != 0 {
		t.Errorf("empty bounds = [%g, %g], want zeros", empty.SearchLo, empty.SearchHi)
	}
}
