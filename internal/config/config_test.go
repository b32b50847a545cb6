package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cellforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
cells:
  - name: dff
    decks_dir: /tmp/decks/dff
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Name != "ngspice" {
		t.Errorf("engine = %s, want ngspice", cfg.Engine.Name)
	}
	if cfg.Engine.Mode != "host" {
		t.Errorf("mode = %s, want host", cfg.Engine.Mode)
	}
	if cfg.Engine.TimeoutMinutes != 10 {
		t.Errorf("timeout = %d, want 10", cfg.Engine.TimeoutMinutes)
	}
	if cfg.Scheduler.Threads != 1 {
		t.Errorf("threads = %d, want 1", cfg.Scheduler.Threads)
	}
	if cfg.Results.Dir != "results" {
		t.Errorf("results dir = %s, want results", cfg.Results.Dir)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  name: hspice
  mode: docker
  timeout_minutes: 30
  docker:
    image: eda/hspice:2024.1
    cpu_limit: 2.5
    memory_mb: 4096
scheduler:
  threads: 8
  serial_sim_types: [leakage, hidden]
optimizer:
  target_ratio: 1.2
  search_low_ns: -5
  search_high_ns: 5
cells:
  - name: dff
    decks_dir: /tmp/decks/dff
    is_latch: false
    arcs:
      - pin: D
        related: CK
        timing_type: setup_rising
        table_type: rise_constraint
        base_name: dff_setup_d_ck
params:
  corner: tt_0p80v_25c
results:
  dir: /tmp/results
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Docker.Image != "eda/hspice:2024.1" {
		t.Errorf("docker image = %s", cfg.Engine.Docker.Image)
	}
	if cfg.Scheduler.Threads != 8 || len(cfg.Scheduler.SerialSimTypes) != 2 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Optimizer.TargetRatio != 1.2 {
		t.Errorf("target ratio = %g", cfg.Optimizer.TargetRatio)
	}
	if cfg.Cells[0].Arcs[0].Pin != "D" {
		t.Errorf("arc = %+v", cfg.Cells[0].Arcs[0])
	}
	if cfg.Params["corner"] != "tt_0p80v_25c" {
		t.Errorf("params = %v", cfg.Params)
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"no cells",
			`engine: {name: ngspice}`,
			"no cells defined",
		},
		{
			"cell without decks dir",
			"cells:\n  - name: dff\n",
			"decks_dir is required",
		},
		{
			"arc without pin",
			"cells:\n  - name: dff\n    decks_dir: /tmp/d\n    arcs:\n      - base_name: x\n",
			"pin is required",
		},
		{
			"bad engine mode",
			"engine:\n  mode: cloud\ncells:\n  - name: dff\n    decks_dir: /tmp/d\n",
			"engine mode",
		},
		{
			"docker mode without image",
			"engine:\n  mode: docker\ncells:\n  - name: dff\n    decks_dir: /tmp/d\n",
			"requires docker.image",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want contains %q", err, tt.wantErr)
			}
		})
	}
}

func TestCellDecksGlob(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"setup/a.sp", "delay/b.sp", "delay/ignore.txt"} {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("*\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	c := Cell{Name: "dff", DecksDir: dir}
	decks, err := c.Decks()
	if err != nil {
		t.Fatal(err)
	}
	if len(decks) != 2 {
		t.Errorf("found %d decks, want 2: %v", len(decks), decks)
	}

	empty := Cell{Name: "none", DecksDir: t.TempDir()}
	if _, err := empty.Decks(); err == nil {
		t.Error("expected an error for a cell without decks")
	}
}
