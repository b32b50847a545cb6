package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine    Engine     `yaml:"engine"`
	Scheduler Scheduler  `yaml:"scheduler"`
	Optimizer Optimizer  `yaml:"optimizer"`
	Cells     []Cell     `yaml:"cells"`
	Params    Parameters `yaml:"params"`
	Results   Results    `yaml:"results"`
}

type Engine struct {
	Name           string `yaml:"name"`
	Mode           string `yaml:"mode"`
	TimeoutMinutes int    `yaml:"timeout_minutes"`
	Docker         Docker `yaml:"docker"`
}

type Docker struct {
	Image    string  `yaml:"image"`
	CPULimit float64 `yaml:"cpu_limit"`
	MemoryMB int64   `yaml:"memory_mb"`
}

type Scheduler struct {
	Threads        int      `yaml:"threads"`
	SerialSimTypes []string `yaml:"serial_sim_types"`
}

// Optimizer carries search-bound overrides. Zero values mean "use the
// built-in defaults"; the optimizers fill them in.
type Optimizer struct {
	TargetRatio     float64 `yaml:"target_ratio"`
	SearchLowNS     float64 `yaml:"search_low_ns"`
	SearchHighNS    float64 `yaml:"search_high_ns"`
	InitialShiftNS  float64 `yaml:"initial_shift_ns"`
	MaxIterations   int     `yaml:"max_iterations"`
	WidthTolerance  float64 `yaml:"width_tolerance"`
	WidthIterations int     `yaml:"width_iterations"`
}

type Cell struct {
	Name     string `yaml:"name"`
	DecksDir string `yaml:"decks_dir"`
	IsLatch  bool   `yaml:"is_latch"`
	Arcs     []Arc  `yaml:"arcs"`
}

type Arc struct {
	Pin        string `yaml:"pin"`
	Related    string `yaml:"related"`
	TimingType string `yaml:"timing_type"`
	TableType  string `yaml:"table_type"`
	BaseName   string `yaml:"base_name"`
}

// Parameters are free-form key/values attached to every job's metadata
// (corner provenance, per-arc starting shifts and the like).
type Parameters map[string]string

type Results struct {
	Dir string `yaml:"dir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Engine.Name == "" {
		cfg.Engine.Name = "ngspice"
	}
	switch cfg.Engine.Mode {
	case "":
		cfg.Engine.Mode = "host"
	case "host", "docker", "mock":
	default:
		return fmt.Errorf("engine mode must be host, docker, or mock, got %q", cfg.Engine.Mode)
	}
	if cfg.Engine.Mode == "docker" && cfg.Engine.Docker.Image == "" {
		return fmt.Errorf("engine mode docker requires docker.image")
	}
	if cfg.Engine.TimeoutMinutes <= 0 {
		cfg.Engine.TimeoutMinutes = 10
	}

	if cfg.Scheduler.Threads < 1 {
		cfg.Scheduler.Threads = 1
	}
	if len(cfg.Scheduler.SerialSimTypes) == 0 {
		cfg.Scheduler.SerialSimTypes = []string{"hidden"}
	}

	if len(cfg.Cells) == 0 {
		return fmt.Errorf("no cells defined")
	}
	for i := range cfg.Cells {
		c := &cfg.Cells[i]
		if c.Name == "" {
			return fmt.Errorf("cell %d: name is required", i)
		}
		if c.DecksDir == "" {
			return fmt.Errorf("cell %q: decks_dir is required", c.Name)
		}
		for j, a := range c.Arcs {
			if a.Pin == "" {
				return fmt.Errorf("cell %q arc %d: pin is required", c.Name, j)
			}
			if a.BaseName == "" {
				return fmt.Errorf("cell %q arc %d: base_name is required", c.Name, j)
			}
		}
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}

// Decks lists a cell's deck files grouped by simulation-type subdirectory.
func (c *Cell) Decks() ([]string, error) {
	pattern := filepath.Join(c.DecksDir, "*", "*.sp")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing decks for %s: %w", c.Name, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no decks found under %s", c.DecksDir)
	}
	return paths, nil
}
