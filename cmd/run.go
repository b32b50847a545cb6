package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cellforge/cellforge/internal/config"
	"github.com/cellforge/cellforge/internal/engine"
	"github.com/cellforge/cellforge/internal/job"
	"github.com/cellforge/cellforge/internal/optimize"
	"github.com/cellforge/cellforge/internal/report"
	"github.com/cellforge/cellforge/internal/result"
	"github.com/cellforge/cellforge/internal/runner"
	"github.com/cellforge/cellforge/internal/scheduler"
	"github.com/spf13/cobra"
)

var (
	flagCell    string
	flagSimType string
	flagThreads int
	flagEngine  string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Characterize the configured cells",
		RunE:  runCharacterization,
	}
	cmd.Flags().StringVar(&flagCell, "cell", "", "filter to a single cell")
	cmd.Flags().StringVar(&flagSimType, "sim-type", "", "filter to a single simulation type")
	cmd.Flags().IntVar(&flagThreads, "threads", 0, "override worker pool size")
	cmd.Flags().StringVar(&flagEngine, "engine", "", "override simulator engine")
	return cmd
}

func runCharacterization(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if flagThreads > 0 {
		cfg.Scheduler.Threads = flagThreads
	}
	if flagEngine != "" {
		cfg.Engine.Name = flagEngine
	}

	jobs, err := buildJobs(cfg)
	if err != nil {
		return err
	}
	jobs = filterJobs(jobs, flagCell, flagSimType)
	if len(jobs) == 0 {
		return fmt.Errorf("no jobs match the given filters")
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	invoker, err := buildInvoker(cfg)
	if err != nil {
		return err
	}

	store := result.NewStore(runDir)
	r := runner.New(runner.Opts{
		Invoker:    invoker,
		Store:      store,
		Constraint: constraintConfig(cfg),
		Width:      widthConfig(cfg),
	})

	start := time.Now()
	sched := scheduler.New(cfg.Scheduler.Threads)
	results, stats := sched.Run(jobs, r.Execute)

	summaries, err := store.Finalize()
	if err != nil {
		return fmt.Errorf("writing summaries: %w", err)
	}
	meta := &result.RunMeta{
		Engine:    cfg.Engine.Name,
		Mode:      cfg.Engine.Mode,
		Threads:   cfg.Scheduler.Threads,
		Cells:     len(summaries),
		Jobs:      len(results),
		StartedAt: start.UTC().Format(time.RFC3339),
		DurationS: int(time.Since(start).Seconds()),
	}
	if err := result.WriteRunMeta(runDir, meta); err != nil {
		return fmt.Errorf("writing run meta: %w", err)
	}

	fmt.Printf("\n%d jobs: %d completed, %d failed\n",
		stats.Submitted, stats.Completed, stats.Failed)
	fmt.Println("\n--- Results ---")
	return report.Generate(runDir, "table", os.Stdout)
}

func buildJobs(cfg *config.Config) ([]job.Job, error) {
	serial := make(map[string]bool, len(cfg.Scheduler.SerialSimTypes))
	for _, t := range cfg.Scheduler.SerialSimTypes {
		serial[strings.ToLower(t)] = true
	}

	var jobs []job.Job
	for i := range cfg.Cells {
		c := &cfg.Cells[i]
		decks, err := c.Decks()
		if err != nil {
			return nil, err
		}
		arcs := make([]job.Arc, len(c.Arcs))
		for j, a := range c.Arcs {
			arcs[j] = job.Arc{
				Pin:        a.Pin,
				Related:    a.Related,
				TimingType: a.TimingType,
				TableType:  a.TableType,
				BaseName:   a.BaseName,
			}
		}
		params := map[string]string{
			"cell_is_latch": strconv.FormatBool(c.IsLatch),
		}
		for k, v := range cfg.Params {
			params[k] = v
		}
		built, err := job.Build([]job.CellDecks{{Cell: c.Name, Decks: decks, Arcs: arcs}}, job.BuildOpts{
			SimRoot: cfg.Results.Dir,
			Params:  params,
		})
		if err != nil {
			return nil, err
		}
		for j := range built {
			if serial[built[j].SimType] {
				built[j].RequiresSerial = true
			}
			if cfg.Optimizer.InitialShiftNS != 0 {
				built[j] = built[j].WithMetadata(map[string]string{
					"constraint_initial_shift": strconv.FormatFloat(cfg.Optimizer.InitialShiftNS, 'g', -1, 64),
				})
			}
		}
		jobs = append(jobs, built...)
	}
	return jobs, nil
}

func filterJobs(jobs []job.Job, cell, simType string) []job.Job {
	if cell == "" && simType == "" {
		return jobs
	}
	var filtered []job.Job
	for _, j := range jobs {
		if cell != "" && j.Cell != cell {
			continue
		}
		if simType != "" && j.SimType != strings.ToLower(simType) {
			continue
		}
		filtered = append(filtered, j)
	}
	return filtered
}

func buildInvoker(cfg *config.Config) (engine.Invoker, error) {
	timeout := time.Duration(cfg.Engine.TimeoutMinutes) * time.Minute
	switch cfg.Engine.Mode {
	case "mock":
		return engine.NewMock(), nil
	case "docker":
		return engine.NewDocker(engine.DockerOpts{
			Engine:      cfg.Engine.Name,
			Image:       cfg.Engine.Docker.Image,
			Timeout:     timeout,
			CPULimit:    cfg.Engine.Docker.CPULimit,
			MemoryLimit: cfg.Engine.Docker.MemoryMB * 1024 * 1024,
		})
	default:
		return engine.NewHost(cfg.Engine.Name, timeout)
	}
}

func constraintConfig(cfg *config.Config) optimize.ConstraintConfig {
	out := optimize.ConstraintConfig{
		TargetRatio:   cfg.Optimizer.TargetRatio,
		MaxIterations: cfg.Optimizer.MaxIterations,
	}
	if cfg.Optimizer.SearchLowNS != 0 || cfg.Optimizer.SearchHighNS != 0 {
		out.SearchLo = cfg.Optimizer.SearchLowNS * 1e-9
		out.SearchHi = cfg.Optimizer.SearchHighNS * 1e-9
	}
	return out
}

func widthConfig(cfg *config.Config) optimize.WidthConfig {
	return optimize.WidthConfig{
		Tolerance:     cfg.Optimizer.WidthTolerance,
		MaxIterations: cfg.Optimizer.WidthIterations,
	}
}
