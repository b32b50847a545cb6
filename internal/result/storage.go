package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cellforge/cellforge/internal/job"
)

// CreateRunDir makes a timestamped directory under baseDir/runs and points
// baseDir/latest at it.
func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

func CellDir(runDir, cell string) string {
	return filepath.Join(runDir, "cells", cell)
}

// Store collects job results as they finish and persists them under a run
// directory. Safe for concurrent use by scheduler workers.
type Store struct {
	runDir string

	mu     sync.Mutex
	byCell map[string][]job.Result
}

func NewStore(runDir string) *Store {
	return &Store{runDir: runDir, byCell: make(map[string][]job.Result)}
}

// Record persists one job result as cells/<cell>/<arc>.json and keeps it for
// the per-cell summary.
func (s *Store) Record(r job.Result) error {
	s.mu.Lock()
	s.byCell[r.Cell] = append(s.byCell[r.Cell], r)
	s.mu.Unlock()

	dir := CellDir(s.runDir, r.Cell)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cell dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	name := r.ArcID
	if name == "" {
		name = r.JobID
	}
	return os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644)
}

// Finalize writes summary.json into each cell directory and returns the
// summaries sorted by cell name.
func (s *Store) Finalize() ([]CellSummary, error) {
	s.mu.Lock()
	cells := make([]string, 0, len(s.byCell))
	for c := range s.byCell {
		cells = append(cells, c)
	}
	sort.Strings(cells)
	summaries := make([]CellSummary, 0, len(cells))
	for _, c := range cells {
		summaries = append(summaries, Summarize(c, s.byCell[c]))
	}
	s.mu.Unlock()

	for _, sum := range summaries {
		data, err := json.MarshalIndent(sum, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling summary: %w", err)
		}
		path := filepath.Join(CellDir(s.runDir, sum.Cell), "summary.json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing summary: %w", err)
		}
	}
	return summaries, nil
}

func WriteRunMeta(runDir string, meta *RunMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run meta: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, "meta.json"), data, 0o644)
}

func ReadRunMeta(path string) (*RunMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run meta: %w", err)
	}
	var meta RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing run meta: %w", err)
	}
	return &meta, nil
}

// ReadSummaries loads every cells/<cell>/summary.json under runDir.
func ReadSummaries(runDir string) ([]CellSummary, error) {
	pattern := filepath.Join(runDir, "cells", "*", "summary.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing summaries: %w", err)
	}
	sort.Strings(paths)
	var out []CellSummary
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		var sum CellSummary
		if err := json.Unmarshal(data, &sum); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
		out = append(out, sum)
	}
	return out, nil
}
