// Package scheduler dispatches independent simulation jobs to a bounded
// worker pool. Jobs flagged serial run one at a time in submission order;
// everything else is sorted by a priority weight and run concurrently.
package scheduler

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cellforge/cellforge/internal/job"
)

// Worker executes one job fully, including any optimizer loop it implies.
// Supplied by the caller so the scheduler stays decoupled from simulation
// mechanics.
type Worker func(job.Job) job.Result

// Stats counts job outcomes for one scheduling run.
type Stats struct {
	Submitted int
	Completed int
	Failed    int
}

// Scheduler runs jobs with at most maxWorkers in flight.
type Scheduler struct {
	maxWorkers int
}

// New returns a scheduler with the given pool size, floored at one worker.
func New(maxWorkers int) *Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Scheduler{maxWorkers: maxWorkers}
}

// Weight returns the scheduling priority of a job. Constraint searches are
// the most expensive (each fans out into an optimizer loop of simulations),
// so they are dispatched first.
func Weight(j job.Job) int {
	timingType := ""
	tableType := ""
	if j.Arc != nil {
		timingType = strings.ToLower(j.Arc.TimingType)
		tableType = strings.ToLower(j.Arc.TableType)
	} else {
		if w, err := strconv.Atoi(j.Metadata["weight"]); err == nil {
			return w
		}
		timingType = strings.ToLower(j.SimType)
	}

	for _, key := range []string{"setup", "hold", "recovery", "removal", "non_seq_setup", "non_seq_hold"} {
		if strings.Contains(timingType, key) {
			return 4
		}
	}
	if timingType == "min_pulse_width" || tableType == "min_pulse_width" || timingType == job.TypeMPW {
		return 3
	}
	switch tableType {
	case "rise_transition", "fall_transition", "input_capacitance":
		return 2
	}
	return 1
}

// Run executes every job exactly once and returns one result per job ID.
// A worker panic or error never aborts the run; it becomes a failed result
// for that job alone.
func (s *Scheduler) Run(jobs []job.Job, worker Worker) (map[string]job.Result, Stats) {
	results := make(map[string]job.Result, len(jobs))

	var parallel []job.Job
	serialCount := 0
	for _, j := range jobs {
		if j.RequiresSerial {
			serialCount++
			results[j.ID] = s.runOne(j, worker)
		} else {
			parallel = append(parallel, j)
		}
	}

	fmt.Printf("Dispatching %d jobs (parallel=%d, serial=%d) with %d workers\n",
		len(jobs), len(parallel), serialCount, s.maxWorkers)

	for id, r := range s.runParallel(parallel, worker) {
		results[id] = r
	}

	stats := Stats{Submitted: len(jobs)}
	for _, r := range results {
		if r.Status == job.StatusFailed {
			stats.Failed++
		} else {
			stats.Completed++
		}
	}
	return results, stats
}

func (s *Scheduler) runParallel(jobs []job.Job, worker Worker) map[string]job.Result {
	if len(jobs) == 0 {
		return nil
	}

	ordered := make([]job.Job, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return Weight(ordered[i]) > Weight(ordered[j])
	})

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]job.Result, len(ordered))
	)
	sem := make(chan struct{}, s.maxWorkers)

	// Acquire the semaphore in the submission loop so dispatch order follows
	// the weight ordering even under contention.
	for _, j := range ordered {
		wg.Add(1)
		sem <- struct{}{}
		go func(j job.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			r := s.runOne(j, worker)
			mu.Lock()
			results[j.ID] = r
			mu.Unlock()
		}(j)
	}
	wg.Wait()
	return results
}

// runOne isolates worker panics so a single bad job cannot take down the
// pool.
func (s *Scheduler) runOne(j job.Job, worker Worker) (result job.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("warning: job %s panicked: %v", j.ID, r)
			result = job.Failed(j, "", fmt.Errorf("worker panic: %v", r))
		}
	}()
	return worker(j)
}
