package result

import "github.com/cellforge/cellforge/internal/job"

// CellSummary records the rollup for one characterized cell: how many arcs
// completed cleanly, how many produced a deck but no usable measurement, and
// how many failed outright.
type CellSummary struct {
	Cell      string   `json:"cell"`
	Total     int      `json:"total"`
	Completed int      `json:"completed"`
	Partial   int      `json:"partial"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed_arcs,omitempty"`
	Status    string   `json:"status"`
}

// RunMeta is written once per run directory and describes the invocation.
type RunMeta struct {
	Engine    string `json:"engine"`
	Mode      string `json:"mode"`
	Threads   int    `json:"threads"`
	Cells     int    `json:"cells"`
	Jobs      int    `json:"jobs"`
	StartedAt string `json:"started_at"`
	DurationS int    `json:"duration_s"`
}

// Summarize folds the per-job results for a single cell into a CellSummary.
// A cell is "completed" when every arc succeeded, "partial" when at least one
// did, and "skipped" when none produced a usable measurement.
func Summarize(cell string, results []job.Result) CellSummary {
	s := CellSummary{Cell: cell, Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case job.StatusCompleted:
			s.Completed++
		case job.StatusMissing:
			s.Partial++
			s.Failed = append(s.Failed, r.ArcID)
		default:
			s.Failed = append(s.Failed, r.ArcID)
		}
	}
	switch {
	case s.Total == 0 || s.Completed == 0:
		s.Status = "skipped"
	case s.Completed == s.Total:
		s.Status = "completed"
	default:
		s.Status = "partial"
	}
	return s
}
