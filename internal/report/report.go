package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/cellforge/cellforge/internal/result"
)

type CellRow struct {
	Cell      string  `json:"cell"`
	Arcs      int     `json:"arcs"`
	Completed int     `json:"completed"`
	Partial   int     `json:"partial"`
	PassRate  float64 `json:"pass_rate"`
	Status    string  `json:"status"`
}

// Generate reads per-cell summaries from a run directory and renders them in
// the requested format.
func Generate(runDir, format string, w io.Writer) error {
	summaries, err := result.ReadSummaries(runDir)
	if err != nil {
		return err
	}
	rows := aggregate(summaries)

	switch format {
	case "markdown":
		return writeMarkdown(rows, w)
	case "json":
		return writeJSON(rows, w)
	default:
		return writeTable(rows, w)
	}
}

func aggregate(summaries []result.CellSummary) []CellRow {
	rows := make([]CellRow, 0, len(summaries))
	for _, s := range summaries {
		row := CellRow{
			Cell:      s.Cell,
			Arcs:      s.Total,
			Completed: s.Completed,
			Partial:   s.Partial,
			Status:    s.Status,
		}
		if s.Total > 0 {
			row.PassRate = float64(s.Completed) / float64(s.Total)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Cell < rows[j].Cell
	})
	return rows
}

func writeTable(rows []CellRow, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CELL\tARCS\tCOMPLETED\tPARTIAL\tPASS RATE\tSTATUS")
	fmt.Fprintln(tw, strings.Repeat("-", 64))
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.0f%%\t%s\n",
			r.Cell, r.Arcs, r.Completed, r.Partial, r.PassRate*100, r.Status)
	}
	return tw.Flush()
}

func writeMarkdown(rows []CellRow, w io.Writer) error {
	fmt.Fprintln(w, "| Cell | Arcs | Completed | Partial | Pass Rate | Status |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, r := range rows {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %.0f%% | %s |\n",
			r.Cell, r.Arcs, r.Completed, r.Partial, r.PassRate*100, r.Status)
	}
	return nil
}

func writeJSON(rows []CellRow, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}
