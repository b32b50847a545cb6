package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CellDecks groups the generated deck files of one cell with the timing arcs
// that produced them.
type CellDecks struct {
	Cell  string
	Decks []string
	Arcs  []Arc
}

// BuildOpts carries pipeline-level parameters attached to every job's
// metadata (search-bound overrides, voltage/temperature provenance and the
// like).
type BuildOpts struct {
	SimRoot string
	Params  map[string]string
}

// Build turns generated deck files into jobs. The simulation type comes from
// each deck's parent directory name, arc metadata is attached by base-name
// matching, and every job gets its own output directory per cell.
func Build(cells []CellDecks, opts BuildOpts) ([]Job, error) {
	var jobs []Job
	for _, cell := range cells {
		for _, path := range cell.Decks {
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil, fmt.Errorf("resolving deck %s: %w", path, err)
			}
			stem := deckStem(abs)
			simType := strings.ToLower(filepath.Base(filepath.Dir(abs)))

			outputDir := filepath.Dir(filepath.Dir(abs))
			if opts.SimRoot != "" {
				outputDir = filepath.Join(opts.SimRoot, cell.Cell)
				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					return nil, fmt.Errorf("creating cell dir: %w", err)
				}
			}

			metadata := map[string]string{
				"cell":     cell.Cell,
				"arc_id":   stem,
				"sim_type": simType,
			}
			arc := MatchArc(stem, cell.Arcs)
			if arc != nil {
				metadata["pin"] = arc.Pin
				metadata["related"] = arc.Related
				metadata["timing_type"] = arc.TimingType
				metadata["table_type"] = arc.TableType
			}
			for k, v := range opts.Params {
				if _, present := metadata[k]; !present {
					metadata[k] = v
				}
			}

			jobs = append(jobs, Job{
				ID:        cell.Cell + ":" + stem,
				Cell:      cell.Cell,
				SimType:   simType,
				DeckPath:  abs,
				OutputDir: outputDir,
				Arc:       arc,
				Metadata:  metadata,
			})
		}
	}
	return jobs, nil
}

func deckStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
