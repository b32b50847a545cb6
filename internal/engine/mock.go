package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mock emulates a simulator without external tools: instead of running a
// process it writes a deterministic measurement file for the deck, so the
// rest of the pipeline (artifact location, parsing, optimization plumbing)
// exercises its real code paths.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Invoke(ctx context.Context, deckPath, workDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stem := strings.TrimSuffix(filepath.Base(deckPath), filepath.Ext(deckPath))
	content := fmt.Sprintf(
		"degradation = %g\nconstraint = %g\nfinal_q = %g\nglitch_peak_rise = %g\nglitch_peak_fall = %g\npulse_width = %g\n",
		1.0, 0.1, 1.0, 1.0, 1.0, 1.0,
	)
	path := filepath.Join(workDir, stem+".measure")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing mock measurement: %w", err)
	}
	return nil
}
