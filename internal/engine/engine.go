// Package engine invokes an external circuit simulator for one deck at a
// time. The command syntax is pluggable per engine; the pipeline treats every
// invocation as an opaque, expensive, possibly-failing process run.
package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Invoker runs one simulation of a deck inside a work directory. The deck's
// measurement artifacts are expected to land next to the deck or in the work
// directory; collecting them is the caller's concern.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, deckPath, workDir string) error
}

// commandTemplates maps engine names to their invocation syntax. {deck} and
// {workdir} are substituted per run.
var commandTemplates = map[string][]string{
	"hspice":  {"hspice", "-i", "{deck}", "-o", "{workdir}"},
	"spectre": {"spectre", "{deck}", "-outdir", "{workdir}"},
	"ngspice": {"ngspice", "-b", "{deck}"},
}

// SupportedEngines returns the engines a Host invoker can run.
func SupportedEngines() []string {
	return []string{"hspice", "ngspice", "spectre"}
}

// Host runs the simulator binary directly on the host.
type Host struct {
	engine  string
	timeout time.Duration
}

// NewHost returns a host invoker for the named engine.
func NewHost(name string, timeout time.Duration) (*Host, error) {
	normalized := strings.ToLower(name)
	if _, ok := commandTemplates[normalized]; !ok {
		return nil, fmt.Errorf("unsupported engine %q (supported: %s)", name, strings.Join(SupportedEngines(), ", "))
	}
	return &Host{engine: normalized, timeout: timeout}, nil
}

func (h *Host) Name() string { return h.engine }

// Invoke blocks for the duration of the simulator run. A timeout kills the
// process and surfaces as an error, identical to any other failed run.
func (h *Host) Invoke(ctx context.Context, deckPath, workDir string) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	args := buildCommand(h.engine, deckPath, workDir)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = workDir
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("engine %s timed out on %s", h.engine, deckPath)
		}
		return fmt.Errorf("engine %s failed on %s: %w", h.engine, deckPath, err)
	}
	return nil
}

func buildCommand(engine, deckPath, workDir string) []string {
	template := commandTemplates[engine]
	out := make([]string, len(template))
	for i, part := range template {
		part = strings.ReplaceAll(part, "{deck}", deckPath)
		part = strings.ReplaceAll(part, "{workdir}", workDir)
		out[i] = part
	}
	return out
}
