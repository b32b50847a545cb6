package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cellforge/cellforge/internal/docker"
)

// Docker runs the simulator inside a container image with the job work
// directory bind-mounted at /workspace. Every deck it is asked to run must
// already live inside the work directory.
type Docker struct {
	engine      string
	image       string
	timeout     time.Duration
	cpuLimit    float64
	memoryLimit int64
}

type DockerOpts struct {
	Engine      string
	Image       string
	Timeout     time.Duration
	CPULimit    float64
	MemoryLimit int64
}

func NewDocker(opts DockerOpts) (*Docker, error) {
	normalized := strings.ToLower(opts.Engine)
	if _, ok := commandTemplates[normalized]; !ok {
		return nil, fmt.Errorf("unsupported engine %q (supported: %s)", opts.Engine, strings.Join(SupportedEngines(), ", "))
	}
	if opts.Image == "" {
		return nil, fmt.Errorf("docker engine mode requires an image")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Docker{
		engine:      normalized,
		image:       opts.Image,
		timeout:     opts.Timeout,
		cpuLimit:    opts.CPULimit,
		memoryLimit: opts.MemoryLimit,
	}, nil
}

func (d *Docker) Name() string { return d.engine }

func (d *Docker) Invoke(ctx context.Context, deckPath, workDir string) error {
	rel, err := filepath.Rel(workDir, deckPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("deck %s is outside work dir %s", deckPath, workDir)
	}

	cmd := buildCommand(d.engine, filepath.Join("/workspace", rel), "/workspace")
	res, err := docker.RunSimulator(ctx, &docker.RunOpts{
		Image:       d.image,
		Command:     cmd,
		WorkDir:     workDir,
		Timeout:     d.timeout,
		CPULimit:    d.cpuLimit,
		MemoryLimit: d.memoryLimit,
	})
	if err != nil {
		return fmt.Errorf("engine %s container: %w", d.engine, err)
	}
	if res.TimedOut {
		return fmt.Errorf("engine %s timed out on %s", d.engine, deckPath)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("engine %s exited %d on %s", d.engine, res.ExitCode, deckPath)
	}
	return nil
}
