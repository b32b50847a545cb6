package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cellforge/cellforge/internal/config"
	"github.com/cellforge/cellforge/internal/deck"
	"github.com/cellforge/cellforge/internal/job"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and deck files without simulating",
		Long: "Load the config, match every deck to its arc, and verify that " +
			"constraint and pulse-width decks carry the stimulus parameters the " +
			"optimizers rewrite. No simulator is invoked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			jobs, err := buildJobsForValidation(cfg)
			if err != nil {
				return err
			}

			problems := 0
			for _, j := range jobs {
				if msg := checkJob(j); msg != "" {
					fmt.Printf("  %s: %s\n", j.ID, msg)
					problems++
				}
			}

			fmt.Printf("%d jobs checked, %d problems\n", len(jobs), problems)
			if problems > 0 {
				return fmt.Errorf("%d decks failed validation", problems)
			}
			return nil
		},
	}
}

// buildJobsForValidation builds jobs without creating output directories.
func buildJobsForValidation(cfg *config.Config) ([]job.Job, error) {
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
		built, err := job.Build([]job.CellDecks{{Cell: c.Name, Decks: decks, Arcs: arcs}}, job.BuildOpts{})
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, built...)
	}
	return jobs, nil
}

func checkJob(j job.Job) string {
	switch j.SimType {
	case job.TypeSetup, job.TypeHold, job.TypeRecovery, job.TypeRemoval:
		if j.Arc == nil {
			return "no arc matches this constraint deck"
		}
		tmp, err := os.MkdirTemp("", "cellforge-validate-")
		if err != nil {
			return fmt.Sprintf("creating scratch dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		p, err := deck.NewPerturber(j.DeckPath, deck.Opts{
			WorkDir:    tmp,
			Pin:        j.Arc.Pin,
			Related:    j.Arc.Related,
			TimingType: j.Arc.TimingType,
		})
		if err != nil {
			return err.Error()
		}
		if !p.Shiftable() {
			return fmt.Sprintf("no half_tran_tend stimulus expression for pins %s/%s", j.Arc.Pin, j.Arc.Related)
		}
		if _, err := p.WriteShifted(1e-12); err != nil {
			return fmt.Sprintf("shift injection: %v", err)
		}
	case job.TypeMPW:
		pin := j.Metadata["pin"]
		if j.Arc != nil {
			pin = j.Arc.Pin
		}
		if pin == "" {
			return "no pin for pulse-width deck"
		}
		tmp, err := os.MkdirTemp("", "cellforge-validate-")
		if err != nil {
			return fmt.Sprintf("creating scratch dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		if _, err := deck.NewWidthPerturber(j.DeckPath, deck.Opts{WorkDir: tmp, Pin: pin}); err != nil {
			return err.Error()
		}
	default:
		if filepath.Ext(j.DeckPath) != ".sp" {
			return "not a deck file"
		}
	}
	return ""
}
