package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/cellforge/cellforge/internal/config"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured cells and their decks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Printf("Engine: %s (%s)\n\n", cfg.Engine.Name, cfg.Engine.Mode)
			fmt.Println("Cells:")
			for i := range cfg.Cells {
				c := &cfg.Cells[i]
				decks, err := c.Decks()
				if err != nil {
					fmt.Printf("  - %s: %v\n", c.Name, err)
					continue
				}
				fmt.Printf("  - %s (%d decks, %d arcs)\n", c.Name, len(decks), len(c.Arcs))
				byType := map[string]int{}
				for _, d := range decks {
					byType[filepath.Base(filepath.Dir(d))]++
				}
				types := make([]string, 0, len(byType))
				for t := range byType {
					types = append(types, t)
				}
				sort.Strings(types)
				for _, t := range types {
					fmt.Printf("      %s: %d\n", t, byType[t])
				}
			}
			return nil
		},
	}
}
