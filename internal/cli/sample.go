package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/happyhackingspace/markov"
	"github.com/happyhackingspace/markov/internal/storage"
	"github.com/spf13/cobra"
)

func (c *CLI) newSampleCommand() *cobra.Command {
	var modelPath, outPath string
	var n int
	var seed uint64

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw labelled sequences from a model",
		Args:  cobra.NoArgs,
		Example: `  markov sample --model weather.yaml -n 10 --seed 1
  markov sample --model weather.yaml -n 500 --out data/simulated.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel(modelPath, 0)
			if err != nil {
				return err
			}
			seqs, err := markov.Simulate(m, n, seed)
			if err != nil {
				return err
			}
			f := &storage.File{Source: "simulate", Sequences: markov.ToStored(seqs)}

			if outPath != "" {
				store := storage.NewStorage(filepath.Dir(outPath))
				if err := store.WriteFile(filepath.Base(outPath), f); err != nil {
					return err
				}
				slog.Info("Sequences saved", "path", outPath, "count", len(seqs))
				return nil
			}
			output, _ := json.MarshalIndent(f, "", "  ")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return err
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect)")
	cmd.Flags().IntVarP(&n, "num", "n", 10, "Number of sequences")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().StringVar(&outPath, "out", "", "Write sequences to this file instead of stdout")
	return cmd
}
