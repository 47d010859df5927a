package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/happyhackingspace/markov"
	"github.com/happyhackingspace/markov/hmm"
	"github.com/happyhackingspace/markov/internal/storage"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// decodeResult is the JSON output for one sequence.
type decodeResult struct {
	Index         int                  `json:"index"`
	States        []string             `json:"states,omitempty"`
	LogLikelihood *float64             `json:"log_likelihood,omitempty"`
	Impossible    bool                 `json:"impossible,omitempty"`
	Marginals     []map[string]float64 `json:"marginals,omitempty"`
}

func (c *CLI) newDecodeCommand() *cobra.Command {
	var modelPath string
	var threshold float64
	var proba bool
	var workers int

	cmd := &cobra.Command{
		Use:   "decode [seqfile]",
		Short: "Decode the most likely hidden states of observation sequences",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Decode sequences from a file
  markov decode walks.json --model weather.yaml

  # Read sequences from stdin
  cat walks.json | markov decode --model weather.yaml

  # Show posterior state probabilities
  markov decode walks.json --proba --threshold 0.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seqs, err := readSequences(args)
			if err != nil {
				return err
			}
			if seqs == nil {
				return cmd.Help()
			}

			m, err := loadModel(modelPath, workers)
			if err != nil {
				return err
			}

			start := time.Now()
			results, err := decode(m, seqs, proba, threshold)
			if err != nil {
				return err
			}
			slog.Debug("Decoding completed", "sequences", len(seqs), "duration", time.Since(start))

			output, _ := json.MarshalIndent(results, "", "  ")
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
			return err
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.05, "Minimum probability threshold")
	cmd.Flags().BoolVar(&proba, "proba", false, "Show posterior state probabilities")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker goroutines (default: GOMAXPROCS)")
	return cmd
}

func (c *CLI) newLogProbCommand() *cobra.Command {
	var modelPath string
	var workers int

	cmd := &cobra.Command{
		Use:     "logprob [seqfile]",
		Short:   "Print the log-likelihood of each observation sequence",
		Args:    cobra.MaximumNArgs(1),
		Example: `  markov logprob walks.json --model weather.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			seqs, err := readSequences(args)
			if err != nil {
				return err
			}
			if seqs == nil {
				return cmd.Help()
			}

			m, err := loadModel(modelPath, workers)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, seq := range seqs {
				lp, err := m.LogLikelihood(seq)
				if err != nil {
					return fmt.Errorf("sequence %d: %w", i, err)
				}
				if _, err := fmt.Fprintf(out, "%d\t%.6f\n", i, lp); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Worker goroutines (default: GOMAXPROCS)")
	return cmd
}

func decode(m *markov.Model, seqs []markov.Sequence, proba bool, threshold float64) ([]decodeResult, error) {
	results := make([]decodeResult, len(seqs))
	var (
		keep     []int
		possible []markov.Sequence
	)
	for i, seq := range seqs {
		results[i].Index = i
		lp, err := m.LogLikelihood(seq)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", i, err)
		}
		if math.IsInf(lp, -1) {
			results[i].Impossible = true
			slog.Warn("Sequence impossible under model", "index", i)
			continue
		}
		results[i].LogLikelihood = &lp
		keep = append(keep, i)
		possible = append(possible, seq)
	}

	paths, err := m.DecodeAll(possible)
	if err != nil {
		return nil, err
	}
	for j, i := range keep {
		results[i].States = paths[j]
		if proba {
			if results[i].Marginals, err = m.Marginals(seqs[i], threshold); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

func loadModel(modelPath string, workers int) (*markov.Model, error) {
	start := time.Now()
	opts := []hmm.Option{hmm.WithLogger(slog.Default())}
	if workers > 0 {
		opts = append(opts, hmm.WithParallelism(workers))
	}

	var m *markov.Model
	var err error
	if modelPath != "" {
		slog.Debug("Loading custom model", "path", modelPath)
		m, err = markov.Load(modelPath, opts...)
	} else {
		m, err = markov.New(opts...)
	}
	if err != nil {
		return nil, err
	}
	slog.Debug("Model loaded", "states", m.States().Size(), "steps", m.Engine().NumSteps(), "duration", time.Since(start))
	return m, nil
}

// readSequences reads a sequence file from the argument or stdin. It returns
// nil without error when there is nothing to read.
func readSequences(args []string) ([]markov.Sequence, error) {
	var data []byte
	var err error
	if len(args) == 0 {
		if isStdinTerminal() {
			return nil, nil
		}
		slog.Debug("Reading from stdin")
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}

	var f storage.File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sequences: %w", err)
	}
	if len(f.Sequences) == 0 {
		return nil, fmt.Errorf("no sequences found")
	}
	return toSequences(f.Sequences), nil
}

func toSequences(stored []storage.SequenceJSON) []markov.Sequence {
	out := make([]markov.Sequence, len(stored))
	for i, sj := range stored {
		seq := markov.Sequence{Symbols: sj.Symbols, Mask: sj.Mask}
		for _, step := range sj.Observations {
			seq.Observations = append(seq.Observations, []float64(step))
		}
		out[i] = seq
	}
	return out
}

func isStdinTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
