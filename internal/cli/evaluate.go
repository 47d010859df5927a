package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/happyhackingspace/markov"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var modelPath, dataFolder string
	var simulate int
	var seed uint64

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate decoding accuracy against labelled sequences",
		Args:  cobra.NoArgs,
		Example: `  markov evaluate --model weather.yaml --data-folder data
  markov evaluate --model weather.yaml --simulate 1000 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModel(modelPath, 0)
			if err != nil {
				return err
			}

			start := time.Now()
			config := &markov.EvalConfig{Verbose: c.verbose}
			var result *markov.EvalResult
			if simulate > 0 {
				slog.Info("Evaluating on simulated sequences", "count", simulate, "seed", seed)
				seqs, err := markov.Simulate(m, simulate, seed)
				if err != nil {
					return err
				}
				result, err = markov.Evaluate(m, seqs, config)
				if err != nil {
					return err
				}
			} else {
				slog.Info("Evaluating", "data-folder", dataFolder)
				result, err = markov.EvaluateFolder(m, dataFolder, config)
				if err != nil {
					return err
				}
			}
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "State accuracy: %.1f%% (%d/%d steps)\n",
				result.StateAccuracy*100, result.StateCorrect, result.StateTotal)
			fmt.Fprintf(w, "Sequence accuracy: %.1f%% (%d/%d sequences)\n",
				result.SequenceAccuracy*100, result.SequenceCorrect, result.SequenceTotal)
			fmt.Fprintf(w, "Mean log-likelihood: %.4f\n", result.MeanLogLikelihood)
			if result.Impossible > 0 {
				fmt.Fprintf(w, "Impossible sequences: %d\n", result.Impossible)
			}
			fmt.Fprintf(w, "Macro F1: %.1f%%\n", result.MacroF1*100)
			printConfusionMatrix(w, result.Confusion, result.Classes)
			printClassReport(w, result.Confusion, result.Classes, result.Precision, result.Recall, result.F1)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect)")
	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to labelled sequence folder")
	cmd.Flags().IntVar(&simulate, "simulate", 0, "Evaluate on this many sequences sampled from the model instead")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed for --simulate")
	return cmd
}

func printClassReport(w io.Writer, confusion map[string]map[string]int, classes []string, precision, recall, f1 map[string]float64) {
	fmt.Fprintf(w, "\nPer-state metrics:\n")
	table := newTable(w)
	table.SetHeader([]string{"STATE", "PREC", "RECALL", "F1", "SUPPORT"})
	for _, cls := range classes {
		support := 0
		for _, v := range confusion[cls] {
			support += v
		}
		table.Append([]string{
			cls,
			fmt.Sprintf("%.1f%%", precision[cls]*100),
			fmt.Sprintf("%.1f%%", recall[cls]*100),
			fmt.Sprintf("%.1f%%", f1[cls]*100),
			strconv.Itoa(support),
		})
	}
	table.Render()
}

// printConfusionMatrix prints rows of true states against predicted
// columns, busiest states first.
func printConfusionMatrix(w io.Writer, confusion map[string]map[string]int, classes []string) {
	if len(confusion) == 0 {
		return
	}

	rowTotal := func(cls string) int {
		total := 0
		for _, v := range confusion[cls] {
			total += v
		}
		return total
	}
	classes = slices.Clone(classes)
	sort.SliceStable(classes, func(i, j int) bool {
		return rowTotal(classes[i]) > rowTotal(classes[j])
	})

	fmt.Fprintf(w, "\nConfusion matrix (rows=true, cols=predicted):\n")
	table := newTable(w)
	table.SetHeader(append(append([]string{""}, classes...), "TOTAL", "ACC"))

	var rows [][]string
	for _, trueClass := range classes {
		row := []string{trueClass}
		total := rowTotal(trueClass)
		for _, predClass := range classes {
			if count := confusion[trueClass][predClass]; count > 0 {
				row = append(row, strconv.Itoa(count))
			} else {
				row = append(row, ".")
			}
		}
		acc := 0.0
		if total > 0 {
			acc = float64(confusion[trueClass][trueClass]) / float64(total) * 100
		}
		rows = append(rows, append(row, strconv.Itoa(total), fmt.Sprintf("%.1f", acc)))
	}
	table.AppendBulk(rows)
	table.Render()
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")
	return table
}
