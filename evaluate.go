package markov

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/happyhackingspace/markov/internal/storage"
)

// LabeledSequence is a sequence with its true hidden states.
type LabeledSequence struct {
	Sequence
	States []string
}

// EvalConfig holds configuration for evaluation.
type EvalConfig struct {
	Verbose bool
}

// EvalResult holds decoding accuracy against labelled sequences.
type EvalResult struct {
	StateAccuracy    float64
	SequenceAccuracy float64
	StateCorrect     int
	StateTotal       int
	SequenceCorrect  int
	SequenceTotal    int

	// MeanLogLikelihood is the average log p(sequence); impossible
	// sequences are counted in Impossible and left out of the average.
	MeanLogLikelihood float64
	Impossible        int

	Confusion map[string]map[string]int // true state -> predicted state -> count
	Classes   []string
	Precision map[string]float64
	Recall    map[string]float64
	F1        map[string]float64
	MacroF1   float64
}

// Evaluate decodes every sequence and compares the posterior mode with the
// labelled states. Masked steps are not scored.
func Evaluate(m *Model, sequences []LabeledSequence, config *EvalConfig) (*EvalResult, error) {
	verbose := config != nil && config.Verbose
	if len(sequences) == 0 {
		return nil, fmt.Errorf("markov: no sequences to evaluate")
	}

	seqs := make([]Sequence, len(sequences))
	for i, ls := range sequences {
		if len(ls.States) != m.engine.NumSteps() {
			return nil, fmt.Errorf("%w %d: %d labels, model has %d steps", ErrSequence, i, len(ls.States), m.engine.NumSteps())
		}
		for t, s := range ls.States {
			if m.states.Get(s) < 0 {
				return nil, fmt.Errorf("%w %d: unknown state %q at step %d", ErrSequence, i, s, t)
			}
		}
		seqs[i] = ls.Sequence
	}

	// Impossible sequences have no mode; decode the others as one batch.
	var (
		keep     []int
		logLik   float64
		possible []Sequence
	)
	result := &EvalResult{Confusion: make(map[string]map[string]int)}
	for i, seq := range seqs {
		lp, err := m.LogLikelihood(seq)
		if err != nil {
			return nil, err
		}
		if math.IsInf(lp, -1) {
			result.Impossible++
			if verbose {
				slog.Warn("Sequence impossible under model", "index", i)
			}
			continue
		}
		logLik += lp
		keep = append(keep, i)
		possible = append(possible, seq)
	}
	paths, err := m.DecodeAll(possible)
	if err != nil {
		return nil, err
	}

	for j, i := range keep {
		truth, pred := sequences[i], paths[j]
		allCorrect := true
		for t := range truth.States {
			if len(truth.Mask) > 0 && truth.Mask[t] {
				continue
			}
			if result.Confusion[truth.States[t]] == nil {
				result.Confusion[truth.States[t]] = make(map[string]int)
			}
			result.Confusion[truth.States[t]][pred[t]]++
			if pred[t] == truth.States[t] {
				result.StateCorrect++
			} else {
				allCorrect = false
			}
			result.StateTotal++
		}
		if allCorrect {
			result.SequenceCorrect++
		}
		result.SequenceTotal++
	}

	if result.StateTotal > 0 {
		result.StateAccuracy = float64(result.StateCorrect) / float64(result.StateTotal)
	}
	if result.SequenceTotal > 0 {
		result.SequenceAccuracy = float64(result.SequenceCorrect) / float64(result.SequenceTotal)
		result.MeanLogLikelihood = logLik / float64(result.SequenceTotal)
	}
	result.Classes = append([]string(nil), m.states.ToStr...)
	result.Precision, result.Recall, result.F1, result.MacroF1 = classMetrics(result.Confusion, result.Classes)
	return result, nil
}

func classMetrics(confusion map[string]map[string]int, classes []string) (precision, recall, f1 map[string]float64, macroF1 float64) {
	precision = make(map[string]float64, len(classes))
	recall = make(map[string]float64, len(classes))
	f1 = make(map[string]float64, len(classes))

	for _, cls := range classes {
		tp := confusion[cls][cls]
		predicted, actual := 0, 0
		for _, row := range confusion {
			predicted += row[cls]
		}
		for _, v := range confusion[cls] {
			actual += v
		}
		if predicted > 0 {
			precision[cls] = float64(tp) / float64(predicted)
		}
		if actual > 0 {
			recall[cls] = float64(tp) / float64(actual)
		}
		if p, r := precision[cls], recall[cls]; p+r > 0 {
			f1[cls] = 2 * p * r / (p + r)
		}
		macroF1 += f1[cls]
	}
	if len(classes) > 0 {
		macroF1 /= float64(len(classes))
	}
	return precision, recall, f1, macroF1
}

// EvaluateFolder evaluates the labelled sequences of a data folder.
func EvaluateFolder(m *Model, dataDir string, config *EvalConfig) (*EvalResult, error) {
	verbose := config != nil && config.Verbose

	store := storage.NewStorage(dataDir)
	opts := storage.DefaultIterOptions()
	opts.Verbose = verbose
	records, err := store.IterSequences(opts)
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("markov: no labelled sequences found in %s", dataDir)
	}
	return Evaluate(m, FromRecords(records), config)
}

// Simulate draws n labelled sequences from the model. The same seed gives
// the same sequences.
func Simulate(m *Model, n int, seed uint64) ([]LabeledSequence, error) {
	if m.engine.BatchShape().NumElements() != 1 {
		return nil, fmt.Errorf("markov: cannot simulate a batched model")
	}
	states, obs, err := m.engine.Sample(n, rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
	if err != nil {
		return nil, fmt.Errorf("markov: %w", err)
	}

	steps := m.engine.NumSteps()
	size := m.engine.Observation().EventShape().NumElements()
	sd, od := states.Data(), obs.Data()
	out := make([]LabeledSequence, n)
	for i := range n {
		ls := LabeledSequence{States: make([]string, steps)}
		for t := range steps {
			row := i*steps + t
			ls.States[t] = m.states.Name(sd[row])
			if m.symbols != nil {
				ls.Symbols = append(ls.Symbols, m.symbols.Name(int(od[row])))
				continue
			}
			ls.Observations = append(ls.Observations, append([]float64(nil), od[row*size:(row+1)*size]...))
		}
		out[i] = ls
	}
	return out, nil
}

// FromRecords converts data folder records to labelled sequences.
func FromRecords(records []storage.Record) []LabeledSequence {
	out := make([]LabeledSequence, len(records))
	for i, r := range records {
		ls := LabeledSequence{
			Sequence: Sequence{Symbols: r.Symbols, Mask: r.Mask},
			States:   r.States,
		}
		for _, step := range r.Observations {
			ls.Observations = append(ls.Observations, []float64(step))
		}
		out[i] = ls
	}
	return out
}

// ToStored converts labelled sequences to their data folder form.
func ToStored(sequences []LabeledSequence) []storage.SequenceJSON {
	out := make([]storage.SequenceJSON, len(sequences))
	for i, ls := range sequences {
		sj := storage.SequenceJSON{Symbols: ls.Symbols, Mask: ls.Mask, States: ls.States}
		for _, x := range ls.Observations {
			sj.Observations = append(sj.Observations, storage.Step(x))
		}
		out[i] = sj
	}
	return out
}
