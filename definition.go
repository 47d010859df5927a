package markov

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/happyhackingspace/markov/dist"
	"github.com/happyhackingspace/markov/hmm"
	"github.com/happyhackingspace/markov/tensor"
)

// Format is a model file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension. Anything other
// than .yaml or .yml is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Observation types.
const (
	ObservationCategorical = "categorical"
	ObservationNormal      = "normal"
	ObservationMVNDiag     = "mvn_diag"
	ObservationMVN         = "mvn"
)

// Definition is the serialised form of a model.
type Definition struct {
	States      []string              `json:"states,omitempty" yaml:"states,omitempty" validate:"omitempty,unique,dive,required"`
	Initial     []float64             `json:"initial" yaml:"initial" validate:"required,min=1"`
	Transition  [][]float64           `json:"transition" yaml:"transition" validate:"required,min=1,dive,required"`
	NumSteps    int                   `json:"num_steps" yaml:"num_steps"`
	Observation ObservationDefinition `json:"observation" yaml:"observation"`
}

// ObservationDefinition describes the per-state observation distributions.
// Which fields apply depends on Type.
type ObservationDefinition struct {
	Type string `json:"type" yaml:"type" validate:"required,oneof=categorical normal mvn_diag mvn"`

	// categorical: [K][M] emission probabilities, optional symbol names
	Probs   [][]float64 `json:"probs,omitempty" yaml:"probs,omitempty" validate:"required_if=Type categorical"`
	Symbols []string    `json:"symbols,omitempty" yaml:"symbols,omitempty" validate:"omitempty,unique,dive,required"`

	// normal: one location per state, scale per state or shared
	Loc   []float64 `json:"loc,omitempty" yaml:"loc,omitempty" validate:"required_if=Type normal"`
	Scale []float64 `json:"scale,omitempty" yaml:"scale,omitempty" validate:"required_if=Type normal"`

	// mvn_diag and mvn: [K][d] locations
	Locs       [][]float64   `json:"locs,omitempty" yaml:"locs,omitempty" validate:"required_if=Type mvn_diag,required_if=Type mvn"`
	ScaleDiag  [][]float64   `json:"scale_diag,omitempty" yaml:"scale_diag,omitempty"`
	Covariance [][][]float64 `json:"covariance,omitempty" yaml:"covariance,omitempty" validate:"required_if=Type mvn"`
}

// ParseDefinition decodes a model definition.
func ParseDefinition(data []byte, format Format) (*Definition, error) {
	var def Definition
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown model format %q", format)
	}
	return &def, nil
}

// Marshal encodes the definition.
func (d *Definition) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	case FormatYAML:
		return yaml.Marshal(d)
	default:
		return nil, fmt.Errorf("unknown model format %q", format)
	}
}

// WriteFile writes the definition to path in the format of its extension.
func (d *Definition) WriteFile(path string) error {
	data, err := d.Marshal(FormatFromPath(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var definitionValidate = validator.New()

// Validate checks that the fields the observation type needs are present.
// Probabilities and shapes are checked when the model is built.
func (d *Definition) Validate() error {
	if err := definitionValidate.Struct(d); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	return nil
}

// build validates the definition and constructs the inference engine.
func (d *Definition) build(opts ...hmm.Option) (*hmm.HiddenMarkovModel, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	validate := dist.WithValidateArgs(true)

	initial, err := dist.NewCategorical(tensor.Vector(d.Initial...), validate)
	if err != nil {
		return nil, fmt.Errorf("initial: %w", err)
	}
	transProbs, err := tensor.Matrix(d.Transition)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	transition, err := dist.NewCategorical(transProbs, validate)
	if err != nil {
		return nil, fmt.Errorf("transition: %w", err)
	}
	observation, err := d.Observation.build(validate)
	if err != nil {
		return nil, fmt.Errorf("observation: %w", err)
	}
	return hmm.New(initial, transition, observation, d.NumSteps, append([]hmm.Option{hmm.WithValidateArgs(true)}, opts...)...)
}

func (o *ObservationDefinition) build(validate dist.Option) (dist.Distribution, error) {
	switch o.Type {
	case ObservationCategorical:
		probs, err := tensor.Matrix(o.Probs)
		if err != nil {
			return nil, err
		}
		if len(o.Symbols) > 0 && len(o.Symbols) != probs.Shape()[1] {
			return nil, fmt.Errorf("%w: %d symbols for %d categories", hmm.ErrShape, len(o.Symbols), probs.Shape()[1])
		}
		return dist.NewCategorical(probs, validate)

	case ObservationNormal:
		return dist.NewNormal(tensor.Vector(o.Loc...), tensor.Vector(o.Scale...), validate)

	case ObservationMVNDiag:
		loc, err := tensor.Matrix(o.Locs)
		if err != nil {
			return nil, err
		}
		var scale *tensor.Tensor[float64]
		if len(o.ScaleDiag) > 0 {
			if scale, err = tensor.Matrix(o.ScaleDiag); err != nil {
				return nil, err
			}
		}
		return dist.NewMultivariateNormalDiag(loc, scale, validate)

	case ObservationMVN:
		loc, err := tensor.Matrix(o.Locs)
		if err != nil {
			return nil, err
		}
		cov, err := covarianceTensor(o.Covariance)
		if err != nil {
			return nil, err
		}
		return dist.NewMultivariateNormal(loc, cov, validate)

	default:
		return nil, fmt.Errorf("unknown observation type %q", o.Type)
	}
}

func covarianceTensor(cov [][][]float64) (*tensor.Tensor[float64], error) {
	if len(cov) == 0 {
		return nil, fmt.Errorf("mvn observations need covariance")
	}
	d := len(cov[0])
	var data []float64
	for s, m := range cov {
		if len(m) != d {
			return nil, fmt.Errorf("%w: covariance %d has %d rows, want %d", tensor.ErrShape, s, len(m), d)
		}
		for i, row := range m {
			if len(row) != d {
				return nil, fmt.Errorf("%w: covariance %d row %d has %d columns, want %d", tensor.ErrShape, s, i, len(row), d)
			}
			data = append(data, row...)
		}
	}
	return tensor.New(tensor.Shape{len(cov), d, d}, data)
}
