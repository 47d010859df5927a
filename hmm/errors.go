package hmm

import (
	"errors"
	"fmt"

	"github.com/happyhackingspace/markov/dist"
)

var (
	// ErrShape is returned when component or input shapes disagree. Errors
	// wrapping it name the two shapes involved. It is the same value as
	// dist.ErrShape and tensor.ErrShape.
	ErrShape = dist.ErrShape

	// ErrDomain is returned for out-of-range parameters or inputs. It is
	// the same value as dist.ErrDomain.
	ErrDomain = dist.ErrDomain

	// ErrDegenerateSequence is matched by errors for observation sequences
	// with zero probability under the model.
	ErrDegenerateSequence = errors.New("hmm: observation sequence has zero probability")

	// ErrUnsupported is returned when the observation model lacks a capability
	// the requested operation needs.
	ErrUnsupported = errors.New("hmm: operation not supported by observation model")
)

// DegenerateSequenceError reports the first batch element whose observations
// are impossible under the model, so no posterior exists for it.
type DegenerateSequenceError struct {
	Op    string // "posterior marginals" or "posterior mode"
	Batch []int  // multi-index into the resolved batch shape
}

func (e *DegenerateSequenceError) Error() string {
	return fmt.Sprintf("hmm: %s: observations at batch index %v have zero probability under the model", e.Op, e.Batch)
}

// Is makes errors.Is(err, ErrDegenerateSequence) true.
func (e *DegenerateSequenceError) Is(target error) bool {
	return target == ErrDegenerateSequence
}
