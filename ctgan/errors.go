package ctgan

import "fmt"

// SchemaError reports a malformed or missing column at fit time. It is
// fatal: the fit cannot proceed and must not be retried with the same
// input.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error in column %q: %s", e.Column, e.Reason)
}

// OutOfVocabularyError reports a discrete value at transform time that
// was never seen during fit. The caller chooses between raising it and
// dropping the offending row (see OOVPolicy).
type OutOfVocabularyError struct {
	Column string
	Value  string
}

func (e *OutOfVocabularyError) Error() string {
	return fmt.Sprintf("value %q was not fitted for column %q", e.Value, e.Column)
}

// ConfigError reports an invalid hyperparameter combination. It is
// raised at construction and never reaches training.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// DivergenceError reports a non-finite loss mid-training. The training
// loop halts; parameters from the last finite step remain on the
// synthesizer with its Diverged flag set.
type DivergenceError struct {
	Epoch int
	Step  int
	Loss  string
	Value float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("training diverged at epoch %v step %v: %s loss is %v", e.Epoch, e.Step, e.Loss, e.Value)
}
