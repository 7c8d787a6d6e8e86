package train

import "fmt"

// Algorithm selects the learning algorithm
type Algorithm string

const (
	// SkipGram predicts context elements from the center element
	SkipGram Algorithm = "skipgram"
	// CBOW predicts the center element from the averaged context
	CBOW Algorithm = "cbow"
)

// Objective selects the output layer used for gradient updates
type Objective string

const (
	// NegativeSampling approximates the softmax with sampled negatives
	NegativeSampling Objective = "ns"
	// HierarchicalSoftmax uses the Huffman tree over element frequencies
	HierarchicalSoftmax Objective = "hs"
)

// ConfigError indicates an invalid training configuration. Model build fails
// fatally on it; there is no partial-failure recovery in a training run.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid training configuration: %s: %s", e.Field, e.Reason)
}

// Options is the immutable training configuration, fixed before training
// starts and read-only thereafter.
type Options struct {
	Algorithm      Algorithm
	Objective      Objective
	Window         int
	LearningRate   float64
	UseAdaGrad     bool
	BatchSize      int
	Iterations     int
	Epochs         int
	Negative       int
	Sample         float64
	TrainElements  bool
	TrainSequences bool
	ResetModel     bool
	Workers        int
	Seed           int64
}

// Validate checks every option once, before any weights are touched
func (o *Options) Validate() error {
	if o.Algorithm != SkipGram && o.Algorithm != CBOW {
		return &ConfigError{Field: "algorithm", Reason: fmt.Sprintf("must be %s or %s, got %q", SkipGram, CBOW, o.Algorithm)}
	}
	if o.Objective != NegativeSampling && o.Objective != HierarchicalSoftmax {
		return &ConfigError{Field: "objective", Reason: fmt.Sprintf("must be %s or %s, got %q", NegativeSampling, HierarchicalSoftmax, o.Objective)}
	}
	if !o.TrainElements && !o.TrainSequences {
		return &ConfigError{Field: "train_elements/train_sequences", Reason: "at least one training target must be enabled"}
	}
	if o.Window <= 0 {
		return &ConfigError{Field: "window", Reason: fmt.Sprintf("must be positive, got %d", o.Window)}
	}
	if o.LearningRate <= 0 {
		return &ConfigError{Field: "learning_rate", Reason: fmt.Sprintf("must be positive, got %g", o.LearningRate)}
	}
	if o.BatchSize <= 0 {
		return &ConfigError{Field: "batch_size", Reason: fmt.Sprintf("must be positive, got %d", o.BatchSize)}
	}
	if o.Iterations < 1 {
		return &ConfigError{Field: "iterations", Reason: fmt.Sprintf("must be >= 1, got %d", o.Iterations)}
	}
	if o.Epochs < 1 {
		return &ConfigError{Field: "epochs", Reason: fmt.Sprintf("must be >= 1, got %d", o.Epochs)}
	}
	if o.Negative < 0 {
		return &ConfigError{Field: "negative", Reason: fmt.Sprintf("must be >= 0, got %d", o.Negative)}
	}
	if o.Objective == NegativeSampling && o.Negative == 0 {
		return &ConfigError{Field: "negative", Reason: "negative sampling requires at least one negative example"}
	}
	if o.Sample < 0 {
		return &ConfigError{Field: "sample", Reason: fmt.Sprintf("must be >= 0, got %g", o.Sample)}
	}
	if o.Workers < 1 {
		return &ConfigError{Field: "workers", Reason: fmt.Sprintf("must be >= 1, got %d", o.Workers)}
	}
	return nil
}
