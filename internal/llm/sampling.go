package llm

import (
	"errors"
	"fmt"
)

// SamplingConfig holds the decoding knobs for one generation call.
// Deterministic switches the runner to greedy decoding so outputs are
// reproducible; the remaining knobs are ignored by the runner in that
// mode except for the repetition controls.
type SamplingConfig struct {
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
	NoRepeatNGram     int
	Deterministic     bool
}

// DefaultSampling mirrors the decoding parameters tuned for business
// analysis output.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{
		Temperature:       0.7,
		TopP:              0.9,
		TopK:              50,
		RepetitionPenalty: 1.2,
		NoRepeatNGram:     2,
	}
}

func (c SamplingConfig) Validate() error {
	var errs []error
	if !c.Deterministic && c.Temperature <= 0 {
		errs = append(errs, fmt.Errorf("temperature %v: must be > 0", c.Temperature))
	}
	if c.TopP <= 0 || c.TopP > 1 {
		errs = append(errs, fmt.Errorf("top_p %v: must be in (0, 1]", c.TopP))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top_k %d: must be positive", c.TopK))
	}
	if c.RepetitionPenalty < 1 {
		errs = append(errs, fmt.Errorf("repetition_penalty %v: must be >= 1", c.RepetitionPenalty))
	}
	if c.NoRepeatNGram < 0 {
		errs = append(errs, fmt.Errorf("no_repeat_ngram_size %d: must be >= 0", c.NoRepeatNGram))
	}
	return errors.Join(errs...)
}
