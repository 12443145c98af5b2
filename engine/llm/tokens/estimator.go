package tokens

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const (
	// charsPerToken is the rough ratio for mixed English and JSON text.
	charsPerToken   = 3.5
	defaultEncoding = "cl100k_base"
)

// Estimator approximates the token cost of a piece of text.
type Estimator interface {
	Estimate(text string) int
}

// RatioEstimator divides the character count by a fixed ratio. Never returns less than 1.
type RatioEstimator struct{}

func (RatioEstimator) Estimate(text string) int {
	return max(1, int(float64(utf8.RuneCountInString(text))/charsPerToken))
}

// TiktokenEstimator counts tokens with a BPE encoding.
type TiktokenEstimator struct {
	mu  sync.Mutex
	tke *tiktoken.Tiktoken
}

// NewTiktokenEstimator resolves modelOrEncoding as an encoding name, then as a
// model name, and finally falls back to cl100k_base.
func NewTiktokenEstimator(modelOrEncoding string) (*TiktokenEstimator, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
	}
	if err != nil {
		tke, err = tiktoken.GetEncoding(defaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get default encoding '%s': %w", defaultEncoding, err)
		}
	}
	return &TiktokenEstimator{tke: tke}, nil
}

func (e *TiktokenEstimator) Estimate(text string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(1, len(e.tke.Encode(text, nil, nil)))
}

// NewEstimator returns the estimator selected by name ("ratio" or "tiktoken").
// Tiktoken falls back to the ratio estimator when its encoding cannot be loaded.
func NewEstimator(name, model string) (Estimator, error) {
	switch name {
	case "", "ratio":
		return RatioEstimator{}, nil
	case "tiktoken":
		est, err := NewTiktokenEstimator(model)
		if err != nil {
			return RatioEstimator{}, err
		}
		return est, nil
	default:
		return nil, fmt.Errorf("unknown token counter: %s", name)
	}
}
