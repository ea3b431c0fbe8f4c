// Package memory implements the retrieval-and-context-assembly core:
// relevance thresholds driven by the per-session memory balance, the
// concurrent fan-out retriever, the token-budgeted packer, and the
// post-turn semantic memory extractor.
package memory

import (
	"errors"
	"fmt"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
)

// ErrInvalidBalance indicates a memory balance outside [0,1].
var ErrInvalidBalance = errors.New("memory: memory balance out of range [0,1]")

// Default relevance bounds.
const (
	defaultRelevanceUpper       = 0.9
	defaultRelevanceLower       = 0.6
	defaultDocumentMinRelevance = 0.8
)

// Thresholds holds the relevance bounds that the balance slider
// interpolates between. The same Upper bound doubles as the
// near-duplicate cutoff used by the extractor.
type Thresholds struct {
	// Upper is the strictest relevance cutoff.
	Upper float64 `yaml:"upper"`

	// Lower is the loosest relevance cutoff.
	Lower float64 `yaml:"lower"`

	// DocumentMinRelevance is the fixed cutoff for document snippets,
	// independent of the balance slider.
	DocumentMinRelevance float64 `yaml:"document_min_relevance"`
}

// WithDefaults fills zero fields with the default bounds.
func (t Thresholds) WithDefaults() Thresholds {
	if t.Upper == 0 {
		t.Upper = defaultRelevanceUpper
	}
	if t.Lower == 0 {
		t.Lower = defaultRelevanceLower
	}
	if t.DocumentMinRelevance == 0 {
		t.DocumentMinRelevance = defaultDocumentMinRelevance
	}
	return t
}

// Threshold computes the minimum relevance score required for a
// snippet from the given partition, for a balance in [0,1].
//
// Long-term and working memory interpolate in opposite directions:
// raising the balance loosens the long-term threshold toward Lower
// while tightening the working threshold toward Upper, implementing
// the working/long-term trade-off slider. Document memory uses the
// fixed minimum regardless of balance.
func (t Thresholds) Threshold(partition search.Partition, balance float64) (float64, error) {
	if balance < 0 || balance > 1 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidBalance, balance)
	}

	switch partition {
	case search.LongTermMemory:
		return (t.Lower-t.Upper)*balance + t.Upper, nil
	case search.WorkingMemory:
		return (t.Upper-t.Lower)*balance + t.Lower, nil
	case search.DocumentMemory:
		return t.DocumentMinRelevance, nil
	default:
		return 0, fmt.Errorf("%w: %q", search.ErrUnknownPartition, partition)
	}
}
