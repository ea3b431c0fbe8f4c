// Package tokens counts prompt tokens for budget accounting.
// Counts must match the downstream model's tokenizer: the default
// counter uses the cl100k_base BPE encoding.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE encoding shared with the completion model.
const encodingName = "cl100k_base"

// Counter converts text to a token count. Implementations must be
// deterministic, pure functions of the input text and must never fail:
// text that the underlying encoder cannot handle still gets a count.
type Counter interface {
	TokenCount(text string) int
}

// TiktokenCounter counts tokens with the cl100k_base BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokens: load encoding %s: %w", encodingName, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Compile-time interface check.
var _ Counter = (*TiktokenCounter)(nil)

// TokenCount returns the BPE token count of text. If the encoder fails
// on the input, the heuristic byte count is used instead so that the
// result is always defined.
func (c *TiktokenCounter) TokenCount(text string) (n int) {
	defer func() {
		if recover() != nil {
			n = heuristicCount(text)
		}
	}()
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter approximates tokens with a bytes-per-token ratio of
// four, rounding up. Deterministic and encoding-free; used by tests and
// as the degraded mode when no BPE encoding can be loaded.
type HeuristicCounter struct{}

// Compile-time interface check.
var _ Counter = HeuristicCounter{}

// TokenCount returns the heuristic token count of text.
func (HeuristicCounter) TokenCount(text string) int {
	return heuristicCount(text)
}

func heuristicCount(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// ContextMessageTokenCount returns the token cost of one role-tagged
// prompt message. The "role:" and "content:" framing strings are part
// of the persisted token-usage contract and must not change.
func ContextMessageTokenCount(c Counter, role, content string) int {
	return c.TokenCount("role:"+role) + c.TokenCount("content:"+content+"\n")
}
