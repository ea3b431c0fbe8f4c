package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Item is one unit of extracted semantic memory.
type Item struct {
	Label   string `json:"label"`
	Details string `json:"details"`
}

// FormattedString renders the item the way it is stored in the index
// and checked for near-duplicates.
func (it Item) FormattedString() string {
	return fmt.Sprintf("%s: %s", it.Label, strings.TrimSpace(it.Details))
}

// ChatMemory is the structured payload a summarization completion
// must produce.
type ChatMemory struct {
	Items []Item `json:"items"`
}

// ParseChatMemory parses a summarization completion result. Markdown
// code fences around the JSON payload are tolerated; anything else
// malformed is an error.
func ParseChatMemory(raw string) (ChatMemory, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var mem ChatMemory
	if err := json.Unmarshal([]byte(cleaned), &mem); err != nil {
		return ChatMemory{}, fmt.Errorf("memory: parse chat memory payload: %w", err)
	}
	return mem, nil
}
