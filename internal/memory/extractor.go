package memory

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/provider"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/tokens"
)

// Default summarization prompts per extractable partition. Document
// memory is never synthesized, only ingested verbatim.
const (
	longTermMemoryPrompt = `You are summarizing a conversation to remember durable facts about the user: preferences, personal details, decisions, and goals that will still matter in future conversations.
Return a JSON object of the form {"items": [{"label": "<short name>", "details": "<the fact>"}]}. Return {"items": []} if there is nothing worth remembering.`

	workingMemoryPrompt = `You are summarizing a conversation to remember short-term context: what the user is currently doing, open tasks, and in-progress decisions relevant to the next few exchanges.
Return a JSON object of the form {"items": [{"label": "<short name>", "details": "<the context>"}]}. Return {"items": []} if there is nothing worth remembering.`
)

// extractablePartitions lists the partitions subject to summarization.
var extractablePartitions = []search.Partition{search.LongTermMemory, search.WorkingMemory}

// ExtractorConfig configures the semantic memory extractor.
type ExtractorConfig struct {
	// IndexName is the semantic index new memories are stored into.
	IndexName string `yaml:"index_name"`

	// CompletionTokenLimit is the summarization model's context window.
	CompletionTokenLimit int `yaml:"completion_token_limit"`

	// ResponseTokenLimit is the headroom reserved for the model reply.
	ResponseTokenLimit int `yaml:"response_token_limit"`

	// Thresholds supplies the Upper bound used as the near-duplicate
	// cutoff.
	Thresholds Thresholds `yaml:"thresholds"`

	// Prompts overrides the per-partition summarization prompts.
	Prompts map[search.Partition]string `yaml:"-"`
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.IndexName == "" {
		c.IndexName = "chatmemory"
	}
	if c.CompletionTokenLimit == 0 {
		c.CompletionTokenLimit = 4096
	}
	if c.ResponseTokenLimit == 0 {
		c.ResponseTokenLimit = 1024
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	if c.Prompts == nil {
		c.Prompts = map[search.Partition]string{
			search.LongTermMemory: longTermMemoryPrompt,
			search.WorkingMemory:  workingMemoryPrompt,
		}
	}
	return c
}

// Extractor summarizes chat context into new semantic memories and
// stores them, skipping near-duplicates of existing entries.
type Extractor struct {
	index    search.Index
	provider provider.Provider
	counter  tokens.Counter
	config   ExtractorConfig
	logger   *slog.Logger
}

// NewExtractor creates an Extractor. A nil logger falls back to
// slog.Default().
func NewExtractor(index search.Index, p provider.Provider, counter tokens.Counter, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		index:    index,
		provider: p,
		counter:  counter,
		config:   cfg.withDefaults(),
		logger:   logger,
	}
}

// Extract runs one summarization pass over the given chat context for
// every extractable partition. Completion or parse failures for one
// partition are logged and do not abort the others; the only error
// returned is context cancellation.
func (e *Extractor) Extract(ctx context.Context, chatID, historyText string) error {
	for _, partition := range extractablePartitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.extractPartition(ctx, chatID, historyText, partition)
	}
	return nil
}

func (e *Extractor) extractPartition(ctx context.Context, chatID, historyText string, partition search.Partition) {
	prompt := e.config.Prompts[partition]
	budget := e.config.CompletionTokenLimit - e.config.ResponseTokenLimit - e.counter.TokenCount(prompt)
	if budget <= 0 {
		e.logger.Warn("no token budget left for memory extraction", "partition", partition)
		return
	}

	resp, err := e.provider.Complete(ctx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: prompt},
			{Role: provider.MessageRoleUser, Content: historyText},
		},
		MaxTokens: budget,
	})
	if err != nil {
		e.logger.Warn("memory extraction completion failed, continuing", "partition", partition, "error", err)
		return
	}

	mem, err := ParseChatMemory(resp.Content)
	if err != nil {
		e.logger.Warn("unable to parse extracted memory, continuing", "partition", partition, "error", err)
		return
	}

	for _, item := range mem.Items {
		e.storeIfNew(ctx, chatID, partition, item.FormattedString())
	}
}

// storeIfNew stores a memory unless a near-duplicate already exists
// above the upper relevance threshold. Failures are logged; dedup and
// storage are never fatal to the turn.
func (e *Extractor) storeIfNew(ctx context.Context, chatID string, partition search.Partition, text string) {
	existing, err := e.index.Search(ctx, search.Query{
		Index:        e.config.IndexName,
		Text:         text,
		MinRelevance: e.config.Thresholds.Upper,
		Limit:        1,
		ChatID:       chatID,
		Partition:    partition,
	})
	if err != nil {
		e.logger.Warn("duplicate check failed, skipping memory", "partition", partition, "error", err)
		return
	}
	if len(existing) > 0 {
		return
	}

	err = e.index.Store(ctx, search.Record{
		ID:        uuid.NewString(),
		Index:     e.config.IndexName,
		ChatID:    chatID,
		Partition: partition,
		Text:      text,
	})
	if err != nil {
		e.logger.Warn("storing extracted memory failed", "partition", partition, "error", err)
	}
}
