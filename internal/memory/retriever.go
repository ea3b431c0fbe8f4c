package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
)

// RetrieverConfig configures the fan-out retriever.
type RetrieverConfig struct {
	// IndexName is the semantic index holding all memory partitions.
	IndexName string `yaml:"index_name"`

	// Thresholds are the relevance bounds for the balance slider.
	Thresholds Thresholds `yaml:"thresholds"`
}

func (c RetrieverConfig) withDefaults() RetrieverConfig {
	if c.IndexName == "" {
		c.IndexName = "chatmemory"
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	return c
}

// Retriever fans out one search per memory partition, plus a global
// document search, and merges the results.
type Retriever struct {
	index    search.Index
	sessions store.SessionRepository
	config   RetrieverConfig
	logger   *slog.Logger
}

// NewRetriever creates a Retriever. A nil logger falls back to
// slog.Default().
func NewRetriever(index search.Index, sessions store.SessionRepository, cfg RetrieverConfig, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		index:    index,
		sessions: sessions,
		config:   cfg.withDefaults(),
		logger:   logger,
	}
}

// fanoutQuery is one planned search of the fan-out.
type fanoutQuery struct {
	partition search.Partition
	chatID    string
	threshold float64
}

// Query retrieves every snippet relevant to the intent text across all
// memory partitions of the chat, plus globally shared documents.
//
// The session is resolved first: a missing session or an out-of-range
// balance fails before any search is issued. The searches then run
// concurrently, each writing into its own result slot; a failed search
// is logged and contributes nothing, it never aborts the others.
// Snippets with unknown partition tags are discarded. The merged order
// is deterministic: slot order, then each search's own ranking, so
// equal-relevance snippets keep a stable tie-break downstream.
func (r *Retriever) Query(ctx context.Context, intentText, chatID string) ([]search.Snippet, error) {
	session, err := r.sessions.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	queries, err := r.planQueries(chatID, session.MemoryBalance)
	if err != nil {
		return nil, err
	}

	slots := make([][]search.Snippet, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(slot int, q fanoutQuery) {
			defer wg.Done()

			results, err := r.index.Search(ctx, search.Query{
				Index:        r.config.IndexName,
				Text:         intentText,
				MinRelevance: q.threshold,
				ChatID:       q.chatID,
				Partition:    q.partition,
			})
			if err != nil {
				r.logger.Warn("memory search failed, continuing without partition results",
					"partition", q.partition, "chat_id", q.chatID, "error", err)
				return
			}
			slots[slot] = results
		}(i, q)
	}
	wg.Wait()

	var merged []search.Snippet
	for _, slot := range slots {
		for _, snippet := range slot {
			if !snippet.Partition.Valid() {
				r.logger.Warn("discarding snippet with unknown partition tag", "partition", snippet.Partition)
				continue
			}
			merged = append(merged, snippet)
		}
	}
	return merged, nil
}

// planQueries computes the per-partition thresholds up front so that
// an invalid balance surfaces before any network fan-out.
func (r *Retriever) planQueries(chatID string, balance float64) ([]fanoutQuery, error) {
	partitions := []search.Partition{
		search.LongTermMemory,
		search.WorkingMemory,
		search.DocumentMemory,
	}

	queries := make([]fanoutQuery, 0, len(partitions)+1)
	for _, p := range partitions {
		threshold, err := r.config.Thresholds.Threshold(p, balance)
		if err != nil {
			return nil, fmt.Errorf("memory: plan query for %s: %w", p, err)
		}
		queries = append(queries, fanoutQuery{partition: p, chatID: chatID, threshold: threshold})
	}

	// Globally shared documents are visible in every chat.
	queries = append(queries, fanoutQuery{
		partition: search.DocumentMemory,
		chatID:    search.GlobalDocumentChatID,
		threshold: r.config.Thresholds.DocumentMinRelevance,
	})
	return queries, nil
}
