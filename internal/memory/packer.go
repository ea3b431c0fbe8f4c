package memory

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/tokens"
)

// memoriesHeader opens the free-form memory block.
const memoriesHeader = "Past memories (format: [memory type] <label>: <details>):\n"

// snippetsHeader opens the document snippet block and instructs the
// model to cite links.
const snippetsHeader = "User has also shared some document snippets.\n" +
	"Quote the document link in square brackets at the end of each sentence that refers to the snippet in your response.\n"

// memoryRenderOrder fixes the output grouping of free-form memories.
// Selection order is relevance across all partitions; this only
// controls formatting.
var memoryRenderOrder = []search.Partition{search.LongTermMemory, search.WorkingMemory}

// Pack merges retrieved snippets into the prompt's memory text under a
// token budget.
//
// Snippets are walked in descending relevance (stable, so equal scores
// keep their retrieval order) and admitted while their token cost
// still fits the remaining budget; the budget never goes negative.
// The walk stops entirely at the first snippet that does not fit;
// later, cheaper snippets are never considered. Admitted document
// snippets also produce one citation per distinct source link.
func Pack(snippets []search.Snippet, tokenBudget int, counter tokens.Counter) (string, map[string]store.CitationSource) {
	sorted := make([]search.Snippet, len(snippets))
	copy(sorted, snippets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Relevance > sorted[j].Relevance
	})

	admitted := make(map[search.Partition][]search.Snippet)
	citations := make(map[string]store.CitationSource)
	remaining := tokenBudget

	for _, snippet := range sorted {
		cost := counter.TokenCount(snippet.Text)
		if cost > remaining {
			break
		}
		if !snippet.Partition.Valid() {
			continue
		}

		admitted[snippet.Partition] = append(admitted[snippet.Partition], snippet)
		remaining -= cost

		if snippet.Partition == search.DocumentMemory {
			if _, ok := citations[snippet.Link]; !ok {
				citations[snippet.Link] = store.CitationSource{
					Link:              snippet.Link,
					SourceContentType: snippet.SourceContentType,
					SourceName:        snippet.SourceName,
					Snippet:           snippet.Text,
					RelevanceScore:    snippet.Relevance,
				}
			}
		}
	}

	var b strings.Builder
	formatMemories(&b, admitted)
	formatSnippets(&b, admitted[search.DocumentMemory])

	return b.String(), citations
}

// formatMemories writes the "Past memories" block for long-term and
// working memory snippets. The header appears only when at least one
// such snippet was admitted.
func formatMemories(b *strings.Builder, admitted map[search.Partition][]search.Snippet) {
	for _, partition := range memoryRenderOrder {
		for _, snippet := range admitted[partition] {
			if b.Len() == 0 {
				b.WriteString(memoriesHeader)
			}
			fmt.Fprintf(b, "[%s] %s\n", partition, snippet.Text)
		}
	}
}

// formatSnippets writes the document snippet block with citation
// framing, one block per admitted document snippet.
func formatSnippets(b *strings.Builder, docs []search.Snippet) {
	if len(docs) == 0 {
		return
	}

	b.WriteString(snippetsHeader)
	for _, snippet := range docs {
		fmt.Fprintf(b, "Document name:%s\nDocument link:%s.\n[CONTENT START]\n%s\n[CONTENT END]\n",
			snippet.SourceName, snippet.Link, snippet.Text)
	}
}
