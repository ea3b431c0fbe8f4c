package memory_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/memory"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
)

// costCounter returns a fixed token cost per exact text, falling back
// to the chars/4 heuristic.
type costCounter map[string]int

func (c costCounter) TokenCount(text string) int {
	if cost, ok := c[text]; ok {
		return cost
	}
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

func TestPack_GreedyStop(t *testing.T) {
	t.Parallel()

	counter := costCounter{"s1": 50, "s2": 10, "s3": 1000, "s4": 5}
	snippets := []search.Snippet{
		{Text: "s1", Relevance: 0.9, Partition: search.LongTermMemory},
		{Text: "s2", Relevance: 0.85, Partition: search.LongTermMemory},
		{Text: "s3", Relevance: 0.8, Partition: search.WorkingMemory},
		{Text: "s4", Relevance: 0.75, Partition: search.WorkingMemory},
	}

	text, _ := memory.Pack(snippets, 60, counter)

	if !strings.Contains(text, "s1") || !strings.Contains(text, "s2") {
		t.Fatalf("expected s1 and s2 admitted, got:\n%s", text)
	}
	// The 1000-cost snippet stops the walk; the 5-cost snippet after it
	// would fit but must never be considered.
	if strings.Contains(text, "s3") || strings.Contains(text, "s4") {
		t.Fatalf("admission continued past the first rejection:\n%s", text)
	}
}

func TestPack_IdempotentUnderShuffle(t *testing.T) {
	t.Parallel()

	counter := costCounter{}
	sorted := []search.Snippet{
		{Text: "most relevant memory", Relevance: 0.95, Partition: search.LongTermMemory},
		{Text: "second memory", Relevance: 0.9, Partition: search.WorkingMemory},
		{Text: "third memory", Relevance: 0.85, Partition: search.LongTermMemory},
		{Text: "fourth memory", Relevance: 0.8, Partition: search.WorkingMemory},
	}

	wantText, wantCitations := memory.Pack(sorted, 500, counter)

	shuffled := make([]search.Snippet, len(sorted))
	copy(shuffled, sorted)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	gotText, gotCitations := memory.Pack(shuffled, 500, counter)

	if gotText != wantText {
		t.Fatalf("shuffled input packed differently:\nwant:\n%s\ngot:\n%s", wantText, gotText)
	}
	if len(gotCitations) != len(wantCitations) {
		t.Fatalf("citation count differs: %d vs %d", len(gotCitations), len(wantCitations))
	}
}

func TestPack_CitationDeduplicatedByLink(t *testing.T) {
	t.Parallel()

	// The same document returned by both the chat-scoped and the
	// global document query.
	snippets := []search.Snippet{
		{Text: "quarterly revenue grew", Relevance: 0.92, Partition: search.DocumentMemory, Link: "docs/report.pdf", SourceName: "report.pdf", SourceContentType: "application/pdf"},
		{Text: "quarterly revenue grew", Relevance: 0.9, Partition: search.DocumentMemory, Link: "docs/report.pdf", SourceName: "report.pdf", SourceContentType: "application/pdf"},
		{Text: "unrelated handbook text", Relevance: 0.85, Partition: search.DocumentMemory, Link: "docs/handbook.pdf", SourceName: "handbook.pdf", SourceContentType: "application/pdf"},
	}

	_, citations := memory.Pack(snippets, 500, costCounter{})

	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2 distinct links", len(citations))
	}
	first, ok := citations["docs/report.pdf"]
	if !ok {
		t.Fatalf("missing citation for docs/report.pdf: %v", citations)
	}
	// First (most relevant) admission wins the citation slot.
	if first.RelevanceScore != 0.92 {
		t.Errorf("citation relevance = %v, want 0.92", first.RelevanceScore)
	}
}

func TestPack_Formatting(t *testing.T) {
	t.Parallel()

	snippets := []search.Snippet{
		{Text: "favorite color: blue", Relevance: 0.95, Partition: search.LongTermMemory},
		{Text: "currently planning a trip", Relevance: 0.9, Partition: search.WorkingMemory},
		{Text: "team offsite agenda", Relevance: 0.88, Partition: search.DocumentMemory, Link: "docs/offsite.md", SourceName: "offsite.md"},
	}

	text, _ := memory.Pack(snippets, 500, costCounter{})

	if !strings.HasPrefix(text, "Past memories") {
		t.Fatalf("memory block missing header:\n%s", text)
	}
	if !strings.Contains(text, "[LongTermMemory] favorite color: blue\n") {
		t.Errorf("long-term snippet not rendered with partition tag:\n%s", text)
	}
	if !strings.Contains(text, "[WorkingMemory] currently planning a trip\n") {
		t.Errorf("working snippet not rendered with partition tag:\n%s", text)
	}
	if !strings.Contains(text, "Document name:offsite.md\nDocument link:docs/offsite.md.\n[CONTENT START]\nteam offsite agenda\n[CONTENT END]\n") {
		t.Errorf("document snippet block malformed:\n%s", text)
	}
	if !strings.Contains(text, "Quote the document link in square brackets") {
		t.Errorf("citation instruction missing:\n%s", text)
	}
}

func TestPack_NoHeaderWithoutMemories(t *testing.T) {
	t.Parallel()

	docsOnly := []search.Snippet{
		{Text: "doc body", Relevance: 0.9, Partition: search.DocumentMemory, Link: "l", SourceName: "n"},
	}
	text, _ := memory.Pack(docsOnly, 500, costCounter{})
	if strings.Contains(text, "Past memories") {
		t.Fatalf("memory header rendered without memory snippets:\n%s", text)
	}

	empty, citations := memory.Pack(nil, 500, costCounter{})
	if empty != "" {
		t.Fatalf("Pack(nil) text = %q, want empty", empty)
	}
	if len(citations) != 0 {
		t.Fatalf("Pack(nil) citations = %v, want none", citations)
	}
}

func TestPack_UnknownPartitionDiscarded(t *testing.T) {
	t.Parallel()

	counter := costCounter{"mystery": 400, "known": 10}
	snippets := []search.Snippet{
		{Text: "mystery", Relevance: 0.99, Partition: search.Partition("EpisodicMemory")},
		{Text: "known", Relevance: 0.9, Partition: search.WorkingMemory},
	}

	text, _ := memory.Pack(snippets, 500, counter)

	if strings.Contains(text, "mystery") {
		t.Fatalf("unknown partition snippet rendered:\n%s", text)
	}
	if !strings.Contains(text, "known") {
		t.Fatalf("valid snippet missing:\n%s", text)
	}
}

func TestPack_FavoriteColorEndToEnd(t *testing.T) {
	t.Parallel()

	snippets := []search.Snippet{
		{Text: "favorite color: blue", Relevance: 0.95, Partition: search.LongTermMemory},
	}
	text, _ := memory.Pack(snippets, 500, costCounter{})
	if !strings.Contains(text, "blue") {
		t.Fatalf("packed text does not surface the memory:\n%s", text)
	}
}
