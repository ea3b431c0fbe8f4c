package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrRecordNotFound indicates the requested record does not exist.
var ErrRecordNotFound = errors.New("search: record not found")

// MemIndex is a thread-safe, in-memory Index. Relevance is the share of
// unique query terms found in the record text; a production deployment
// substitutes a vector index behind the same interface.
type MemIndex struct {
	mu      sync.RWMutex
	records []Record
	byID    map[string]int // id → index in records
}

// NewMemIndex creates an empty in-memory index.
func NewMemIndex() *MemIndex {
	return &MemIndex{byID: make(map[string]int)}
}

// Compile-time interface check.
var _ Index = (*MemIndex)(nil)

// Store adds a record, replacing any record with the same ID.
func (m *MemIndex) Store(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, ok := m.byID[rec.ID]; ok {
		m.records[i] = rec
		return nil
	}
	m.byID[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

// Delete removes a record by ID from the named index.
func (m *MemIndex) Delete(_ context.Context, id, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.byID[id]
	if !ok || m.records[i].Index != index {
		return ErrRecordNotFound
	}

	last := len(m.records) - 1
	m.records[i] = m.records[last]
	m.byID[m.records[i].ID] = i
	m.records = m.records[:last]
	delete(m.byID, id)
	return nil
}

// Search scores every record in the queried index against the query
// text and returns matches at or above q.MinRelevance, most relevant
// first. ChatID and Partition filters are conjunctive.
func (m *MemIndex) Search(_ context.Context, q Query) ([]Snippet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryTerms := termSet(q.Text)

	var out []Snippet
	for _, rec := range m.records {
		if rec.Index != q.Index {
			continue
		}
		if q.ChatID != "" && rec.ChatID != q.ChatID {
			continue
		}
		if q.Partition != "" && rec.Partition != q.Partition {
			continue
		}

		score := overlap(queryTerms, rec.Text)
		if score < q.MinRelevance {
			continue
		}

		out = append(out, Snippet{
			Text:              rec.Text,
			Relevance:         score,
			Link:              rec.Link,
			SourceName:        rec.SourceName,
			SourceContentType: rec.SourceContentType,
			Partition:         rec.Partition,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// termSet lowercases and splits text into unique terms, stripping
// punctuation that would defeat matching.
func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, term := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	}) {
		set[term] = struct{}{}
	}
	return set
}

// overlap returns the share of query terms present in the record text.
func overlap(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	recordTerms := termSet(text)
	hits := 0
	for term := range queryTerms {
		if _, ok := recordTerms[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}
