// Package search defines the contract with the semantic index that
// stores chat memories and document snippets, plus an in-memory
// implementation used by tests and local runs.
package search

import (
	"context"
	"errors"
	"fmt"
)

// Partition names a logical bucket of snippets within one shared index.
type Partition string

// Memory partitions. Every stored snippet carries exactly one.
const (
	DocumentMemory Partition = "DocumentMemory"
	LongTermMemory Partition = "LongTermMemory"
	WorkingMemory  Partition = "WorkingMemory"
)

// GlobalDocumentChatID is the sentinel chat scope for documents shared
// across every chat session.
const GlobalDocumentChatID = "00000000-0000-0000-0000-000000000000"

// ErrUnknownPartition indicates a partition tag outside the known set.
var ErrUnknownPartition = errors.New("search: unknown memory partition")

// ParsePartition validates a partition tag.
func ParsePartition(s string) (Partition, error) {
	p := Partition(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPartition, s)
	}
	return p, nil
}

// Valid reports whether p is one of the known partitions.
func (p Partition) Valid() bool {
	switch p {
	case DocumentMemory, LongTermMemory, WorkingMemory:
		return true
	}
	return false
}

// Snippet is one retrieved piece of indexed content. Immutable once
// returned; lives only for the duration of a retrieval-and-pack cycle.
type Snippet struct {
	Text              string
	Relevance         float64
	Link              string
	SourceName        string
	SourceContentType string
	Partition         Partition
}

// Query describes one index search. ChatID and Partition filter by tag
// (logical AND). Limit <= 0 means no result cap.
type Query struct {
	Index        string
	Text         string
	MinRelevance float64
	Limit        int
	ChatID       string
	Partition    Partition
}

// Record is one document to store in the index.
type Record struct {
	ID                string
	Index             string
	ChatID            string
	Partition         Partition
	Text              string
	SourceName        string
	Link              string
	SourceContentType string
}

// Index is the semantic search service. Implementations must be safe
// for concurrent use.
type Index interface {
	// Search returns snippets matching the query, most relevant first,
	// all scoring at or above q.MinRelevance.
	Search(ctx context.Context, q Query) ([]Snippet, error)

	// Store adds a record to the index.
	Store(ctx context.Context, rec Record) error

	// Delete removes a record by ID from the named index.
	Delete(ctx context.Context, id, index string) error
}
