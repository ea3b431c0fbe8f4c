package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemorySessionRepository is a thread-safe, in-memory
// SessionRepository.
type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewInMemorySessionRepository creates an empty session repository.
func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{sessions: make(map[string]Session)}
}

// Compile-time interface check.
var _ SessionRepository = (*InMemorySessionRepository)(nil)

// FindByID returns the session or ErrSessionNotFound.
func (r *InMemorySessionRepository) FindByID(_ context.Context, id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return &s, nil
}

// Save creates or replaces a session.
func (r *InMemorySessionRepository) Save(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = *session
	return nil
}

// InMemoryMessageRepository is a thread-safe, in-memory
// MessageRepository.
type InMemoryMessageRepository struct {
	mu       sync.RWMutex
	messages []Message
	byID     map[string]int // id → index in messages
}

// NewInMemoryMessageRepository creates an empty message repository.
func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{byID: make(map[string]int)}
}

// Compile-time interface check.
var _ MessageRepository = (*InMemoryMessageRepository)(nil)

// Create stores a new message.
func (r *InMemoryMessageRepository) Create(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[msg.ID] = len(r.messages)
	r.messages = append(r.messages, *msg)
	return nil
}

// Upsert creates or replaces a message by ID.
func (r *InMemoryMessageRepository) Upsert(_ context.Context, msg *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byID[msg.ID]; ok {
		r.messages[i] = *msg
		return nil
	}
	r.byID[msg.ID] = len(r.messages)
	r.messages = append(r.messages, *msg)
	return nil
}

// FindByChatID returns messages for a chat ordered newest first.
// Insertion order breaks timestamp ties so repeated reads are stable.
func (r *InMemoryMessageRepository) FindByChatID(_ context.Context, chatID string, skip, count int) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Message
	for i := range r.messages {
		if r.messages[i].ChatID == chatID {
			matched = append(matched, r.messages[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if skip > 0 {
		if skip >= len(matched) {
			return nil, nil
		}
		matched = matched[skip:]
	}
	if count > 0 && len(matched) > count {
		matched = matched[:count]
	}

	out := make([]*Message, len(matched))
	for i := range matched {
		m := matched[i]
		out[i] = &m
	}
	return out, nil
}
