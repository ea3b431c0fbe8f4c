// Package store holds the chat session and message models and their
// repository contracts, with in-memory implementations. A SQLite
// implementation lives in modules/store/sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for repository operations.
var (
	// ErrSessionNotFound indicates the chat session does not exist.
	ErrSessionNotFound = errors.New("store: chat session not found")

	// ErrMessageNotFound indicates the chat message does not exist.
	ErrMessageNotFound = errors.New("store: chat message not found")

	// ErrInvalidBalance indicates a memory balance outside [0,1].
	ErrInvalidBalance = errors.New("store: memory balance out of range [0,1]")
)

// sessionVersion is stamped on newly created sessions.
const sessionVersion = "2.0"

// Session is one chat session. MemoryBalance drives the working vs
// long-term relevance threshold trade-off and is only mutated through
// session edits.
type Session struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	CreatedOn         time.Time `json:"createdOn"`
	SystemDescription string    `json:"systemDescription"`
	MemoryBalance     float64   `json:"memoryBalance"`
	Version           string    `json:"version"`
}

// NewSession creates a session with a fresh ID and the default memory
// balance of 0.5.
func NewSession(title, systemDescription string) *Session {
	return &Session{
		ID:                uuid.NewString(),
		Title:             title,
		CreatedOn:         time.Now().UTC(),
		SystemDescription: systemDescription,
		MemoryBalance:     0.5,
		Version:           sessionVersion,
	}
}

// SetMemoryBalance updates the balance, rejecting values outside [0,1].
// Out-of-range values are an error, never silently clamped.
func (s *Session) SetMemoryBalance(balance float64) error {
	if balance < 0 || balance > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidBalance, balance)
	}
	s.MemoryBalance = balance
	return nil
}

// AuthorRole identifies who authored a chat message.
type AuthorRole string

// Author roles.
const (
	RoleUser AuthorRole = "user"
	RoleBot  AuthorRole = "bot"
)

// MessageType classifies a chat message.
type MessageType string

// Message types. Document messages record uploads and are excluded
// from prompt history.
const (
	TypeMessage  MessageType = "message"
	TypePlan     MessageType = "plan"
	TypeDocument MessageType = "document"
)

// ParseMessageType maps a wire value to a MessageType, defaulting to
// TypeMessage for unknown values.
func ParseMessageType(s string) MessageType {
	switch MessageType(s) {
	case TypePlan:
		return TypePlan
	case TypeDocument:
		return TypeDocument
	default:
		return TypeMessage
	}
}

// CitationSource is a de-duplicated, user-facing citation attached to a
// bot response, keyed by Link so repeated retrieval of the same
// document collapses to one entry.
type CitationSource struct {
	Link              string  `json:"link"`
	SourceContentType string  `json:"sourceContentType"`
	SourceName        string  `json:"sourceName"`
	Snippet           string  `json:"snippet"`
	RelevanceScore    float64 `json:"relevanceScore"`
}

// Message is one chat message, user- or bot-authored.
type Message struct {
	ID         string           `json:"id"`
	ChatID     string           `json:"chatId"`
	UserID     string           `json:"userId"`
	UserName   string           `json:"userName"`
	Content    string           `json:"content"`
	Prompt     string           `json:"prompt,omitempty"`
	Citations  []CitationSource `json:"citations,omitempty"`
	AuthorRole AuthorRole       `json:"authorRole"`
	Type       MessageType      `json:"type"`
	TokenUsage map[string]int   `json:"tokenUsage,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewUserMessage creates a user-authored message with a fresh ID and
// timestamp.
func NewUserMessage(chatID, userID, userName, content string, msgType MessageType) *Message {
	return &Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		UserID:     userID,
		UserName:   userName,
		Content:    content,
		AuthorRole: RoleUser,
		Type:       msgType,
		Timestamp:  time.Now().UTC(),
	}
}

// NewBotMessage creates a bot-authored response message.
func NewBotMessage(chatID, content string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		UserID:     "Bot",
		UserName:   "Bot",
		Content:    content,
		AuthorRole: RoleBot,
		Type:       TypeMessage,
		Timestamp:  time.Now().UTC(),
	}
}

// FormattedString renders the message the way it appears inside
// prompts: a timestamp prefix followed by who said (or uploaded) what.
func (m *Message) FormattedString() string {
	prefix := fmt.Sprintf("[%s]", m.Timestamp.Format("2006-01-02 15:04:05"))
	if m.Type == TypeDocument {
		return fmt.Sprintf("%s %s uploaded: %s", prefix, m.UserName, m.Content)
	}
	return fmt.Sprintf("%s %s said: %s", prefix, m.UserName, m.Content)
}

// SessionRepository stores chat sessions.
// Implementations must be safe for concurrent use.
type SessionRepository interface {
	// FindByID returns the session or ErrSessionNotFound.
	FindByID(ctx context.Context, id string) (*Session, error)

	// Save creates or replaces a session.
	Save(ctx context.Context, session *Session) error
}

// MessageRepository stores chat messages.
// Implementations must be safe for concurrent use.
type MessageRepository interface {
	// FindByChatID returns messages for a chat ordered newest first,
	// skipping skip messages and returning at most count (count <= 0
	// means no cap).
	FindByChatID(ctx context.Context, chatID string, skip, count int) ([]*Message, error)

	// Create stores a new message.
	Create(ctx context.Context, msg *Message) error

	// Upsert creates or replaces a message by ID.
	Upsert(ctx context.Context, msg *Message) error
}
