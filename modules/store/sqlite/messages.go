package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
)

type messageRepository struct {
	db *sql.DB
}

// Compile-time interface check.
var _ store.MessageRepository = (*messageRepository)(nil)

// FindByChatID returns messages for a chat ordered newest first,
// skipping skip messages and returning at most count (count <= 0 means
// no cap).
func (r *messageRepository) FindByChatID(ctx context.Context, chatID string, skip, count int) ([]*store.Message, error) {
	if skip < 0 {
		skip = 0
	}
	if count <= 0 {
		count = -1 // SQLite: LIMIT -1 means unlimited
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, user_id, user_name, content, prompt, citations, author_role, type, token_usage, timestamp
		FROM chat_messages
		WHERE chat_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?`,
		chatID, count, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: find messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: find messages rows: %w", err)
	}
	return msgs, nil
}

// Create stores a new message.
func (r *messageRepository) Create(ctx context.Context, msg *store.Message) error {
	return r.write(ctx, "INSERT", msg)
}

// Upsert creates or replaces a message by ID.
func (r *messageRepository) Upsert(ctx context.Context, msg *store.Message) error {
	return r.write(ctx, "INSERT OR REPLACE", msg)
}

func (r *messageRepository) write(ctx context.Context, verb string, msg *store.Message) error {
	citationsJSON, err := json.Marshal(msg.Citations)
	if err != nil {
		return fmt.Errorf("sqlite: marshal citations: %w", err)
	}
	usageJSON, err := json.Marshal(msg.TokenUsage)
	if err != nil {
		return fmt.Errorf("sqlite: marshal token usage: %w", err)
	}

	_, err = r.db.ExecContext(ctx, verb+` INTO chat_messages
		(id, chat_id, user_id, user_name, content, prompt, citations, author_role, type, token_usage, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.UserID, msg.UserName, msg.Content, msg.Prompt,
		string(citationsJSON), string(msg.AuthorRole), string(msg.Type),
		string(usageJSON), msg.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: write message: %w", err)
	}
	return nil
}

func scanMessage(rows *sql.Rows) (*store.Message, error) {
	var (
		msg           store.Message
		citationsJSON string
		usageJSON     string
		timestampStr  string
	)
	if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.UserName, &msg.Content, &msg.Prompt,
		&citationsJSON, &msg.AuthorRole, &msg.Type, &usageJSON, &timestampStr); err != nil {
		return nil, fmt.Errorf("sqlite: scan message: %w", err)
	}

	if citationsJSON != "" && citationsJSON != "[]" && citationsJSON != "null" {
		if err := json.Unmarshal([]byte(citationsJSON), &msg.Citations); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal citations: %w", err)
		}
	}
	if usageJSON != "" && usageJSON != "{}" && usageJSON != "null" {
		if err := json.Unmarshal([]byte(usageJSON), &msg.TokenUsage); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal token usage: %w", err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, timestampStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse timestamp %q: %w", timestampStr, err)
	}
	msg.Timestamp = t
	return &msg, nil
}
