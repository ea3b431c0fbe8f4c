package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
)

type sessionRepository struct {
	db *sql.DB
}

// Compile-time interface check.
var _ store.SessionRepository = (*sessionRepository)(nil)

// FindByID returns the session or store.ErrSessionNotFound.
func (r *sessionRepository) FindByID(ctx context.Context, id string) (*store.Session, error) {
	var (
		session   store.Session
		createdOn string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, title, created_on, system_description, memory_balance, version
		FROM chat_sessions
		WHERE id = ?`,
		id,
	).Scan(&session.ID, &session.Title, &createdOn, &session.SystemDescription, &session.MemoryBalance, &session.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find session: %w", err)
	}

	session.CreatedOn, err = time.Parse(time.RFC3339Nano, createdOn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse created_on %q: %w", createdOn, err)
	}
	return &session, nil
}

// Save creates or replaces a session.
func (r *sessionRepository) Save(ctx context.Context, session *store.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO chat_sessions (id, title, created_on, system_description, memory_balance, version)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.Title, session.CreatedOn.Format(time.RFC3339Nano),
		session.SystemDescription, session.MemoryBalance, session.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save session: %w", err)
	}
	return nil
}
