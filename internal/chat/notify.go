package chat

import (
	"log/slog"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
)

// Notifier receives progress signals while a turn is being processed.
// Calls are fire-and-forget: implementations must not block and their
// failures never affect the turn outcome.
type Notifier interface {
	// Status reports a human-readable stage transition for a chat.
	Status(chatID, status string)

	// MessageUpdate reports the bot message after each streamed delta
	// has been applied.
	MessageUpdate(msg *store.Message)
}

// NopNotifier discards all signals.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) Status(string, string)        {}
func (NopNotifier) MessageUpdate(*store.Message) {}

// LogNotifier writes progress signals to a structured logger. Useful
// for the CLI front end and for tests.
type LogNotifier struct {
	Logger *slog.Logger
}

var _ Notifier = LogNotifier{}

func (n LogNotifier) Status(chatID, status string) {
	n.Logger.Debug("turn status", "chat_id", chatID, "status", status)
}

func (n LogNotifier) MessageUpdate(msg *store.Message) {
	n.Logger.Debug("message update", "chat_id", msg.ChatID, "message_id", msg.ID, "content_len", len(msg.Content))
}
