package chat

import (
	"context"
	"strings"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/tokens"
)

// historyFetchCount bounds one repository page when walking history.
const historyFetchCount = 100

// chatHistoryHeader prefixes the rendered history block in the prompt.
const chatHistoryHeader = "Chat history:\n"

// allottedChatHistory walks the chat's messages newest-first and admits
// each one only while its framed token cost still fits the budget. The
// walk stops at the first message that does not fit, so older context
// is dropped wholesale rather than fragmented. Document messages carry
// no conversational content and are skipped without consuming budget.
// The admitted window is returned in chronological order.
func (p *Pipeline) allottedChatHistory(ctx context.Context, chatID string, budget int) (string, error) {
	remaining := budget
	var sb []string

	skip := 0
	for {
		msgs, err := p.messages.FindByChatID(ctx, chatID, skip, historyFetchCount)
		if err != nil {
			return "", err
		}
		if len(msgs) == 0 {
			break
		}
		for _, m := range msgs {
			if m.Type == store.TypeDocument {
				continue
			}
			formatted := m.FormattedString()
			role := "user"
			if m.AuthorRole == store.RoleBot {
				role = "system"
			}
			cost := tokens.ContextMessageTokenCount(p.counter, role, formatted)
			if remaining-cost < 0 {
				return joinHistory(sb), nil
			}
			remaining -= cost
			sb = append(sb, formatted)
		}
		skip += len(msgs)
	}
	return joinHistory(sb), nil
}

// joinHistory reverses the newest-first admitted window back into
// chronological order.
func joinHistory(newestFirst []string) string {
	if len(newestFirst) == 0 {
		return ""
	}
	parts := make([]string, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		parts = append(parts, newestFirst[i])
	}
	return strings.Join(parts, "\n")
}
