package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
)

func TestSessionRepository_Roundtrip(t *testing.T) {
	t.Parallel()

	repo := store.NewInMemorySessionRepository()
	ctx := context.Background()

	session := store.NewSession("vacation planning", "You are a helpful assistant.")
	if session.MemoryBalance != 0.5 {
		t.Fatalf("default MemoryBalance = %v, want 0.5", session.MemoryBalance)
	}

	if err := repo.Save(ctx, session); err != nil {
		t.Fatalf("Save: unexpected error: %v", err)
	}

	got, err := repo.FindByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("FindByID: unexpected error: %v", err)
	}
	if got.Title != "vacation planning" {
		t.Errorf("Title = %q, want %q", got.Title, "vacation planning")
	}

	if _, err := repo.FindByID(ctx, "missing"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("FindByID(missing): err = %v, want ErrSessionNotFound", err)
	}
}

func TestSession_SetMemoryBalance(t *testing.T) {
	t.Parallel()

	session := store.NewSession("t", "d")

	if err := session.SetMemoryBalance(0.8); err != nil {
		t.Fatalf("SetMemoryBalance(0.8): unexpected error: %v", err)
	}
	if session.MemoryBalance != 0.8 {
		t.Errorf("MemoryBalance = %v, want 0.8", session.MemoryBalance)
	}

	for _, bad := range []float64{-0.1, 1.1} {
		if err := session.SetMemoryBalance(bad); !errors.Is(err, store.ErrInvalidBalance) {
			t.Errorf("SetMemoryBalance(%v): err = %v, want ErrInvalidBalance", bad, err)
		}
	}
	// A rejected value must not clamp or overwrite.
	if session.MemoryBalance != 0.8 {
		t.Errorf("MemoryBalance mutated by rejected value: %v", session.MemoryBalance)
	}
}

func TestMessageRepository_FindByChatIDNewestFirst(t *testing.T) {
	t.Parallel()

	repo := store.NewInMemoryMessageRepository()
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	for i, content := range []string{"first", "second", "third"} {
		msg := store.NewUserMessage("chat-1", "u1", "Ann", content, store.TypeMessage)
		msg.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, msg); err != nil {
			t.Fatalf("Create: unexpected error: %v", err)
		}
	}
	other := store.NewUserMessage("chat-2", "u1", "Ann", "elsewhere", store.TypeMessage)
	if err := repo.Create(ctx, other); err != nil {
		t.Fatalf("Create: unexpected error: %v", err)
	}

	got, err := repo.FindByChatID(ctx, "chat-1", 0, 100)
	if err != nil {
		t.Fatalf("FindByChatID: unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, want := range []string{"third", "second", "first"} {
		if got[i].Content != want {
			t.Errorf("message[%d] = %q, want %q", i, got[i].Content, want)
		}
	}

	skipped, err := repo.FindByChatID(ctx, "chat-1", 1, 1)
	if err != nil {
		t.Fatalf("FindByChatID(skip=1,count=1): unexpected error: %v", err)
	}
	if len(skipped) != 1 || skipped[0].Content != "second" {
		t.Fatalf("skip/count window = %+v, want just %q", skipped, "second")
	}
}

func TestMessageRepository_Upsert(t *testing.T) {
	t.Parallel()

	repo := store.NewInMemoryMessageRepository()
	ctx := context.Background()

	msg := store.NewBotMessage("chat-1", "partial")
	if err := repo.Upsert(ctx, msg); err != nil {
		t.Fatalf("Upsert(create): unexpected error: %v", err)
	}

	msg.Content = "partial and then complete"
	msg.TokenUsage = map[string]int{"responseCompletion": 12}
	if err := repo.Upsert(ctx, msg); err != nil {
		t.Fatalf("Upsert(replace): unexpected error: %v", err)
	}

	got, err := repo.FindByChatID(ctx, "chat-1", 0, 10)
	if err != nil {
		t.Fatalf("FindByChatID: unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages after double upsert, want 1", len(got))
	}
	if got[0].Content != "partial and then complete" {
		t.Errorf("Content = %q, want the replaced content", got[0].Content)
	}
	if got[0].TokenUsage["responseCompletion"] != 12 {
		t.Errorf("TokenUsage = %v, want responseCompletion=12", got[0].TokenUsage)
	}
}

func TestMessage_FormattedString(t *testing.T) {
	t.Parallel()

	msg := store.NewUserMessage("c", "u", "Ann", "hello there", store.TypeMessage)
	msg.Timestamp = time.Date(2026, 2, 1, 10, 30, 0, 0, time.UTC)

	want := "[2026-02-01 10:30:00] Ann said: hello there"
	if got := msg.FormattedString(); got != want {
		t.Errorf("FormattedString() = %q, want %q", got, want)
	}

	doc := store.NewUserMessage("c", "u", "Ann", "report.pdf", store.TypeDocument)
	doc.Timestamp = msg.Timestamp
	wantDoc := "[2026-02-01 10:30:00] Ann uploaded: report.pdf"
	if got := doc.FormattedString(); got != wantDoc {
		t.Errorf("FormattedString() = %q, want %q", got, wantDoc)
	}
}

func TestParseMessageType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want store.MessageType
	}{
		{"message", store.TypeMessage},
		{"plan", store.TypePlan},
		{"document", store.TypeDocument},
		{"bogus", store.TypeMessage},
		{"", store.TypeMessage},
	}
	for _, tt := range tests {
		if got := store.ParseMessageType(tt.in); got != tt.want {
			t.Errorf("ParseMessageType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
