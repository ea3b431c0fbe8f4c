package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/provider"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/provider/providertest"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/tokens"
)

// recordingNotifier captures status transitions for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	statuses []string
}

func (n *recordingNotifier) Status(_, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
}

func (n *recordingNotifier) MessageUpdate(*store.Message) {}

func (n *recordingNotifier) recorded() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.statuses))
	copy(out, n.statuses)
	return out
}

// scriptedComplete answers intent and audience prompts by their
// continuation markers and memory extraction prompts with an empty
// item list.
func scriptedComplete(intent, audience string) func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
	return func(_ context.Context, req provider.CompletionRequest) (provider.CompletionResponse, error) {
		prompt := req.Messages[0].Content
		switch {
		case strings.Contains(prompt, defaultSystemIntentContinuation):
			return provider.CompletionResponse{Content: intent, FinishReason: provider.FinishReasonStop}, nil
		case strings.Contains(prompt, defaultSystemAudienceContinuation):
			return provider.CompletionResponse{Content: audience, FinishReason: provider.FinishReasonStop}, nil
		default:
			return provider.CompletionResponse{Content: `{"items": []}`, FinishReason: provider.FinishReasonStop}, nil
		}
	}
}

type testEnv struct {
	pipeline *Pipeline
	sessions *store.InMemorySessionRepository
	messages *store.InMemoryMessageRepository
	index    *search.MemIndex
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, mock *providertest.MockProvider, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions: store.NewInMemorySessionRepository(),
		messages: store.NewInMemoryMessageRepository(),
		index:    search.NewMemIndex(),
		notifier: &recordingNotifier{},
	}
	pipeline, err := NewPipeline(opts, Dependencies{
		Sessions: env.sessions,
		Messages: env.messages,
		Index:    env.index,
		Provider: mock,
		Counter:  tokens.HeuristicCounter{},
		Notifier: env.notifier,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	env.pipeline = pipeline
	return env
}

func (e *testEnv) seedSession(t *testing.T) *store.Session {
	t.Helper()
	session := store.NewSession("test chat", "")
	if err := e.sessions.Save(context.Background(), session); err != nil {
		t.Fatalf("Save session: %v", err)
	}
	return session
}

func TestProcessTurn_AssemblesPromptAndStreamsResponse(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockProvider{
		CompleteFunc: scriptedComplete("favorite color", "Alice, Bot"),
		StreamFunc: providertest.StaticStream(
			provider.TokenUsage{PromptTokens: 100, CompletionTokens: 12, TotalTokens: 112},
			"Your favorite color", " is blue.",
		),
	}
	env := newTestEnv(t, mock, Options{})
	session := env.seedSession(t)

	// Memories the intent text scores 1.0 against.
	for _, rec := range []search.Record{
		{
			ID: "m1", Index: "chatmemory", ChatID: session.ID,
			Partition: search.LongTermMemory, Text: "user's favorite color: blue",
		},
		{
			ID: "d1", Index: "chatmemory", ChatID: session.ID,
			Partition: search.DocumentMemory, Text: "favorite color guide",
			SourceName: "colors.txt", Link: "doc://colors", SourceContentType: "text/plain",
		},
	} {
		if err := env.index.Store(context.Background(), rec); err != nil {
			t.Fatalf("Store record: %v", err)
		}
	}

	bot, err := env.pipeline.ProcessTurn(context.Background(), TurnRequest{
		ChatID:   session.ID,
		UserID:   "user-1",
		UserName: "Alice",
		Content:  "what is my favorite color?",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if bot.Content != "Your favorite color is blue." {
		t.Errorf("bot content = %q", bot.Content)
	}
	if got := bot.TokenUsage["responseCompletion"]; got != 12 {
		t.Errorf("responseCompletion usage = %d, want 12", got)
	}
	if bot.TokenUsage["metaPromptTemplate"] <= 0 {
		t.Errorf("metaPromptTemplate usage = %d, want > 0", bot.TokenUsage["metaPromptTemplate"])
	}
	if !strings.Contains(bot.Prompt, `"userIntent":"favorite color"`) {
		t.Errorf("prompt view missing intent: %s", bot.Prompt)
	}
	if len(bot.Citations) != 1 || bot.Citations[0].Link != "doc://colors" {
		t.Errorf("citations = %+v, want one for doc://colors", bot.Citations)
	}

	// The streamed request must carry persona, memories, history and
	// the user message inside the history block. It is the only
	// request assembled from multiple prompt fragments.
	var streamReq provider.CompletionRequest
	for _, req := range mock.Requests() {
		if len(req.Messages) > 2 {
			streamReq = req
			break
		}
	}
	if len(streamReq.Messages) == 0 {
		t.Fatal("no streamed request recorded")
	}
	var joined strings.Builder
	for _, m := range streamReq.Messages {
		joined.WriteString(m.Content)
		joined.WriteString("\n")
	}
	for _, want := range []string{
		"[LongTermMemory] user's favorite color: blue",
		"Document link:doc://colors.",
		"Chat history:",
		"Alice said: what is my favorite color?",
	} {
		if !strings.Contains(joined.String(), want) {
			t.Errorf("stream prompt missing %q", want)
		}
	}
	if streamReq.MaxTokens != defaultResponseTokenLimit {
		t.Errorf("stream MaxTokens = %d, want %d", streamReq.MaxTokens, defaultResponseTokenLimit)
	}

	// Both the user and the finalized bot message are persisted.
	msgs, err := env.messages.FindByChatID(context.Background(), session.ID, 0, 0)
	if err != nil {
		t.Fatalf("FindByChatID: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted messages = %d, want 2", len(msgs))
	}
}

func TestProcessTurn_UnknownSession(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockProvider{
		CompleteFunc: scriptedComplete("anything", ""),
	}
	env := newTestEnv(t, mock, Options{})

	_, err := env.pipeline.ProcessTurn(context.Background(), TurnRequest{
		ChatID: "no-such-chat", UserID: "user-1", UserName: "Alice", Content: "hi",
	})
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("error = %v, want ErrSessionNotFound", err)
	}
	if mock.CompleteCalls() != 0 || mock.StreamCalls() != 0 {
		t.Errorf("provider was called for an unknown session")
	}
}

func TestProcessTurn_SkipsAudienceForDefaultUser(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockProvider{
		CompleteFunc: scriptedComplete("greeting", "should not be requested"),
		StreamFunc: providertest.StaticStream(
			provider.TokenUsage{CompletionTokens: 3, TotalTokens: 10}, "Hello!",
		),
	}
	env := newTestEnv(t, mock, Options{})
	session := env.seedSession(t)

	bot, err := env.pipeline.ProcessTurn(context.Background(), TurnRequest{
		ChatID:   session.ID,
		UserID:   DefaultUserID,
		UserName: "Guest",
		Content:  "hello there",
	})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if bot.Content != "Hello!" {
		t.Errorf("bot content = %q", bot.Content)
	}
	for _, req := range mock.Requests() {
		if strings.Contains(req.Messages[0].Content, defaultSystemAudienceContinuation) {
			t.Error("audience extraction ran for the default user")
		}
	}
	if strings.Contains(bot.Prompt, `"audience"`) {
		t.Errorf("prompt view carries an audience for the default user: %s", bot.Prompt)
	}
}

func TestProcessTurn_CompletionFailureIsFatal(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			return provider.CompletionResponse{}, provider.ErrProviderDown
		},
	}
	env := newTestEnv(t, mock, Options{})
	session := env.seedSession(t)

	_, err := env.pipeline.ProcessTurn(context.Background(), TurnRequest{
		ChatID: session.ID, UserID: "user-1", UserName: "Alice", Content: "hi",
	})
	if !errors.Is(err, provider.ErrProviderDown) {
		t.Fatalf("error = %v, want ErrProviderDown", err)
	}
	if mock.StreamCalls() != 0 {
		t.Error("response stream started after a fatal extraction failure")
	}
}

func TestProcessTurn_TimeoutReturnsErrTurnTimeout(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockProvider{
		CompleteFunc: scriptedComplete("greeting", "Alice, Bot"),
		StreamFunc: func(ctx context.Context, _ provider.CompletionRequest) (<-chan provider.StreamChunk, error) {
			ch := make(chan provider.StreamChunk, 1)
			go func() {
				defer close(ch)
				<-ctx.Done()
				ch <- provider.StreamChunk{Err: ctx.Err()}
			}()
			return ch, nil
		},
	}
	env := newTestEnv(t, mock, Options{RequestTimeout: 50 * time.Millisecond})
	session := env.seedSession(t)

	_, err := env.pipeline.ProcessTurn(context.Background(), TurnRequest{
		ChatID: session.ID, UserID: "user-1", UserName: "Alice", Content: "hi",
	})
	if !errors.Is(err, ErrTurnTimeout) {
		t.Fatalf("error = %v, want ErrTurnTimeout", err)
	}

	// The bot message never produced a delta, so only the user message
	// was persisted. No finalized message may exist.
	msgs, findErr := env.messages.FindByChatID(context.Background(), session.ID, 0, 0)
	if findErr != nil {
		t.Fatalf("FindByChatID: %v", findErr)
	}
	for _, m := range msgs {
		if m.AuthorRole == store.RoleBot && m.Prompt != "" {
			t.Error("a bot message was finalized despite the timeout")
		}
	}
}

func TestProcessTurn_StatusSequence(t *testing.T) {
	t.Parallel()

	mock := &providertest.MockProvider{
		CompleteFunc: scriptedComplete("greeting", "Alice, Bot"),
		StreamFunc: providertest.StaticStream(
			provider.TokenUsage{CompletionTokens: 2, TotalTokens: 5}, "Hi!",
		),
	}
	env := newTestEnv(t, mock, Options{})
	session := env.seedSession(t)

	if _, err := env.pipeline.ProcessTurn(context.Background(), TurnRequest{
		ChatID: session.ID, UserID: "user-1", UserName: "Alice", Content: "hi",
	}); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	want := []string{
		"Saving user message to chat history",
		"Extracting audience",
		"Extracting user intent",
		"Extracting semantic and document memories",
		"Extracting chat history",
		"Generating bot response",
		"Generating semantic chat memory",
	}
	got := env.notifier.recorded()
	if len(got) != len(want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
