package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/memory"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/provider"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/search"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/store"
	"github.com/shuaihuadu/chat-copilot-quickstart/internal/tokens"
)

// ErrTurnTimeout indicates the turn deadline elapsed before the
// response completed. The partial bot message is left as-is and never
// finalized.
var ErrTurnTimeout = errors.New("chat: turn deadline exceeded")

// TurnRequest is one incoming user message.
type TurnRequest struct {
	ChatID   string
	UserID   string
	UserName string
	Content  string

	// Type is the wire message type; unknown values fall back to a
	// plain message.
	Type string
}

// BotResponsePrompt is the rendered view of everything the model saw,
// persisted alongside the bot message for transparency.
type BotResponsePrompt struct {
	SystemPersona string `json:"systemPersona"`
	Audience      string `json:"audience,omitempty"`
	UserIntent    string `json:"userIntent"`
	ChatMemories  string `json:"chatMemories,omitempty"`
	ChatHistory   string `json:"chatHistory,omitempty"`
}

// Dependencies carries the collaborators a Pipeline is wired with.
type Dependencies struct {
	Sessions store.SessionRepository
	Messages store.MessageRepository
	Index    search.Index
	Provider provider.Provider

	// Counter defaults to the cl100k_base tokenizer, falling back to
	// the length heuristic if the encoding is unavailable.
	Counter tokens.Counter

	// Notifier defaults to NopNotifier.
	Notifier Notifier

	// Metrics may be nil.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Pipeline processes chat turns end to end.
type Pipeline struct {
	sessions  store.SessionRepository
	messages  store.MessageRepository
	retriever *memory.Retriever
	extractor *memory.Extractor
	provider  provider.Provider
	counter   tokens.Counter
	notifier  Notifier
	metrics   *Metrics
	options   Options
	logger    *slog.Logger
}

// NewPipeline validates the options and wires the turn pipeline,
// including its memory retriever and extractor.
func NewPipeline(opts Options, deps Dependencies) (*Pipeline, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	counter := deps.Counter
	if counter == nil {
		tc, err := tokens.NewTiktokenCounter()
		if err != nil {
			logger.Warn("tokenizer unavailable, using heuristic counter", "error", err)
			counter = tokens.HeuristicCounter{}
		} else {
			counter = tc
		}
	}
	retriever := memory.NewRetriever(deps.Index, deps.Sessions, memory.RetrieverConfig{
		IndexName:  opts.MemoryIndexName,
		Thresholds: opts.Thresholds,
	}, logger)
	extractor := memory.NewExtractor(deps.Index, deps.Provider, counter, memory.ExtractorConfig{
		IndexName:            opts.MemoryIndexName,
		CompletionTokenLimit: opts.CompletionTokenLimit,
		ResponseTokenLimit:   opts.ResponseTokenLimit,
		Thresholds:           opts.Thresholds,
	}, logger)
	return &Pipeline{
		sessions:  deps.Sessions,
		messages:  deps.Messages,
		retriever: retriever,
		extractor: extractor,
		provider:  deps.Provider,
		counter:   counter,
		notifier:  notifier,
		metrics:   deps.Metrics,
		options:   opts,
		logger:    logger,
	}, nil
}

// ProcessTurn runs one chat turn: it persists the user message, builds
// the budgeted prompt, streams the model response into a progressively
// updated bot message, and finishes with a best-effort memory
// extraction pass. On deadline expiry it returns ErrTurnTimeout and the
// partial bot message is not finalized.
func (p *Pipeline) ProcessTurn(ctx context.Context, req TurnRequest) (*store.Message, error) {
	start := time.Now()
	if p.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.options.RequestTimeout)
		defer cancel()
	}

	msg, err := p.processTurn(ctx, req)
	switch {
	case err == nil:
		p.metrics.observeTurn(outcomeOK, time.Since(start))
	case errors.Is(err, ErrTurnTimeout):
		p.metrics.observeTurn(outcomeTimeout, time.Since(start))
	default:
		p.metrics.observeTurn(outcomeError, time.Since(start))
	}
	return msg, err
}

func (p *Pipeline) processTurn(ctx context.Context, req TurnRequest) (*store.Message, error) {
	session, err := p.sessions.FindByID(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	systemDescription := p.options.SystemDescription
	if session.SystemDescription != "" {
		systemDescription = session.SystemDescription
	}

	p.notifier.Status(req.ChatID, "Saving user message to chat history")
	userMsg := store.NewUserMessage(req.ChatID, req.UserID, req.UserName, req.Content, store.ParseMessageType(req.Type))
	if err := p.messages.Create(ctx, userMsg); err != nil {
		return nil, p.turnErr(ctx, fmt.Errorf("persist user message: %w", err))
	}

	persona := systemDescription + "\n" + p.options.SystemResponse

	metaHistory, err := p.allottedChatHistory(ctx, req.ChatID, p.options.maxRequestTokenBudget())
	if err != nil {
		return nil, p.turnErr(ctx, fmt.Errorf("extract chat history: %w", err))
	}

	audience := ""
	if req.UserID != DefaultUserID {
		p.notifier.Status(req.ChatID, "Extracting audience")
		audience, err = p.extractAudience(ctx, metaHistory)
		if err != nil {
			return nil, p.turnErr(ctx, fmt.Errorf("extract audience: %w", err))
		}
	}

	p.notifier.Status(req.ChatID, "Extracting user intent")
	intent, err := p.extractIntent(ctx, systemDescription, metaHistory)
	if err != nil {
		return nil, p.turnErr(ctx, fmt.Errorf("extract user intent: %w", err))
	}

	fragments := []provider.LLMMessage{
		{Role: provider.MessageRoleSystem, Content: persona},
	}
	if audience != "" {
		fragments = append(fragments, provider.LLMMessage{Role: provider.MessageRoleSystem, Content: audience})
	}
	fragments = append(fragments, provider.LLMMessage{Role: provider.MessageRoleSystem, Content: intent})

	tokensUsed := 0
	for _, f := range fragments {
		tokensUsed += tokens.ContextMessageTokenCount(p.counter, string(f.Role), f.Content)
	}

	maxBudget := p.options.maxRequestTokenBudget()
	userMsgCost := tokens.ContextMessageTokenCount(p.counter, "user", userMsg.FormattedString())
	memoryBudget := int(float64(maxBudget-tokensUsed-userMsgCost) * p.options.MemoriesResponseWeight)

	p.notifier.Status(req.ChatID, "Extracting semantic and document memories")
	snippets, err := p.retriever.Query(ctx, intent, req.ChatID)
	if err != nil {
		return nil, p.turnErr(ctx, fmt.Errorf("retrieve memories: %w", err))
	}
	memoryText, citations := memory.Pack(snippets, memoryBudget, p.counter)
	if memoryText != "" {
		fragments = append(fragments, provider.LLMMessage{Role: provider.MessageRoleSystem, Content: memoryText})
		tokensUsed += tokens.ContextMessageTokenCount(p.counter, "system", memoryText)
	}

	p.notifier.Status(req.ChatID, "Extracting chat history")
	history, err := p.allottedChatHistory(ctx, req.ChatID, maxBudget-tokensUsed)
	if err != nil {
		return nil, p.turnErr(ctx, fmt.Errorf("extract chat history: %w", err))
	}
	if history != "" {
		fragments = append(fragments, provider.LLMMessage{Role: provider.MessageRoleSystem, Content: chatHistoryHeader + history})
		tokensUsed += tokens.ContextMessageTokenCount(p.counter, "system", chatHistoryHeader+history)
	}

	p.metrics.observePrompt(tokensUsed, len(citations))

	promptView, err := json.Marshal(BotResponsePrompt{
		SystemPersona: persona,
		Audience:      audience,
		UserIntent:    intent,
		ChatMemories:  memoryText,
		ChatHistory:   history,
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt view: %w", err)
	}

	p.notifier.Status(req.ChatID, "Generating bot response")
	botMsg, usage, err := p.streamResponse(ctx, req.ChatID, fragments)
	if err != nil {
		return nil, p.turnErr(ctx, err)
	}

	botMsg.Prompt = string(promptView)
	botMsg.Citations = citationList(citations)
	botMsg.TokenUsage = map[string]int{
		"metaPromptTemplate": tokensUsed,
		"responseCompletion": usage.CompletionTokens,
	}
	if err := p.messages.Upsert(ctx, botMsg); err != nil {
		return nil, p.turnErr(ctx, fmt.Errorf("finalize bot message: %w", err))
	}
	p.notifier.MessageUpdate(botMsg)

	// Memory extraction happens after the reply is finalized; its
	// failures never fail the turn.
	p.notifier.Status(req.ChatID, "Generating semantic chat memory")
	if err := p.extractor.Extract(ctx, req.ChatID, history); err != nil {
		p.logger.Warn("memory extraction aborted", "chat_id", req.ChatID, "error", err)
	}

	return botMsg, nil
}

// streamResponse streams the completion into a bot message, upserting
// it after every delta so observers can watch the reply grow.
func (p *Pipeline) streamResponse(ctx context.Context, chatID string, fragments []provider.LLMMessage) (*store.Message, provider.TokenUsage, error) {
	botMsg := store.NewBotMessage(chatID, "")
	var usage provider.TokenUsage

	ch, err := p.provider.Stream(ctx, provider.CompletionRequest{
		Messages:         fragments,
		MaxTokens:        p.options.ResponseTokenLimit,
		Temperature:      &p.options.ResponseTemperature,
		TopP:             &p.options.ResponseTopP,
		PresencePenalty:  &p.options.ResponsePresencePenalty,
		FrequencyPenalty: &p.options.ResponseFrequencyPenalty,
	})
	if err != nil {
		return nil, usage, fmt.Errorf("start response stream: %w", err)
	}

	var content strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, usage, fmt.Errorf("response stream: %w", chunk.Err)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Content == "" {
			continue
		}
		content.WriteString(chunk.Content)
		botMsg.Content = content.String()
		if err := p.messages.Upsert(ctx, botMsg); err != nil {
			return nil, usage, fmt.Errorf("persist bot message delta: %w", err)
		}
		p.notifier.MessageUpdate(botMsg)
	}
	if err := ctx.Err(); err != nil {
		return nil, usage, err
	}
	return botMsg, usage, nil
}

// extractAudience asks the model for the chat participant list.
func (p *Pipeline) extractAudience(ctx context.Context, history string) (string, error) {
	prompt := p.options.SystemAudience + "\n\n" +
		chatHistoryHeader + history + "\n\n" +
		p.options.SystemAudienceContinuation
	resp, err := p.provider.Complete(ctx, p.intentRequest(prompt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// extractIntent rewrites the last user message into a standalone
// search query, grounded in the session persona and recent history.
func (p *Pipeline) extractIntent(ctx context.Context, systemDescription, history string) (string, error) {
	prompt := systemDescription + "\n" + p.options.SystemIntent + "\n\n" +
		chatHistoryHeader + history + "\n\n" +
		p.options.SystemIntentContinuation
	resp, err := p.provider.Complete(ctx, p.intentRequest(prompt))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (p *Pipeline) intentRequest(prompt string) provider.CompletionRequest {
	return provider.CompletionRequest{
		Messages:         []provider.LLMMessage{{Role: provider.MessageRoleSystem, Content: prompt}},
		MaxTokens:        p.options.ResponseTokenLimit,
		Temperature:      &p.options.IntentTemperature,
		TopP:             &p.options.IntentTopP,
		PresencePenalty:  &p.options.IntentPresencePenalty,
		FrequencyPenalty: &p.options.IntentFrequencyPenalty,
		Stop:             []string{"] bot:"},
	}
}

// turnErr maps deadline expiry to ErrTurnTimeout; other errors pass
// through unchanged.
func (p *Pipeline) turnErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTurnTimeout, err)
	}
	return err
}

// citationList orders the de-duplicated citation set by descending
// relevance for presentation.
func citationList(citations map[string]store.CitationSource) []store.CitationSource {
	if len(citations) == 0 {
		return nil
	}
	out := make([]store.CitationSource, 0, len(citations))
	for _, c := range citations {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		return out[i].Link < out[j].Link
	})
	return out
}
