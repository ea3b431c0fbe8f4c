// Package chat orchestrates one chat turn: persisting the incoming
// message, budgeting the prompt across persona, audience, intent,
// memories and history, streaming the completion, and running the
// post-turn memory extraction.
package chat

import (
	"fmt"
	"time"

	"github.com/shuaihuadu/chat-copilot-quickstart/internal/memory"
)

// DefaultUserID is the anonymous pass-through identity. Sessions for
// this user never get audience extraction.
const DefaultUserID = "c05c61eb-65e4-4223-915a-fe72b0c9ece1"

// Default option values.
const (
	defaultCompletionTokenLimit = 4096
	defaultResponseTokenLimit   = 1024

	// defaultPerMessageOverhead accounts for per-message wire framing.
	defaultPerMessageOverhead = 20

	// defaultMemoriesResponseWeight is the share of the remaining
	// budget reserved for memories; the rest goes to chat history.
	defaultMemoriesResponseWeight = 0.6

	defaultRequestTimeout = 2 * time.Minute

	defaultSystemDescription = "This is a chat between an intelligent AI bot named Copilot and one or more participants. " +
		"The AI was trained on data through 2023 and is not aware of events that have occurred since then. " +
		"It also has no ability to access data on the Internet, so it should not claim that it can or say that it will go and look things up."

	defaultSystemResponse = "Either return [silence] or provide a response to the last message. " +
		"ONLY PROVIDE A RESPONSE IF the last message WAS ADDRESSED TO THE 'BOT' OR 'COPILOT'. " +
		"If it appears the last message was not addressed to you, ONLY respond with \"[silence]\"."

	defaultSystemIntent = "Rewrite the last message to reflect the user's intent, taking into consideration the provided chat history. " +
		"The output should be a single rewritten sentence that describes the user's intent and is understandable outside of the context of the chat history, " +
		"in a way that will be useful for creating an embedding for semantic search."

	defaultSystemIntentContinuation = "REWRITTEN INTENT WITH EMBEDDED CONTEXT:\n"

	defaultSystemAudience = "Create a list of the participants of this chat. " +
		"Include all participants who have sent messages, identified by name."

	defaultSystemAudienceContinuation = "List of participants:\n"
)

// Options holds the prompt texts, token limits and sampling parameters
// for the turn pipeline. None of the constants are hard-coded in the
// pipeline itself; this struct is the single tuning surface.
type Options struct {
	// CompletionTokenLimit is the completion model's context window.
	CompletionTokenLimit int `yaml:"completion_token_limit"`

	// ResponseTokenLimit is the headroom reserved for the model reply.
	ResponseTokenLimit int `yaml:"response_token_limit"`

	// PerMessageOverheadTokens is the fixed per-message framing cost
	// subtracted from the request budget.
	PerMessageOverheadTokens int `yaml:"per_message_overhead_tokens"`

	// MemoriesResponseWeight splits the remaining budget between
	// memories and chat history.
	MemoriesResponseWeight float64 `yaml:"memories_response_weight"`

	// RequestTimeout bounds one whole turn, including streaming and
	// memory extraction.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MemoryIndexName is the semantic index for all memory partitions.
	MemoryIndexName string `yaml:"memory_index_name"`

	// Thresholds are the relevance bounds for memory retrieval.
	Thresholds memory.Thresholds `yaml:"thresholds"`

	// KnowledgeCutoff is surfaced to the model in the persona text.
	KnowledgeCutoff string `yaml:"knowledge_cutoff"`

	// Prompt texts. A session's own system description overrides
	// SystemDescription per turn.
	SystemDescription          string `yaml:"system_description"`
	SystemResponse             string `yaml:"system_response"`
	SystemIntent               string `yaml:"system_intent"`
	SystemIntentContinuation   string `yaml:"system_intent_continuation"`
	SystemAudience             string `yaml:"system_audience"`
	SystemAudienceContinuation string `yaml:"system_audience_continuation"`

	// Sampling parameters for the primary response completion.
	ResponseTemperature      float64 `yaml:"response_temperature"`
	ResponseTopP             float64 `yaml:"response_top_p"`
	ResponsePresencePenalty  float64 `yaml:"response_presence_penalty"`
	ResponseFrequencyPenalty float64 `yaml:"response_frequency_penalty"`

	// Sampling parameters for intent and audience extraction.
	IntentTemperature      float64 `yaml:"intent_temperature"`
	IntentTopP             float64 `yaml:"intent_top_p"`
	IntentPresencePenalty  float64 `yaml:"intent_presence_penalty"`
	IntentFrequencyPenalty float64 `yaml:"intent_frequency_penalty"`
}

// WithDefaults fills zero fields with default values.
func (o Options) WithDefaults() Options {
	if o.CompletionTokenLimit == 0 {
		o.CompletionTokenLimit = defaultCompletionTokenLimit
	}
	if o.ResponseTokenLimit == 0 {
		o.ResponseTokenLimit = defaultResponseTokenLimit
	}
	if o.PerMessageOverheadTokens == 0 {
		o.PerMessageOverheadTokens = defaultPerMessageOverhead
	}
	if o.MemoriesResponseWeight == 0 {
		o.MemoriesResponseWeight = defaultMemoriesResponseWeight
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.MemoryIndexName == "" {
		o.MemoryIndexName = "chatmemory"
	}
	o.Thresholds = o.Thresholds.WithDefaults()
	if o.KnowledgeCutoff == "" {
		o.KnowledgeCutoff = "2023-12-31"
	}
	if o.SystemDescription == "" {
		o.SystemDescription = defaultSystemDescription
	}
	if o.SystemResponse == "" {
		o.SystemResponse = defaultSystemResponse
	}
	if o.SystemIntent == "" {
		o.SystemIntent = defaultSystemIntent
	}
	if o.SystemIntentContinuation == "" {
		o.SystemIntentContinuation = defaultSystemIntentContinuation
	}
	if o.SystemAudience == "" {
		o.SystemAudience = defaultSystemAudience
	}
	if o.SystemAudienceContinuation == "" {
		o.SystemAudienceContinuation = defaultSystemAudienceContinuation
	}
	if o.ResponseTemperature == 0 {
		o.ResponseTemperature = 0.7
	}
	if o.ResponseTopP == 0 {
		o.ResponseTopP = 1
	}
	if o.ResponsePresencePenalty == 0 {
		o.ResponsePresencePenalty = 0.5
	}
	if o.ResponseFrequencyPenalty == 0 {
		o.ResponseFrequencyPenalty = 0.5
	}
	if o.IntentTemperature == 0 {
		o.IntentTemperature = 0.7
	}
	if o.IntentTopP == 0 {
		o.IntentTopP = 1
	}
	if o.IntentPresencePenalty == 0 {
		o.IntentPresencePenalty = 0.5
	}
	if o.IntentFrequencyPenalty == 0 {
		o.IntentFrequencyPenalty = 0.5
	}
	return o
}

// Validate checks the option invariants the budget arithmetic depends on.
func (o Options) Validate() error {
	if o.CompletionTokenLimit <= 0 {
		return fmt.Errorf("chat: completion_token_limit must be positive, got %d", o.CompletionTokenLimit)
	}
	if o.ResponseTokenLimit <= 0 {
		return fmt.Errorf("chat: response_token_limit must be positive, got %d", o.ResponseTokenLimit)
	}
	if o.ResponseTokenLimit+o.PerMessageOverheadTokens >= o.CompletionTokenLimit {
		return fmt.Errorf("chat: response_token_limit %d plus overhead %d leaves no request budget within %d",
			o.ResponseTokenLimit, o.PerMessageOverheadTokens, o.CompletionTokenLimit)
	}
	if o.MemoriesResponseWeight <= 0 || o.MemoriesResponseWeight > 1 {
		return fmt.Errorf("chat: memories_response_weight must be in (0,1], got %v", o.MemoriesResponseWeight)
	}
	return nil
}

// maxRequestTokenBudget is the budget available for the whole request
// prompt after reserving the reply headroom and message framing.
func (o Options) maxRequestTokenBudget() int {
	return o.CompletionTokenLimit - o.PerMessageOverheadTokens - o.ResponseTokenLimit
}
