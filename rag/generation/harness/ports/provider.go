package harnessports

import (
	"context"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single chat message sent to a provider.
type Message struct {
	Role    string
	Content string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID is set on tool messages and references the call being answered.
	ToolCallID string
}

// Options controls sampling, limits, determinism and the tools offered for one call.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	Seed         int
	Stop         []string
	// Tools offered to the model on this call; empty means the model must answer in text.
	Tools []ToolSpec
	// TimeoutMs applies to the provider call only (not overall harness deadline)
	TimeoutMs int
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates u2 into u and returns u. A nil receiver starts from zero.
func (u *Usage) Add(u2 *Usage) *Usage {
	if u2 == nil {
		return u
	}
	if u == nil {
		u = &Usage{}
	}
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
	return u
}

// Completion is the provider's non-streaming response.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Raw       any    // raw provider payload for debugging/telemetry
	Usage     *Usage // optional usage information
}

// Provider is the abstraction for all LLM backends. Implementations hold no per-call
// state, so one value may serve concurrent queries.
type Provider interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Completion, error)
}
