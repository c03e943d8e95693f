package harness

import (
	"strings"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
)

// SystemPrompt instructs the model on when to search the course corpus and how to answer.
const SystemPrompt = `You are an assistant for course materials and educational content. You can call a search tool over the course corpus.

When to search:
- Search only for questions about specific course content or detailed course materials.
- Answer general knowledge questions from your own knowledge without searching.
- Make at most one search per question.
- If the search finds nothing, say so plainly and do not offer alternatives.

How to answer:
- Give the direct answer only. Do not describe your reasoning or the search, and do not say "based on the search results".
- Keep answers brief and focused on what was asked.
- Keep them instructive and in accessible language.
- Include a short example when it helps understanding.`

// HistoryPrefix introduces prior turns in the history message.
const HistoryPrefix = "Previous conversation:\n"

// PromptBuilder assembles the Deciding-phase message list.
type PromptBuilder struct {
	system string
	// EstimateTokens is used for trace attributes only; it never gates a call.
	EstimateTokens func(s string) int
}

// NewPromptBuilder uses SystemPrompt when system is empty.
func NewPromptBuilder(system string, estimate func(s string) int) *PromptBuilder {
	if system == "" {
		system = SystemPrompt
	}
	if estimate == nil {
		estimate = func(s string) int { // rough heuristic: ~4 chars per token
			return (len(s) + 3) / 4
		}
	}
	return &PromptBuilder{system: system, EstimateTokens: estimate}
}

// Build returns system instructions, the optional history message and the user query, in that order.
func (b *PromptBuilder) Build(history, query string) []ports.Message {
	messages := make([]ports.Message, 0, 3)
	messages = append(messages, ports.Message{Role: ports.RoleSystem, Content: normalize(b.system)})

	if h := normalize(history); h != "" {
		messages = append(messages, ports.Message{Role: ports.RoleUser, Content: HistoryPrefix + h})
	}

	messages = append(messages, ports.Message{Role: ports.RoleUser, Content: normalize(query)})
	return messages
}

// PromptTokens estimates the token count of messages.
func (b *PromptBuilder) PromptTokens(messages []ports.Message) int {
	total := 0
	for _, m := range messages {
		total += b.EstimateTokens(m.Content)
	}
	return total
}

// normalize trims and unifies newlines so equal prompts render identically.
func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
