package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewAnthropicProvider creates a provider. An empty baseURL uses the public API.
func NewAnthropicProvider(apiKey, baseURL, model string) *AnthropicProvider {
	url := anthropicURL
	if baseURL != "" {
		url = strings.TrimRight(baseURL, "/") + "/v1/messages"
	}
	return &AnthropicProvider{
		apiKey: apiKey,
		model:  model,
		url:    url,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Temperature   float32            `json:"temperature"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, messages []ports.Message, opts ports.Options) (ports.Completion, error) {
	system, msgs := toAnthropicMessages(messages, len(opts.Tools) > 0)
	reqBody := anthropicRequest{
		Model:         p.model,
		MaxTokens:     opts.MaxNewTokens,
		System:        system,
		Messages:      msgs,
		Temperature:   opts.Temperature,
		StopSequences: opts.Stop,
	}
	if reqBody.MaxTokens <= 0 {
		reqBody.MaxTokens = 800
	}
	for _, spec := range opts.Tools {
		reqBody.Tools = append(reqBody.Tools, anthropicTool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: json.RawMessage(spec.JSONSchema),
		})
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("api call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Type != "" {
			return ports.Completion{}, fmt.Errorf("api error %d: %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message)
		}
		return ports.Completion{}, fmt.Errorf("api error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return ports.Completion{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(apiResp.Content) == 0 {
		return ports.Completion{}, errors.New("empty response content")
	}

	completion := ports.Completion{
		Raw: apiResp,
		Usage: &ports.Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}
	var text []string
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			completion.ToolCalls = append(completion.ToolCalls, ports.ToolCall{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		}
	}
	completion.Text = strings.Join(text, "")
	return completion, nil
}

// toAnthropicMessages lifts system messages into the top-level prompt and folds
// consecutive tool results into a single user turn. The API refuses tool_use and
// tool_result blocks in a request that defines no tools, so without toolBlocks
// the tool exchange is rendered as plain text.
func toAnthropicMessages(messages []ports.Message, toolBlocks bool) (string, []anthropicMessage) {
	var (
		system   []string
		out      []anthropicMessage
		names    = make(map[string]string)
		lastTool bool
	)
	for _, m := range messages {
		if m.Role == ports.RoleTool {
			block := anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if !toolBlocks {
				name := names[m.ToolCallID]
				if name == "" {
					name = m.ToolCallID
				}
				block = anthropicBlock{Type: "text", Text: fmt.Sprintf("Result of %s:\n%s", name, m.Content)}
			}
			if lastTool {
				out[len(out)-1].Content = append(out[len(out)-1].Content, block)
			} else {
				out = append(out, anthropicMessage{Role: ports.RoleUser, Content: []anthropicBlock{block}})
			}
			lastTool = true
			continue
		}
		lastTool = false

		switch m.Role {
		case ports.RoleSystem:
			system = append(system, m.Content)
		case ports.RoleAssistant:
			msg := anthropicMessage{Role: ports.RoleAssistant}
			if m.Content != "" {
				msg.Content = append(msg.Content, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				names[tc.ID] = tc.Name
				input := tc.Args
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				if toolBlocks {
					msg.Content = append(msg.Content, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
				} else {
					msg.Content = append(msg.Content, anthropicBlock{Type: "text", Text: fmt.Sprintf("Called %s with %s", tc.Name, input)})
				}
			}
			out = append(out, msg)
		default:
			out = append(out, anthropicMessage{Role: ports.RoleUser, Content: []anthropicBlock{{Type: "text", Text: m.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), out
}

var _ ports.Provider = (*AnthropicProvider)(nil)
