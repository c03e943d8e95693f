package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/course-rag/rag/config"
	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/ZanzyTHEbar/course-rag/rag/memory/service"
)

const searchSchema = `{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestOpenAIProvider_ToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, "test-model", body["model"])
		assert.Greater(t, body["temperature"].(float64), 0.0)
		assert.Less(t, body["temperature"].(float64), 1e-6)
		assert.Equal(t, float64(42), body["seed"])
		assert.Equal(t, float64(800), body["max_tokens"])

		tools := body["tools"].([]any)
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]any)["function"].(map[string]any)
		assert.Equal(t, "search_course_content", fn["name"])
		assert.Equal(t, []any{"query"}, fn["parameters"].(map[string]any)["required"])

		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1",
			"choices": []any{map[string]any{
				"index": 0,
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{map[string]any{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "search_course_content",
							"arguments": `{"query":"python"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL+"/v1", "test-model")
	completion, err := p.Complete(context.Background(), []ports.Message{
		{Role: ports.RoleSystem, Content: "sys"},
		{Role: ports.RoleUser, Content: "what is python?"},
	}, ports.Options{
		MaxNewTokens: 800,
		Seed:         42,
		Tools:        []ports.ToolSpec{{Name: "search_course_content", Description: "search", JSONSchema: []byte(searchSchema)}},
	})

	require.NoError(t, err)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "call_1", completion.ToolCalls[0].ID)
	assert.Equal(t, "search_course_content", completion.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"python"}`, string(completion.ToolCalls[0].Args))
	assert.Equal(t, &ports.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, completion.Usage)
}

func TestOpenAIProvider_SendsToolRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.NotContains(t, body, "tools")

		messages := body["messages"].([]any)
		require.Len(t, messages, 3)
		assistant := messages[1].(map[string]any)
		assert.Equal(t, "assistant", assistant["role"])
		call := assistant["tool_calls"].([]any)[0].(map[string]any)
		assert.Equal(t, "call_1", call["id"])
		tool := messages[2].(map[string]any)
		assert.Equal(t, "tool", tool["role"])
		assert.Equal(t, "call_1", tool["tool_call_id"])
		assert.Equal(t, "[Course]\ntext", tool["content"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{"role": "assistant", "content": "final answer"},
			}},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL+"/v1", "m")
	completion, err := p.Complete(context.Background(), []ports.Message{
		{Role: ports.RoleUser, Content: "q"},
		{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "call_1", Name: "search_course_content", Args: json.RawMessage(`{"query":"q"}`)}}},
		{Role: ports.RoleTool, Content: "[Course]\ntext", ToolCallID: "call_1"},
	}, ports.Options{})

	require.NoError(t, err)
	assert.Equal(t, "final answer", completion.Text)
	assert.Empty(t, completion.ToolCalls)
}

func TestOpenAIProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL+"/v1", "m")
	_, err := p.Complete(context.Background(), []ports.Message{{Role: ports.RoleUser, Content: "q"}}, ports.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestOpenAIEmbedder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "embed-model", body["model"])
		assert.Equal(t, float64(2), body["dimensions"])
		assert.Equal(t, []any{"a", "b"}, body["input"])

		w.Header().Set("Content-Type", "application/json")
		// out of order on purpose
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []any{
				map[string]any{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
				map[string]any{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer server.Close()

	e := NewOpenAIEmbedder("k", server.URL+"/v1", "embed-model", 2)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, e.Dimension())

	vecs, err = e.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestAnthropicProvider_ToolUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-test", req.Model)
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, float32(0), req.Temperature)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "search_course_content", req.Tools[0].Name)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]any{
			"content": []any{
				map[string]any{"type": "text", "text": "Let me search."},
				map[string]any{"type": "tool_use", "id": "toolu_1", "name": "search_course_content", "input": map[string]any{"query": "python"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 20, "output_tokens": 7},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider("test-key", server.URL, "claude-test")
	completion, err := p.Complete(context.Background(), []ports.Message{
		{Role: ports.RoleSystem, Content: "sys"},
		{Role: ports.RoleUser, Content: "what is python?"},
	}, ports.Options{Tools: []ports.ToolSpec{{Name: "search_course_content", JSONSchema: []byte(searchSchema)}}})

	require.NoError(t, err)
	assert.Equal(t, "Let me search.", completion.Text)
	require.Len(t, completion.ToolCalls, 1)
	assert.Equal(t, "toolu_1", completion.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"python"}`, string(completion.ToolCalls[0].Args))
	assert.Equal(t, 27, completion.Usage.TotalTokens)
}

func TestAnthropicProvider_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "max_tokens is too large"},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider("k", server.URL, "m")
	_, err := p.Complete(context.Background(), []ports.Message{{Role: ports.RoleUser, Content: "hi"}}, ports.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "max_tokens is too large")
}

var toolExchange = []ports.Message{
	{Role: ports.RoleSystem, Content: "sys"},
	{Role: ports.RoleUser, Content: "q"},
	{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "a", Name: "t"}, {ID: "b", Name: "t", Args: json.RawMessage(`{"query":"x"}`)}}},
	{Role: ports.RoleTool, ToolCallID: "a", Content: "ra"},
	{Role: ports.RoleTool, ToolCallID: "b", Content: "rb"},
}

func TestToAnthropicMessages(t *testing.T) {
	system, msgs := toAnthropicMessages(toolExchange, true)

	assert.Equal(t, "sys", system)
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].Role)
	require.Len(t, msgs[1].Content, 2)
	assert.JSONEq(t, `{}`, string(msgs[1].Content[0].Input))
	assert.Equal(t, "user", msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	assert.Equal(t, "tool_result", msgs[2].Content[0].Type)
	assert.Equal(t, "a", msgs[2].Content[0].ToolUseID)
	assert.Equal(t, "rb", msgs[2].Content[1].Content)
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"openai", "ollama", "perplexity", "anthropic"} {
		p, err := NewProvider(config.LLMConfig{Provider: name, Model: "m", APIKey: "k"})
		require.NoError(t, err, name)
		assert.NotNil(t, p, name)
	}
	_, err := NewProvider(config.LLMConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.EmbeddingConfig{Provider: "hash", Dims: 16})
	require.NoError(t, err)
	assert.IsType(t, &service.HashEmbedder{}, e)
	assert.Equal(t, 16, e.Dimension())

	e, err = NewEmbedder(config.EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text", Dims: 768})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Dimension())

	_, err = NewEmbedder(config.EmbeddingConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestTiktokenEstimator_Fallback(t *testing.T) {
	var nilEstimator *TiktokenEstimator
	assert.Equal(t, 3, nilEstimator.Count("0123456789"))
	assert.Equal(t, 0, (&TiktokenEstimator{}).Count(""))
}

func TestToAnthropicMessages_WithoutTools(t *testing.T) {
	_, msgs := toAnthropicMessages(toolExchange, false)

	require.Len(t, msgs, 3)
	for _, m := range msgs {
		for _, b := range m.Content {
			assert.Equal(t, "text", b.Type)
		}
	}
	assert.Equal(t, "Called t with {}", msgs[1].Content[0].Text)
	assert.Equal(t, `Called t with {"query":"x"}`, msgs[1].Content[1].Text)
	assert.Equal(t, "user", msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	assert.Equal(t, "Result of t:\nra", msgs[2].Content[0].Text)
	assert.Equal(t, "Result of t:\nrb", msgs[2].Content[1].Text)
}

func TestAnthropicProvider_AnsweringCallCarriesNoToolBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Tools)
		require.Len(t, req.Messages, 3)
		for _, m := range req.Messages {
			for _, b := range m.Content {
				assert.Equal(t, "text", b.Type)
				assert.Empty(t, b.ToolUseID)
			}
		}
		assert.Equal(t, "Result of search_course_content:\n[Test Course - Lesson 1]\nPython", req.Messages[2].Content[0].Text)

		json.NewEncoder(w).Encode(map[string]any{
			"content": []any{map[string]any{"type": "text", "text": "Python is covered in lesson 1."}},
			"usage":   map[string]any{"input_tokens": 30, "output_tokens": 8},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider("k", server.URL, "m")
	completion, err := p.Complete(context.Background(), []ports.Message{
		{Role: ports.RoleSystem, Content: "sys"},
		{Role: ports.RoleUser, Content: "what is python?"},
		{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "toolu_1", Name: "search_course_content", Args: json.RawMessage(`{"query":"python"}`)}}},
		{Role: ports.RoleTool, ToolCallID: "toolu_1", Content: "[Test Course - Lesson 1]\nPython"},
	}, ports.Options{})

	require.NoError(t, err)
	assert.Equal(t, "Python is covered in lesson 1.", completion.Text)
	assert.Empty(t, completion.ToolCalls)
}
