package harnessports

import (
	"context"
	"encoding/json"
)

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Citation is a user-facing reference to a chunk that informed an answer.
type Citation struct {
	Text string  `json:"text"`
	Link *string `json:"link"`
}

// ToolResult is what a tool hands back to the model plus the citations it produced.
type ToolResult struct {
	Content string
	Sources []Citation
}

// Tool defines the runtime that executes a tool call.
type Tool interface {
	Name() string
	Description() string
	Schema() []byte
	Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// SpecOf builds the declaration offered to a provider for t.
func SpecOf(t Tool) ToolSpec {
	return ToolSpec{Name: t.Name(), Description: t.Description(), JSONSchema: t.Schema()}
}
