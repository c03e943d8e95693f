package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/xeipuuv/gojsonschema"
)

// Guardrails checks each tool call against the offered tools, an optional static
// allowlist and the tool's JSON schema.
type Guardrails struct {
	allowlist     map[string]bool // empty means every offered tool is allowed
	jsonValidator *JSONValidator
}

// NewGuardrails creates guardrails allowing the given tool names.
func NewGuardrails(allowed ...string) *Guardrails {
	g := &Guardrails{
		allowlist:     make(map[string]bool),
		jsonValidator: NewJSONValidator(),
	}
	for _, name := range allowed {
		g.AddAllowedTool(name)
	}
	return g
}

// AddAllowedTool adds a tool to the allowlist.
func (g *Guardrails) AddAllowedTool(name string) {
	g.allowlist[name] = true
}

// ValidateToolCall resolves call against offered and validates its arguments.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall, offered map[string]ports.Tool) (ports.Tool, error) {
	if call.Name == "" {
		return nil, fmt.Errorf("%w: tool name cannot be empty", ErrInvalidToolCall)
	}

	tool, ok := offered[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s was not offered", ErrUnknownTool, call.Name)
	}
	if len(g.allowlist) > 0 && !g.allowlist[call.Name] {
		return nil, fmt.Errorf("%w: tool %s is not in allowlist", ErrUnknownTool, call.Name)
	}

	if err := g.jsonValidator.Validate(call.Args, tool.Schema()); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidToolCall, call.Name, err)
	}
	return tool, nil
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks if JSON data conforms to a schema. Top-level members set to
// null count as absent, so optional arguments may be sent as null.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(withoutNulls(data)))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func withoutNulls(data json.RawMessage) json.RawMessage {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return data
	}
	dropped := false
	for k, v := range members {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(members, k)
			dropped = true
		}
	}
	if !dropped {
		return data
	}
	out, err := json.Marshal(members)
	if err != nil {
		return data
	}
	return out
}
