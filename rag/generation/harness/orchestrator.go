package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
)

// State is a phase of one Generate call.
type State string

const (
	StateDeciding   State = "deciding"
	StateRetrieving State = "retrieving"
	StateAnswering  State = "answering"
)

// Request configures one query.
type Request struct {
	Query   string
	History string // rendered prior turns, may be empty
	Tools   []ports.Tool
}

// Policy controls sampling and per-call limits. Temperature is always 0.
type Policy struct {
	MaxNewTokens    int
	Seed            int
	ProviderTimeout time.Duration // per provider call; 0 uses the caller's deadline
	ToolTimeout     time.Duration // per tool call
	RateLimitKey    string
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxNewTokens: 800,
		Seed:         42,
		ToolTimeout:  30 * time.Second,
		RateLimitKey: "generate",
	}
}

// Response is the final output of the orchestrator.
type Response struct {
	Text      string
	Sources   []ports.Citation // empty unless a tool ran
	ToolCalls []ports.ToolCall
	Usage     *ports.Usage
}

// Orchestrator runs the single-round tool-call protocol: one deciding call with
// tools offered, at most one retrieval round, and one answering call without tools.
type Orchestrator struct {
	provider   ports.Provider
	builder    *PromptBuilder
	guardrails *Guardrails
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	policy     *Policy
}

// NewOrchestrator wires an orchestrator. Nil limiter, tracer or policy fall back
// to no-op adapters and DefaultPolicy. A nil guardrails still rejects tools that
// were not offered but skips schema checks.
func NewOrchestrator(
	provider ports.Provider,
	builder *PromptBuilder,
	guardrails *Guardrails,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	policy *Policy,
) *Orchestrator {
	if builder == nil {
		builder = NewPromptBuilder("", nil)
	}
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Orchestrator{
		provider:   provider,
		builder:    builder,
		guardrails: guardrails,
		limiter:    limiter,
		tracer:     tracer,
		policy:     policy,
	}
}

// Generate answers req.Query, consulting req.Tools at most once.
func (o *Orchestrator) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if o.provider == nil {
		return nil, errors.New("orchestrator has no provider")
	}

	release, err := o.limiter.Acquire(ctx, o.policy.RateLimitKey)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	defer release()

	ctx, finish := o.tracer.StartSpan(ctx, "generate", map[string]any{
		"tool_count":  len(req.Tools),
		"has_history": req.History != "",
	})
	resp, err := o.run(ctx, req)
	finish(err)
	return resp, err
}

func (o *Orchestrator) run(ctx context.Context, req *Request) (*Response, error) {
	messages := o.builder.Build(req.History, req.Query)

	offered := make(map[string]ports.Tool, len(req.Tools))
	names := make([]string, 0, len(req.Tools))
	specs := make([]ports.ToolSpec, 0, len(req.Tools))
	for _, tool := range req.Tools {
		offered[tool.Name()] = tool
		names = append(names, tool.Name())
		specs = append(specs, ports.SpecOf(tool))
	}

	o.enter(ctx, StateDeciding)
	first, err := o.complete(ctx, StateDeciding, messages, specs)
	if err != nil {
		return nil, fmt.Errorf("deciding call failed: %w", err)
	}

	calls := NormalizeToolCalls(first, names...)
	if len(calls) == 0 {
		o.enter(ctx, StateAnswering)
		return &Response{Text: first.Text, Sources: []ports.Citation{}, Usage: first.Usage}, nil
	}

	o.enter(ctx, StateRetrieving)
	messages = append(messages, ports.Message{Role: ports.RoleAssistant, Content: first.Text, ToolCalls: calls})

	sources := []ports.Citation{}
	for _, call := range calls {
		result, err := o.invoke(ctx, call, offered)
		if err != nil {
			return nil, err
		}
		messages = append(messages, ports.Message{Role: ports.RoleTool, Content: result.Content, ToolCallID: call.ID})
		sources = append(sources, result.Sources...)
	}

	o.enter(ctx, StateAnswering)
	second, err := o.complete(ctx, StateAnswering, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("answering call failed: %w", err)
	}

	var usage *ports.Usage
	usage = usage.Add(first.Usage).Add(second.Usage)

	return &Response{Text: second.Text, Sources: sources, ToolCalls: calls, Usage: usage}, nil
}

func (o *Orchestrator) complete(ctx context.Context, phase State, messages []ports.Message, tools []ports.ToolSpec) (ports.Completion, error) {
	opts := ports.Options{
		MaxNewTokens: o.policy.MaxNewTokens,
		Temperature:  0,
		Seed:         o.policy.Seed,
		Tools:        tools,
	}
	if o.policy.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.policy.ProviderTimeout)
		defer cancel()
		opts.TimeoutMs = int(o.policy.ProviderTimeout / time.Millisecond)
	}

	ctx, finish := o.tracer.StartSpan(ctx, "provider_call", map[string]any{
		"phase":         string(phase),
		"messages":      len(messages),
		"tools_offered": len(tools),
		"prompt_tokens": o.builder.PromptTokens(messages),
	})
	completion, err := o.provider.Complete(ctx, messages, opts)
	finish(err)
	return completion, err
}

func (o *Orchestrator) invoke(ctx context.Context, call ports.ToolCall, offered map[string]ports.Tool) (ports.ToolResult, error) {
	var (
		tool ports.Tool
		err  error
	)
	if o.guardrails != nil {
		tool, err = o.guardrails.ValidateToolCall(call, offered)
	} else if t, ok := offered[call.Name]; ok {
		tool = t
	} else {
		err = fmt.Errorf("%w: %s was not offered", ErrUnknownTool, call.Name)
	}
	if err != nil {
		o.tracer.Event(ctx, "tool_rejected", map[string]any{"tool": call.Name, "error": err.Error()})
		return ports.ToolResult{}, err
	}

	toolCtx := ctx
	if o.policy.ToolTimeout > 0 {
		var cancel context.CancelFunc
		toolCtx, cancel = context.WithTimeout(ctx, o.policy.ToolTimeout)
		defer cancel()
	}

	result, err := tool.Invoke(toolCtx, call.Args)
	if err != nil {
		return ports.ToolResult{}, fmt.Errorf("tool %s failed: %w", call.Name, err)
	}

	o.tracer.Event(ctx, "tool_result", map[string]any{
		"tool":    call.Name,
		"call_id": call.ID,
		"sources": len(result.Sources),
	})
	return result, nil
}

func (o *Orchestrator) enter(ctx context.Context, s State) {
	o.tracer.Event(ctx, "state", map[string]any{"state": string(s)})
}
