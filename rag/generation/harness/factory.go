package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/course-rag/rag/config"
	"github.com/ZanzyTHEbar/course-rag/rag/generation/harness/adapters"
	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/rs/zerolog"
)

// Factory creates and wires harness components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // Optional, for the libsql conversation store
	logger zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		logger: logger.With().Str("component", "harness").Logger(),
	}
}

// CreateOrchestrator wires an Orchestrator around provider. estimate may be nil.
func (f *Factory) CreateOrchestrator(provider ports.Provider, estimate func(string) int) (*Orchestrator, error) {
	if provider == nil {
		return nil, errors.New("provider must not be nil")
	}

	var guardrails *Guardrails
	if f.cfg.Harness.EnableGuardrails {
		guardrails = NewGuardrails()
	}

	return NewOrchestrator(
		provider,
		NewPromptBuilder("", estimate),
		guardrails,
		f.CreateRateLimiter(),
		f.CreateTracer(),
		f.CreatePolicy(),
	), nil
}

// CreateRateLimiter creates a rate limiter adapter from config.
func (f *Factory) CreateRateLimiter() ports.RateLimiter {
	if !f.cfg.Harness.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	capacity := f.cfg.Harness.RateLimitCapacity
	if capacity < 1 {
		capacity = 1
		f.logger.Warn().Int("rate_limit_capacity", f.cfg.Harness.RateLimitCapacity).Msg("rate limit capacity clamped to minimum of 1")
	}
	return adapters.NewTokenBucket(capacity, f.cfg.Harness.RateLimitRefillRate)
}

// CreateTracer creates a tracer adapter from config.
func (f *Factory) CreateTracer() ports.Tracer {
	if !f.cfg.Harness.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// CreateStore creates the conversation store selected by session.store.
func (f *Factory) CreateStore() (ports.ConversationStore, error) {
	switch f.cfg.Session.Store {
	case "", "memory":
		return adapters.NewInMemoryConversationStore(f.cfg.Session.MaxHistory), nil
	case "libsql":
		if f.db == nil {
			return nil, errors.New("libsql conversation store requires a database")
		}
		return adapters.NewLibSQLConversationStore(f.db, f.cfg.Session.MaxHistory), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", f.cfg.Session.Store)
	}
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := DefaultPolicy()
	if f.cfg.LLM.MaxTokens > 0 {
		policy.MaxNewTokens = f.cfg.LLM.MaxTokens
	}
	policy.Seed = f.cfg.LLM.Seed
	return policy
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
)
