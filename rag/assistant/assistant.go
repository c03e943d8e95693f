package assistant

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/course-rag/rag/generation/harness"
	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/ZanzyTHEbar/course-rag/rag/memory/service"
)

// Generator answers one query; *harness.Orchestrator satisfies it.
type Generator interface {
	Generate(ctx context.Context, req *harness.Request) (*harness.Response, error)
}

// Catalog exposes what the index knows about courses.
type Catalog interface {
	CourseTitles() []string
	CourseCount() int
	Metrics() service.MetricsSummary
}

// Analytics summarizes the course catalog.
type Analytics struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

// Assistant ties sessions, the search tool and the orchestrator together. It is
// the only entry point the HTTP layer needs.
type Assistant struct {
	generator Generator
	store     ports.ConversationStore
	catalog   Catalog
	tools     []ports.Tool
	logger    zerolog.Logger
}

// New creates an Assistant offering tools to the model on every query.
func New(generator Generator, store ports.ConversationStore, catalog Catalog, logger zerolog.Logger, tools ...ports.Tool) *Assistant {
	return &Assistant{
		generator: generator,
		store:     store,
		catalog:   catalog,
		tools:     tools,
		logger:    logger.With().Str("component", "assistant").Logger(),
	}
}

// CreateSession allocates a new conversation.
func (a *Assistant) CreateSession(ctx context.Context) (string, error) {
	id, err := a.store.CreateSession(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// Query answers text within sessionID, creating a session when sessionID is
// empty. The turn is recorded only after a successful answer. It returns the
// session id actually used.
func (a *Assistant) Query(ctx context.Context, text, sessionID string) (string, []ports.Citation, string, error) {
	if sessionID == "" {
		id, err := a.CreateSession(ctx)
		if err != nil {
			return "", nil, "", err
		}
		sessionID = id
	}

	history, err := a.store.History(ctx, sessionID)
	if err != nil {
		return "", nil, sessionID, fmt.Errorf("failed to read history: %w", err)
	}

	resp, err := a.generator.Generate(ctx, &harness.Request{
		Query:   text,
		History: history,
		Tools:   a.tools,
	})
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", sessionID).Msg("query failed")
		return "", nil, sessionID, err
	}

	if err := a.store.AddTurn(ctx, sessionID, text, resp.Text); err != nil {
		return "", nil, sessionID, fmt.Errorf("failed to record turn: %w", err)
	}

	sources := resp.Sources
	if sources == nil {
		sources = []ports.Citation{}
	}
	a.logger.Debug().
		Str("session_id", sessionID).
		Int("sources", len(sources)).
		Int("tool_calls", len(resp.ToolCalls)).
		Msg("query answered")
	return resp.Text, sources, sessionID, nil
}

// CourseAnalytics reports the courses available for search.
func (a *Assistant) CourseAnalytics() Analytics {
	return Analytics{
		TotalCourses: a.catalog.CourseCount(),
		CourseTitles: a.catalog.CourseTitles(),
	}
}

// Metrics reports retrieval index activity.
func (a *Assistant) Metrics() service.MetricsSummary {
	return a.catalog.Metrics()
}
