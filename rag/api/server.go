package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/course-rag/rag/assistant"
	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/ZanzyTHEbar/course-rag/rag/memory/service"
)

// Service is what the HTTP layer needs from the assistant.
type Service interface {
	Query(ctx context.Context, text, sessionID string) (string, []ports.Citation, string, error)
	CourseAnalytics() assistant.Analytics
	Metrics() service.MetricsSummary
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query     string `json:"query" validate:"required"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// QueryResponse answers POST /api/query.
type QueryResponse struct {
	Answer    string           `json:"answer"`
	Sources   []ports.Citation `json:"sources"`
	SessionID string           `json:"session_id"`
}

// CourseStats answers GET /api/courses.
type CourseStats struct {
	TotalCourses int      `json:"total_courses"`
	CourseTitles []string `json:"course_titles"`
}

type errorResponse struct {
	Detail any `json:"detail"`
}

// Server serves the course assistant over HTTP.
type Server struct {
	router       *chi.Mux
	svc          Service
	validate     *validator.Validate
	logger       zerolog.Logger
	queryTimeout time.Duration
}

// NewServer builds the router. queryTimeout bounds one query; 0 disables it.
func NewServer(svc Service, logger zerolog.Logger, queryTimeout time.Duration) *Server {
	router := chi.NewRouter()
	s := &Server{
		router:       router,
		svc:          svc,
		validate:     validator.New(),
		logger:       logger.With().Str("component", "api").Logger(),
		queryTimeout: queryTimeout,
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)

	router.Get("/health", s.health)
	router.Route("/api", func(r chi.Router) {
		r.Post("/query", s.query)
		r.Get("/courses", s.courses)
		r.Get("/stats", s.stats)
	})

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: fmt.Sprintf("invalid JSON: %v", err)})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: validationDetail(err)})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: map[string]string{"query": "failed on 'required' tag"}})
		return
	}

	ctx := r.Context()
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	answer, sources, sessionID, err := s.svc.Query(ctx, req.Query, req.SessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})
		return
	}
	if sources == nil {
		sources = []ports.Citation{}
	}

	writeJSON(w, http.StatusOK, QueryResponse{Answer: answer, Sources: sources, SessionID: sessionID})
}

func (s *Server) courses(w http.ResponseWriter, r *http.Request) {
	a := s.svc.CourseAnalytics()
	titles := a.CourseTitles
	if titles == nil {
		titles = []string{}
	}
	writeJSON(w, http.StatusOK, CourseStats{TotalCourses: a.TotalCourses, CourseTitles: titles})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Metrics())
}

func validationDetail(err error) any {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[strings.ToLower(e.Field())] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
