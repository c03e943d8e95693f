package adapters

import (
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/google/uuid"
)

// DefaultMaxHistory is the number of turns kept per session when none is configured.
const DefaultMaxHistory = 2

// InMemoryConversationStore keeps session windows in process memory.
type InMemoryConversationStore struct {
	mu         sync.RWMutex
	sessions   map[string][]ports.Turn
	maxHistory int
	now        func() time.Time
}

// NewInMemoryConversationStore keeps at most maxHistory turns per session.
func NewInMemoryConversationStore(maxHistory int) *InMemoryConversationStore {
	if maxHistory < 1 {
		maxHistory = DefaultMaxHistory
	}
	return &InMemoryConversationStore{
		sessions:   make(map[string][]ports.Turn),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

func (s *InMemoryConversationStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = nil
	return id, nil
}

func (s *InMemoryConversationStore) AddTurn(ctx context.Context, sessionID, user, assistant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[sessionID], ports.Turn{User: user, Assistant: assistant, CreatedAt: s.now()})
	if over := len(turns) - s.maxHistory; over > 0 {
		turns = append([]ports.Turn(nil), turns[over:]...)
	}
	s.sessions[sessionID] = turns
	return nil
}

func (s *InMemoryConversationStore) History(ctx context.Context, sessionID string) (string, error) {
	turns, err := s.Turns(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return ports.RenderHistory(turns), nil
}

// Turns returns a copy of the session window, oldest first.
func (s *InMemoryConversationStore) Turns(ctx context.Context, sessionID string) ([]ports.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	out := make([]ports.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

var _ ports.ConversationStore = (*InMemoryConversationStore)(nil)
