package harnessports

import (
	"context"
	"strings"
	"time"
)

// Turn is one completed user/assistant exchange.
type Turn struct {
	User      string
	Assistant string
	CreatedAt time.Time
}

// ConversationStore keeps a bounded, ordered window of turns per session.
type ConversationStore interface {
	CreateSession(ctx context.Context) (string, error)
	// AddTurn appends and trims to the newest K turns. Unknown ids are created.
	AddTurn(ctx context.Context, sessionID, user, assistant string) error
	// History renders the window as "User: ...\nAssistant: ..." lines, or "" when empty.
	History(ctx context.Context, sessionID string) (string, error)
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
}

// RenderHistory formats turns oldest first, one line per role.
func RenderHistory(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("User: ")
		b.WriteString(t.User)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.Assistant)
	}
	return b.String()
}
