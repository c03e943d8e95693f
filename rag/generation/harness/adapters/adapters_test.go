package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/course-rag/rag/db"
	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
)

// TestLRUCache_BasicOperations tests cache functionality.
func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache[[]float64](2)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "key1", []float64{1}, 3600))

	value, ok := cache.Get(ctx, "key1")
	assert.True(t, ok)
	assert.Equal(t, []float64{1}, value)

	require.NoError(t, cache.Set(ctx, "key2", []float64{2}, 3600))
	require.NoError(t, cache.Set(ctx, "key3", []float64{3}, 3600))

	// key1 was least recently used
	_, ok = cache.Get(ctx, "key1")
	assert.False(t, ok)

	_, ok = cache.Get(ctx, "key2")
	assert.True(t, ok)
	_, ok = cache.Get(ctx, "key3")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestLRUCache_GetRefreshesRecency(t *testing.T) {
	cache := NewLRUCache[string](2)
	ctx := context.Background()

	cache.Set(ctx, "a", "1", 3600)
	cache.Set(ctx, "b", "2", 3600)
	cache.Get(ctx, "a")
	cache.Set(ctx, "c", "3", 3600)

	_, ok := cache.Get(ctx, "b")
	assert.False(t, ok)
	v, ok := cache.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestLRUCache_Expiry(t *testing.T) {
	cache := NewLRUCache[string](4)
	now := time.Unix(1_000, 0)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, "k", "v", 10)
	now = now.Add(11 * time.Second)

	_, ok := cache.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewLRUCache[int](16)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k-%d", j%32)
				cache.Set(ctx, key, id, 60)
				cache.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, cache.Len(), 16)
}

// TestTokenBucket_BasicRateLimiting tests rate limiting functionality.
func TestTokenBucket_BasicRateLimiting(t *testing.T) {
	limiter := NewTokenBucket(2, time.Second)
	now := time.Unix(1_000, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	release1, err := limiter.Acquire(ctx, "test")
	require.NoError(t, err)
	release1()

	_, err = limiter.Acquire(ctx, "test")
	require.NoError(t, err)

	_, err = limiter.Acquire(ctx, "test")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// other keys have their own bucket
	_, err = limiter.Acquire(ctx, "other")
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = limiter.Acquire(ctx, "test")
	assert.NoError(t, err)
	_, err = limiter.Acquire(ctx, "test")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}

func TestTokenBucket_CanceledContext(t *testing.T) {
	limiter := NewTokenBucket(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Acquire(ctx, "test")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestZerologTracer_SpanAndEvent(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	ctx, finish := tracer.StartSpan(context.Background(), "generate", map[string]any{"query_len": 5})
	tracer.Event(ctx, "state", map[string]any{"to": "answering"})
	finish(errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"span":"generate"`)
	assert.Contains(t, out, `"event":"state"`)
	assert.Contains(t, out, `"to":"answering"`)
	assert.Contains(t, out, `"event":"span_end"`)
	assert.Contains(t, out, `"error":"boom"`)
}

func TestZerologTracer_EventInheritsSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	ctx, _ := tracer.StartSpan(context.Background(), "generate", nil)
	buf.Reset()
	tracer.Event(ctx, "state", map[string]any{"to": "retrieving"})

	line := buf.String()
	assert.Contains(t, line, `"span":"generate"`)
	assert.Contains(t, line, `"event":"state"`)
	assert.Contains(t, line, `"level":"info"`)
}

func TestZerologTracer_EventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "orphan", nil)

	assert.Contains(t, buf.String(), `"event":"orphan"`)
	assert.NotContains(t, buf.String(), `"span"`)
}

// conversationStoreContract runs the same window checks against every store.
func conversationStoreContract(t *testing.T, newStore func(k int) ports.ConversationStore) {
	ctx := context.Background()

	t.Run("sessions are unique and empty", func(t *testing.T) {
		store := newStore(2)
		a, err := store.CreateSession(ctx)
		require.NoError(t, err)
		b, err := store.CreateSession(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)

		history, err := store.History(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "", history)
	})

	t.Run("unknown session renders empty", func(t *testing.T) {
		store := newStore(2)
		history, err := store.History(ctx, "no-such-session")
		require.NoError(t, err)
		assert.Equal(t, "", history)
	})

	t.Run("window keeps newest k", func(t *testing.T) {
		store := newStore(2)
		id, err := store.CreateSession(ctx)
		require.NoError(t, err)

		require.NoError(t, store.AddTurn(ctx, id, "q1", "a1"))
		require.NoError(t, store.AddTurn(ctx, id, "q2", "a2"))
		require.NoError(t, store.AddTurn(ctx, id, "q3", "a3"))

		turns, err := store.Turns(ctx, id)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "q2", turns[0].User)
		assert.Equal(t, "a3", turns[1].Assistant)

		history, err := store.History(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "User: q2\nAssistant: a2\nUser: q3\nAssistant: a3", history)
	})

	t.Run("add to unknown session creates it", func(t *testing.T) {
		store := newStore(2)
		require.NoError(t, store.AddTurn(ctx, "implicit", "hi", "hello"))

		history, err := store.History(ctx, "implicit")
		require.NoError(t, err)
		assert.Equal(t, "User: hi\nAssistant: hello", history)
	})

	t.Run("sessions are isolated", func(t *testing.T) {
		store := newStore(3)
		a, _ := store.CreateSession(ctx)
		b, _ := store.CreateSession(ctx)
		require.NoError(t, store.AddTurn(ctx, a, "only a", "ok"))

		history, err := store.History(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, "", history)
	})
}

func TestInMemoryConversationStore(t *testing.T) {
	conversationStoreContract(t, func(k int) ports.ConversationStore {
		return NewInMemoryConversationStore(k)
	})
}

func TestInMemoryConversationStore_DefaultWindow(t *testing.T) {
	store := NewInMemoryConversationStore(0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		store.AddTurn(ctx, "s", fmt.Sprintf("q%d", i), "a")
	}
	turns, _ := store.Turns(ctx, "s")
	assert.Len(t, turns, DefaultMaxHistory)
}

func TestLibSQLConversationStore(t *testing.T) {
	conversationStoreContract(t, func(k int) ports.ConversationStore {
		return NewLibSQLConversationStore(db.NewTestDB(t), k)
	})
}

func TestLibSQLConversationStore_TrimsInStorage(t *testing.T) {
	conn := db.NewTestDB(t)
	store := NewLibSQLConversationStore(conn, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.AddTurn(ctx, "s", fmt.Sprintf("q%d", i), "a"))
	}

	var count int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM conversation_turns WHERE session_id = 's'`).Scan(&count))
	assert.Equal(t, 2, count)

	turns, err := store.Turns(ctx, "s")
	require.NoError(t, err)
	assert.False(t, turns[0].CreatedAt.IsZero())
}

func BenchmarkLRUCache_SetGet(b *testing.B) {
	cache := NewLRUCache[[]float64](1000)
	ctx := context.Background()
	vec := []float64{0.1, 0.2, 0.3}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key-%d", i)
		cache.Set(ctx, key, vec, 3600)
		cache.Get(ctx, key)
	}
}
