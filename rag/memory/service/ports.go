package service

import "context"

// Embedder generates embeddings for text content
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}

// ChunkRepository is the persistent source the Index loads from.
type ChunkRepository interface {
	LoadChunks(ctx context.Context) ([]Chunk, error) // ingestion order
	LoadLessonLinks(ctx context.Context) ([]LessonLink, error)
	LoadCourseTitles(ctx context.Context) ([]string, error)
	SaveCourse(ctx context.Context, course CourseRecord) error
}

// EmbeddingCache memoizes query embeddings.
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float64, bool)
	Set(ctx context.Context, key string, value []float64, ttlSeconds int) error
	// Len reports how many embeddings are held.
	Len() int
}
