package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresChunkRepository keeps courses and chunk vectors in Postgres with the
// pgvector extension.
type PostgresChunkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresChunkRepository connects and pings connStr.
func NewPostgresChunkRepository(ctx context.Context, connStr string) (*PostgresChunkRepository, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresChunkRepository{pool: pool}, nil
}

// EnsureSchema creates the extension and tables if missing.
func (p *PostgresChunkRepository) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS courses (
		seq BIGSERIAL UNIQUE,
		title TEXT PRIMARY KEY,
		instructor TEXT,
		course_link TEXT
	);

	CREATE TABLE IF NOT EXISTS lessons (
		course_title TEXT NOT NULL REFERENCES courses(title) ON DELETE CASCADE,
		lesson_number INT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		lesson_link TEXT,
		PRIMARY KEY (course_title, lesson_number)
	);

	CREATE TABLE IF NOT EXISTS chunks (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		course_title TEXT NOT NULL REFERENCES courses(title) ON DELETE CASCADE,
		lesson_number INT,
		position INT NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		embedding vector
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_course ON chunks(course_title, lesson_number);
	`
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresChunkRepository) LoadChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, course_title, lesson_number, position, content, embedding
		FROM chunks
		ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c         Chunk
			lesson    *int32
			embedding *pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.CourseTitle, &lesson, &c.Position, &c.Content, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if lesson != nil {
			n := int(*lesson)
			c.LessonNumber = &n
		}
		if embedding != nil {
			c.Embedding = toFloat64(embedding.Slice())
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (p *PostgresChunkRepository) LoadLessonLinks(ctx context.Context) ([]LessonLink, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT course_title, lesson_number, lesson_link
		FROM lessons
		WHERE lesson_link IS NOT NULL AND lesson_link <> ''
		ORDER BY course_title, lesson_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var links []LessonLink
	for rows.Next() {
		var (
			l      LessonLink
			number int32
		)
		if err := rows.Scan(&l.CourseTitle, &number, &l.Link); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		l.LessonNumber = int(number)
		links = append(links, l)
	}
	return links, rows.Err()
}

func (p *PostgresChunkRepository) LoadCourseTitles(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT title FROM courses ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	titles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan courses: %w", err)
	}
	return titles, nil
}

// SaveCourse replaces any existing course with the same title.
func (p *PostgresChunkRepository) SaveCourse(ctx context.Context, course CourseRecord) error {
	if course.Title == "" {
		return errors.New("course title is required")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// lessons and chunks cascade
	if _, err := tx.Exec(ctx, `DELETE FROM courses WHERE title = $1`, course.Title); err != nil {
		return fmt.Errorf("failed to clear course %q: %w", course.Title, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO courses (title, instructor, course_link) VALUES ($1, $2, $3)`,
		course.Title, nullString(course.Instructor), nullString(course.Link),
	); err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range course.Lessons {
		batch.Queue(`INSERT INTO lessons (course_title, lesson_number, title, lesson_link) VALUES ($1, $2, $3, $4)`,
			course.Title, l.Number, l.Title, nullString(l.Link))
	}
	for _, c := range course.Chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(toFloat32(c.Embedding))
		}
		batch.Queue(`INSERT INTO chunks (id, course_title, lesson_number, position, content, embedding) VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ID, course.Title, c.LessonNumber, c.Position, c.Content, embedding)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert lessons and chunks: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Close releases the pool.
func (p *PostgresChunkRepository) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

var _ ChunkRepository = (*PostgresChunkRepository)(nil)
