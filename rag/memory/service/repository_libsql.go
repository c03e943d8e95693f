package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// LibSQLChunkRepository stores courses and chunks in an embedded libsql database
// migrated by db.Migrate. Embeddings are kept as JSON arrays.
type LibSQLChunkRepository struct {
	db *sql.DB
}

// NewLibSQLChunkRepository wraps an open, migrated database.
func NewLibSQLChunkRepository(db *sql.DB) *LibSQLChunkRepository {
	return &LibSQLChunkRepository{db: db}
}

func (r *LibSQLChunkRepository) LoadChunks(ctx context.Context) ([]Chunk, error) {
	rows, err := r.db.QueryContext(ctx, `
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
			lesson    sql.NullInt64
			embedding sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.CourseTitle, &lesson, &c.Position, &c.Content, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if lesson.Valid {
			n := int(lesson.Int64)
			c.LessonNumber = &n
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
				return nil, fmt.Errorf("failed to decode embedding for chunk %s: %w", c.ID, err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *LibSQLChunkRepository) LoadLessonLinks(ctx context.Context) ([]LessonLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT course_title, lesson_number, lesson_link
		FROM lessons
		WHERE lesson_link IS NOT NULL AND lesson_link != ''
		ORDER BY course_title, lesson_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var links []LessonLink
	for rows.Next() {
		var l LessonLink
		if err := rows.Scan(&l.CourseTitle, &l.LessonNumber, &l.Link); err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *LibSQLChunkRepository) LoadCourseTitles(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT title FROM courses ORDER BY rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// SaveCourse replaces any existing course with the same title, including its
// lessons and chunks.
func (r *LibSQLChunkRepository) SaveCourse(ctx context.Context, course CourseRecord) error {
	if course.Title == "" {
		return fmt.Errorf("course title is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM chunks WHERE course_title = ?`,
		`DELETE FROM lessons WHERE course_title = ?`,
		`DELETE FROM courses WHERE title = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, course.Title); err != nil {
			return fmt.Errorf("failed to clear course %q: %w", course.Title, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO courses (title, instructor, course_link) VALUES (?, ?, ?)`,
		course.Title, nullString(course.Instructor), nullString(course.Link),
	); err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}

	for _, l := range course.Lessons {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lessons (course_title, lesson_number, title, lesson_link) VALUES (?, ?, ?, ?)`,
			course.Title, l.Number, l.Title, nullString(l.Link),
		); err != nil {
			return fmt.Errorf("failed to insert lesson %d: %w", l.Number, err)
		}
	}

	for _, c := range course.Chunks {
		var lesson any
		if c.LessonNumber != nil {
			lesson = *c.LessonNumber
		}
		var embedding any
		if len(c.Embedding) > 0 {
			b, err := json.Marshal(c.Embedding)
			if err != nil {
				return fmt.Errorf("failed to encode embedding for chunk %s: %w", c.ID, err)
			}
			embedding = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, course_title, lesson_number, position, content, embedding) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, course.Title, lesson, c.Position, c.Content, embedding,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ ChunkRepository = (*LibSQLChunkRepository)(nil)
