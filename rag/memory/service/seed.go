package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// ReadCourseFile decodes a JSON array of courses.
func ReadCourseFile(path string) ([]CourseRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course file: %w", err)
	}
	var courses []CourseRecord
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, fmt.Errorf("failed to decode course file %s: %w", path, err)
	}
	return courses, nil
}

// SeedCourses writes courses to repo. Chunks inherit their course title and get
// a random id when they have none; positions default to file order.
func SeedCourses(ctx context.Context, repo ChunkRepository, courses []CourseRecord) (int, error) {
	total := 0
	for _, course := range courses {
		chunks := make([]Chunk, len(course.Chunks))
		for i, c := range course.Chunks {
			c.CourseTitle = course.Title
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.Position == 0 {
				c.Position = i
			}
			chunks[i] = c
		}
		course.Chunks = chunks

		if err := repo.SaveCourse(ctx, course); err != nil {
			return total, fmt.Errorf("failed to save course %q: %w", course.Title, err)
		}
		total += len(chunks)
	}
	return total, nil
}
