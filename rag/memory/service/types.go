package service

import "fmt"

// Chunk is a retrievable slice of course text. Every chunk belongs to exactly one
// course and at most one lesson.
type Chunk struct {
	ID           string    `json:"id"`
	CourseTitle  string    `json:"course_title"`
	LessonNumber *int      `json:"lesson_number,omitempty"`
	Position     int       `json:"position"`
	Content      string    `json:"content"`
	Embedding    []float64 `json:"embedding,omitempty"` // nil until embedded
}

// ChunkMetadata travels with each search hit.
type ChunkMetadata struct {
	ChunkID      string `json:"chunk_id"`
	CourseTitle  string `json:"course_title"`
	LessonNumber *int   `json:"lesson_number,omitempty"`
	Position     int    `json:"position"`
}

// SearchResults holds parallel slices ordered by ascending distance. When Error is
// set all slices are empty.
type SearchResults struct {
	Documents []string
	Metadata  []ChunkMetadata
	Distances []float64
	Error     string
}

// IsEmpty reports whether no documents were found.
func (r SearchResults) IsEmpty() bool { return len(r.Documents) == 0 }

// EmptyResults returns a result set with no hits and no error.
func EmptyResults() SearchResults {
	return SearchResults{Documents: []string{}, Metadata: []ChunkMetadata{}, Distances: []float64{}}
}

// FailedResults returns an empty result set carrying msg.
func FailedResults(msg string) SearchResults {
	r := EmptyResults()
	r.Error = msg
	return r
}

// SearchOptions narrows a search. Nil filters are not applied; Limit 0 uses the index default.
type SearchOptions struct {
	CourseName   *string
	LessonNumber *int
	Limit        int
}

// LessonLink is the URL of one lesson.
type LessonLink struct {
	CourseTitle  string
	LessonNumber int
	Link         string
}

// LessonRecord describes a lesson inside a CourseRecord.
type LessonRecord struct {
	Number int    `json:"lesson_number"`
	Title  string `json:"title"`
	Link   string `json:"lesson_link,omitempty"`
}

// CourseRecord is a full course as written by SaveCourse.
type CourseRecord struct {
	Title      string         `json:"title"`
	Instructor string         `json:"instructor,omitempty"`
	Link       string         `json:"course_link,omitempty"`
	Lessons    []LessonRecord `json:"lessons"`
	Chunks     []Chunk        `json:"chunks"`
}

// CitationLabel renders "<course> - Lesson <n>", or the course alone without a lesson.
func (m ChunkMetadata) CitationLabel() string {
	if m.LessonNumber == nil {
		return m.CourseTitle
	}
	return fmt.Sprintf("%s - Lesson %d", m.CourseTitle, *m.LessonNumber)
}
