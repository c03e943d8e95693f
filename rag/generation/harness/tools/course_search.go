package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	ports "github.com/ZanzyTHEbar/course-rag/rag/generation/harness/ports"
	"github.com/ZanzyTHEbar/course-rag/rag/memory/service"
)

// CourseSearchName is the capability name offered to the model.
const CourseSearchName = "search_course_content"

// NoResultsText is returned when a search matched nothing.
const NoResultsText = "No relevant content found."

// CourseSearchSchema defines the JSON schema for course search arguments.
const CourseSearchSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "What to search for in the course content"
    },
    "course_name": {
      "type": "string",
      "description": "Course title (partial matches work, e.g. 'MCP', 'Introduction')"
    },
    "lesson_number": {
      "type": "integer",
      "description": "Specific lesson number to search within (e.g. 1, 2, 3)"
    }
  },
  "required": ["query"]
}`

// Searcher is the slice of the retrieval index the tool needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts service.SearchOptions) service.SearchResults
	GetLessonLink(courseTitle string, lessonNumber int) (string, bool)
}

// CourseSearchTool searches course materials with optional course and lesson filters.
type CourseSearchTool struct {
	index Searcher
}

// NewCourseSearchTool creates a course search tool over index.
func NewCourseSearchTool(index Searcher) *CourseSearchTool {
	return &CourseSearchTool{index: index}
}

func (t *CourseSearchTool) Name() string { return CourseSearchName }

func (t *CourseSearchTool) Description() string {
	return "Search course materials with smart course name matching and lesson filtering"
}

func (t *CourseSearchTool) Schema() []byte { return []byte(CourseSearchSchema) }

// Execute runs one search and returns the evidence block for the model together
// with one citation per retrieved chunk, in the same order. Retrieval errors come
// back as the evidence text with no citations.
func (t *CourseSearchTool) Execute(ctx context.Context, query string, courseName *string, lessonNumber *int) (string, []ports.Citation) {
	res := t.index.Search(ctx, query, service.SearchOptions{CourseName: courseName, LessonNumber: lessonNumber})
	if res.Error != "" {
		return res.Error, []ports.Citation{}
	}
	if res.IsEmpty() {
		return NoResultsText, []ports.Citation{}
	}

	blocks := make([]string, 0, len(res.Documents))
	sources := make([]ports.Citation, 0, len(res.Documents))
	for i, doc := range res.Documents {
		meta := res.Metadata[i]
		label := meta.CitationLabel()
		blocks = append(blocks, fmt.Sprintf("[%s]\n%s", label, doc))

		citation := ports.Citation{Text: label}
		if meta.LessonNumber != nil {
			if link, ok := t.index.GetLessonLink(meta.CourseTitle, *meta.LessonNumber); ok {
				citation.Link = &link
			}
		}
		sources = append(sources, citation)
	}
	return strings.Join(blocks, "\n\n"), sources
}

type courseSearchArgs struct {
	Query        string      `json:"query"`
	CourseName   *string     `json:"course_name"`
	LessonNumber json.Number `json:"lesson_number"`
}

// lesson accepts any whole number, so 2 and 2.0 select the same lesson.
// Null or missing means no lesson filter.
func (a courseSearchArgs) lesson() (*int, error) {
	if a.LessonNumber == "" {
		return nil, nil
	}
	if n, err := a.LessonNumber.Int64(); err == nil {
		lesson := int(n)
		return &lesson, nil
	}
	f, err := a.LessonNumber.Float64()
	if err != nil || f != math.Trunc(f) {
		return nil, fmt.Errorf("lesson_number must be a whole number, got %s", a.LessonNumber)
	}
	lesson := int(f)
	return &lesson, nil
}

// Invoke decodes model-supplied arguments and runs Execute.
func (t *CourseSearchTool) Invoke(ctx context.Context, args json.RawMessage) (ports.ToolResult, error) {
	var params courseSearchArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return ports.ToolResult{}, fmt.Errorf("query is required")
	}
	lesson, err := params.lesson()
	if err != nil {
		return ports.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	text, sources := t.Execute(ctx, params.Query, params.CourseName, lesson)
	return ports.ToolResult{Content: text, Sources: sources}, nil
}

var _ ports.Tool = (*CourseSearchTool)(nil)
