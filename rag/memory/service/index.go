package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
)

// IndexOptions tunes search and loading.
type IndexOptions struct {
	MaxResults             int     // default limit
	CourseMatchMaxDistance float64 // 0 disables the threshold
	EmbedBatchSize         int
	EmbedConcurrency       int
	QueryCacheTTLSeconds   int
}

// DefaultIndexOptions returns sensible defaults.
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		MaxResults:             5,
		CourseMatchMaxDistance: 0.6,
		EmbedBatchSize:         32,
		EmbedConcurrency:       4,
		QueryCacheTTLSeconds:   3600,
	}
}

type lessonKey struct {
	course string
	lesson int
}

// snapshot is an immutable build of the index; Load swaps it in atomically.
type snapshot struct {
	chunks    []Chunk // ingestion order; the position is the bitmap id
	all       *roaring.Bitmap
	byCourse  map[string]*roaring.Bitmap
	byLesson  map[int]*roaring.Bitmap
	titles    []string
	titleVecs [][]float64
	titleTree *radix.Tree // lowercased title -> title
	links     map[lessonKey]string
}

func emptySnapshot() *snapshot {
	return &snapshot{
		all:       roaring.New(),
		byCourse:  map[string]*roaring.Bitmap{},
		byLesson:  map[int]*roaring.Bitmap{},
		titleTree: radix.New(),
		links:     map[lessonKey]string{},
	}
}

// Index is an in-memory nearest-neighbour index over course chunks with
// course and lesson filters. It is safe for concurrent Search; Load replaces
// the whole index at once.
type Index struct {
	embedder Embedder
	cache    EmbeddingCache
	opts     IndexOptions
	logger   zerolog.Logger
	metrics  *MetricsCollector
	snap     atomic.Pointer[snapshot]
}

// NewIndex creates an empty index. cache may be nil.
func NewIndex(embedder Embedder, cache EmbeddingCache, opts IndexOptions, logger zerolog.Logger) *Index {
	def := DefaultIndexOptions()
	if opts.MaxResults < 1 {
		opts.MaxResults = def.MaxResults
	}
	if opts.EmbedBatchSize < 1 {
		opts.EmbedBatchSize = def.EmbedBatchSize
	}
	if opts.EmbedConcurrency < 1 {
		opts.EmbedConcurrency = def.EmbedConcurrency
	}
	idx := &Index{
		embedder: embedder,
		cache:    cache,
		opts:     opts,
		logger:   logger.With().Str("component", "index").Logger(),
		metrics:  NewMetricsCollector(),
	}
	idx.snap.Store(emptySnapshot())
	return idx
}

// Load rebuilds the index from repo, embedding any chunk stored without a vector.
func (idx *Index) Load(ctx context.Context, repo ChunkRepository) error {
	snap, err := idx.build(ctx, repo)
	if err != nil {
		idx.metrics.RecordLoad(0, 0, err)
		return err
	}
	idx.snap.Store(snap)
	idx.metrics.RecordLoad(len(snap.chunks), len(snap.titles), nil)
	idx.logger.Info().Int("chunks", len(snap.chunks)).Int("courses", len(snap.titles)).Msg("index loaded")
	return nil
}

func (idx *Index) build(ctx context.Context, repo ChunkRepository) (*snapshot, error) {
	chunks, err := repo.LoadChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	links, err := repo.LoadLessonLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesson links: %w", err)
	}
	titles, err := repo.LoadCourseTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load course titles: %w", err)
	}

	// courses referenced only by chunks still belong in the catalog
	seen := make(map[string]bool, len(titles))
	for _, t := range titles {
		seen[t] = true
	}
	for _, c := range chunks {
		if !seen[c.CourseTitle] {
			seen[c.CourseTitle] = true
			titles = append(titles, c.CourseTitle)
		}
	}

	if err := idx.embedMissing(ctx, chunks); err != nil {
		return nil, err
	}

	snap := emptySnapshot()
	snap.chunks = chunks
	for i, c := range chunks {
		id := uint32(i)
		snap.all.Add(id)
		bitmapFor(snap.byCourse, c.CourseTitle).Add(id)
		if c.LessonNumber != nil {
			bitmapFor(snap.byLesson, *c.LessonNumber).Add(id)
		}
	}

	snap.titles = titles
	for _, t := range titles {
		snap.titleTree.Insert(strings.ToLower(strings.TrimSpace(t)), t)
	}
	if len(titles) > 0 {
		vecs, err := idx.embedder.Embed(ctx, titles)
		if err != nil {
			return nil, fmt.Errorf("failed to embed course titles: %w", err)
		}
		if len(vecs) != len(titles) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d titles", len(vecs), len(titles))
		}
		snap.titleVecs = vecs
	}

	for _, l := range links {
		if l.Link != "" {
			snap.links[lessonKey{l.CourseTitle, l.LessonNumber}] = l.Link
		}
	}
	return snap, nil
}

func bitmapFor[K comparable](m map[K]*roaring.Bitmap, key K) *roaring.Bitmap {
	b, ok := m[key]
	if !ok {
		b = roaring.New()
		m[key] = b
	}
	return b
}

// embedMissing fills Embedding for chunks that have none, in bounded parallel batches.
func (idx *Index) embedMissing(ctx context.Context, chunks []Chunk) error {
	var missing []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(idx.opts.EmbedConcurrency).
		WithCancelOnError().
		WithFirstError()

	for start := 0; start < len(missing); start += idx.opts.EmbedBatchSize {
		batch := missing[start:min(start+idx.opts.EmbedBatchSize, len(missing))]
		p.Go(func(ctx context.Context) error {
			texts := make([]string, len(batch))
			for i, ci := range batch {
				texts[i] = chunks[ci].Content
			}
			vecs, err := idx.embedder.Embed(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(batch))
			}
			for i, ci := range batch {
				chunks[ci].Embedding = vecs[i]
			}
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return err
	}
	idx.logger.Debug().Int("embedded", len(missing)).Msg("embedded chunks without vectors")
	return nil
}

// Search returns the chunks nearest to query, filtered by course and lesson.
// Failures are reported in SearchResults.Error, never as a Go error.
func (idx *Index) Search(ctx context.Context, query string, opts SearchOptions) SearchResults {
	start := time.Now()
	res := idx.search(ctx, query, opts)
	idx.metrics.RecordSearch(time.Since(start), res)
	return res
}

func (idx *Index) search(ctx context.Context, query string, opts SearchOptions) SearchResults {
	snap := idx.snap.Load()

	limit := opts.Limit
	if limit <= 0 {
		limit = idx.opts.MaxResults
	}

	candidates := snap.all
	if opts.CourseName != nil && strings.TrimSpace(*opts.CourseName) != "" {
		title, err := idx.resolveCourse(ctx, snap, *opts.CourseName)
		if err != nil {
			return FailedResults(fmt.Sprintf("Search error: %v", err))
		}
		if title == "" {
			idx.metrics.RecordUnresolvedCourse()
			return FailedResults(fmt.Sprintf("No course found matching '%s'", *opts.CourseName))
		}
		candidates = snap.byCourse[title]
		if candidates == nil {
			return EmptyResults()
		}
	}
	if opts.LessonNumber != nil {
		lessons := snap.byLesson[*opts.LessonNumber]
		if lessons == nil {
			return EmptyResults()
		}
		candidates = roaring.And(candidates, lessons)
	}
	if candidates.IsEmpty() {
		return EmptyResults()
	}

	qvec, err := idx.embedQuery(ctx, query)
	if err != nil {
		return FailedResults(fmt.Sprintf("Search error: %v", err))
	}

	type hit struct {
		id       uint32
		distance float64
	}
	hits := make([]hit, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		emb := snap.chunks[id].Embedding
		if len(emb) != len(qvec) {
			continue
		}
		hits = append(hits, hit{id: id, distance: cosineDistance(qvec, emb)})
	}

	// ids ascend in ingestion order, so a stable sort breaks ties by ingestion
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	res := EmptyResults()
	for _, h := range hits {
		c := snap.chunks[h.id]
		res.Documents = append(res.Documents, c.Content)
		res.Metadata = append(res.Metadata, ChunkMetadata{
			ChunkID:      c.ID,
			CourseTitle:  c.CourseTitle,
			LessonNumber: c.LessonNumber,
			Position:     c.Position,
		})
		res.Distances = append(res.Distances, h.distance)
	}
	return res
}

// resolveCourse returns the known title closest to name, or "" when none is
// within CourseMatchMaxDistance. An exact case-insensitive title wins outright.
func (idx *Index) resolveCourse(ctx context.Context, snap *snapshot, name string) (string, error) {
	if v, ok := snap.titleTree.Get(strings.ToLower(strings.TrimSpace(name))); ok {
		return v.(string), nil
	}
	if len(snap.titles) == 0 {
		return "", nil
	}

	vec, err := idx.embedQuery(ctx, name)
	if err != nil {
		return "", err
	}

	best, bestDist := -1, 0.0
	for i, tv := range snap.titleVecs {
		if len(tv) != len(vec) {
			continue
		}
		if d := cosineDistance(vec, tv); best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return "", nil
	}
	if idx.opts.CourseMatchMaxDistance > 0 && bestDist > idx.opts.CourseMatchMaxDistance {
		idx.logger.Debug().Str("course_name", name).Str("closest", snap.titles[best]).Float64("distance", bestDist).Msg("course name unresolved")
		return "", nil
	}
	return snap.titles[best], nil
}

func (idx *Index) embedQuery(ctx context.Context, text string) ([]float64, error) {
	if idx.cache != nil {
		if v, ok := idx.cache.Get(ctx, text); ok {
			idx.metrics.RecordCache(true)
			return v, nil
		}
		idx.metrics.RecordCache(false)
	}

	vecs, err := idx.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, errors.New("embedder returned no vector")
	}

	if idx.cache != nil {
		_ = idx.cache.Set(ctx, text, vecs[0], idx.opts.QueryCacheTTLSeconds)
	}
	return vecs[0], nil
}

// cosineDistance is 1 - cosine similarity; zero vectors are maximally distant from everything.
func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - floats.Dot(a, b)/(na*nb)
}

// GetLessonLink returns the link recorded for a lesson.
func (idx *Index) GetLessonLink(courseTitle string, lessonNumber int) (string, bool) {
	link, ok := idx.snap.Load().links[lessonKey{courseTitle, lessonNumber}]
	return link, ok
}

// CourseTitles lists known courses in catalog order.
func (idx *Index) CourseTitles() []string {
	titles := idx.snap.Load().titles
	out := make([]string, len(titles))
	copy(out, titles)
	return out
}

// CourseCount is the number of known courses.
func (idx *Index) CourseCount() int {
	return len(idx.snap.Load().titles)
}

// Metrics summarizes index activity.
func (idx *Index) Metrics() MetricsSummary {
	summary := idx.metrics.GetSummary()
	if idx.cache != nil {
		summary.QueryCacheSize = idx.cache.Len()
	}
	return summary
}
