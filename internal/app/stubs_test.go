package app_test

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"sync"

	"pdfchat/internal/ai"
	"pdfchat/internal/model"
)

// stubEmbedder derives a deterministic unit vector from the text's digest,
// so identical texts embed identically and the round-trip property holds
// under cosine similarity.
type stubEmbedder struct {
	mu         sync.Mutex
	embedCalls int
	batchCalls int
	failWith   error
}

const stubDim = 8

func deterministicVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, stubDim)
	var norm float64
	for i := 0; i < stubDim; i++ {
		v := float64(sum[i]) + 1 // strictly positive, no zero vectors
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.embedCalls++
	if e.failWith != nil {
		return nil, e.failWith
	}
	return deterministicVector(text), nil
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchCalls++
	if e.failWith != nil {
		return nil, e.failWith
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t)
	}
	return out, nil
}

// gatedEmbedder blocks every EmbedBatch call until released, signalling on
// entered first. It exposes where the pipeline is stuck, which is what the
// serialization and timeout tests need.
type gatedEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func newGatedEmbedder() *gatedEmbedder {
	return &gatedEmbedder{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (e *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.entered <- struct{}{}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.release:
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t)
	}
	return out, nil
}

// stubIndex is an in-memory vector index with call counting and brute-force
// cosine queries.
type stubIndex struct {
	mu             sync.Mutex
	records        map[string]model.VectorRecord
	upsertCalls    int
	upsertSizes    []int
	queryCalls     int
	lastQueryTopK  uint64
	deletedSources []string
	pruneCalls     int
	resetCalls     int
	failUpsert     error
	failQuery      error
}

func newStubIndex() *stubIndex {
	return &stubIndex{records: make(map[string]model.VectorRecord)}
}

func (s *stubIndex) Upsert(_ context.Context, records []model.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	s.upsertSizes = append(s.upsertSizes, len(records))
	if s.failUpsert != nil {
		return s.failUpsert
	}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (s *stubIndex) Query(_ context.Context, vector []float32, topK uint64) ([]model.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	s.lastQueryTopK = topK
	if s.failQuery != nil {
		return nil, s.failQuery
	}

	matches := make([]model.Match, 0, len(s.records))
	for _, r := range s.records {
		matches = append(matches, model.Match{
			ID:     r.ID,
			Score:  cosine(vector, r.Values),
			Text:   r.Text,
			Source: r.Source,
			Page:   r.Page,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if uint64(len(matches)) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *stubIndex) DeleteBySource(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedSources = append(s.deletedSources, source)
	for id, r := range s.records {
		if r.Source == source {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *stubIndex) PruneSource(_ context.Context, source string, fromChunk int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneCalls++
	for id, r := range s.records {
		if r.Source == source && r.Chunk >= fromChunk {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *stubIndex) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalls++
	s.records = make(map[string]model.VectorRecord)
	return nil
}

func (s *stubIndex) Stats(_ context.Context) (model.IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.IndexStats{TotalVectorCount: uint64(len(s.records)), Dimension: stubDim}, nil
}

// stubChat records prompts and answers with a canned string.
type stubChat struct {
	mu       sync.Mutex
	calls    int
	messages []ai.ChatMessage
	answer   string
	failWith error
}

func (c *stubChat) Complete(_ context.Context, messages []ai.ChatMessage) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.messages = messages
	if c.failWith != nil {
		return "", c.failWith
	}
	return c.answer, nil
}

// stubCache is an in-memory AnswerCache.
type stubCache struct {
	mu      sync.Mutex
	entries map[string]model.AnswerResult
	gets    int
	sets    int
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]model.AnswerResult)}
}

func (c *stubCache) key(query string, topK int) string {
	return fmt.Sprintf("%s|%d", query, topK)
}

func (c *stubCache) Get(_ context.Context, query string, topK int) (*model.AnswerResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if r, ok := c.entries[c.key(query, topK)]; ok {
		return &r, true, nil
	}
	return nil, false, nil
}

func (c *stubCache) Set(_ context.Context, query string, topK int, result model.AnswerResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[c.key(query, topK)] = result
	return nil
}
